package uprobe

import (
	"fmt"
	"sync"
	"uprobedeploy/common"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
)

// KernelBackend is the seam between this engine and the kernel-
// instrumentation layer: the Probe Attacher (C5) registers probe specs
// through it, and the Symbol Address Resolver (C4) publishes per-family
// records through it. Tests substitute a FakeBackend for it.
type KernelBackend interface {
	Attach(spec ProbeSpec) error
	WriteRecord(family Family, pid uint32, record any) error
	RemoveRecord(family Family, pid uint32) error
}

// UprobeObjects is the set of loaded BPF programs and per-family record
// maps this engine attaches and publishes to. In a full deployment this is
// populated by loading the compiled object file built from the kernel-side
// probe source — the in-kernel probe behavior itself belongs to that
// object, not to this engine; what this engine owns is wiring attachment
// and table updates against whatever object set was loaded.
type UprobeObjects struct {
	Programs map[string]*ebpf.Program
	Maps     map[Family]*ebpf.Map
}

func (o *UprobeObjects) program(name string) (*ebpf.Program, bool) {
	p, ok := o.Programs[name]
	return p, ok
}

// EbpfBackend is the production KernelBackend, built on
// github.com/cilium/ebpf and github.com/cilium/ebpf/link the same way the
// standard way of attaching probes: link.OpenExecutable
// followed by Uprobe/Uretprobe against a loaded *ebpf.Program.
type EbpfBackend struct {
	objs *UprobeObjects

	mu    sync.Mutex
	links map[string][]link.Link // keyed by binary path, closed on Shutdown
}

func NewEbpfBackend(objs *UprobeObjects) *EbpfBackend {
	return &EbpfBackend{objs: objs, links: make(map[string][]link.Link)}
}

func (b *EbpfBackend) Attach(spec ProbeSpec) error {
	prog, ok := b.objs.program(spec.HandlerName)
	if !ok {
		return common.NewProbeAttachFailedError(fmt.Sprintf("no loaded program for handler %s", spec.HandlerName))
	}

	exe, err := link.OpenExecutable(spec.BinaryPath)
	if err != nil {
		return common.NewProbeAttachFailedError(fmt.Sprintf("open executable %s: %v", spec.BinaryPath, err))
	}

	var opts *link.UprobeOptions
	if spec.UseAddress {
		opts = &link.UprobeOptions{Address: spec.Address}
	}

	var l link.Link
	if spec.AttachMode == AttachReturnByPrologue {
		l, err = exe.Uretprobe(spec.SymbolName, prog, opts)
	} else {
		l, err = exe.Uprobe(spec.SymbolName, prog, opts)
	}
	if err != nil {
		return common.NewProbeAttachFailedError(fmt.Sprintf("attach %s on %s: %v", spec.HandlerName, spec.BinaryPath, err))
	}

	b.mu.Lock()
	b.links[spec.BinaryPath] = append(b.links[spec.BinaryPath], l)
	b.mu.Unlock()
	return nil
}

func (b *EbpfBackend) WriteRecord(family Family, pid uint32, record any) error {
	m, ok := b.objs.Maps[family]
	if !ok {
		return common.NewTableUpdateFailedError(fmt.Sprintf("no symbol table map loaded for family %s", family))
	}
	if err := m.Update(pid, record, ebpf.UpdateAny); err != nil {
		return common.NewTableUpdateFailedError(fmt.Sprintf("update %s table for pid %d: %v", family, pid, err))
	}
	return nil
}

func (b *EbpfBackend) RemoveRecord(family Family, pid uint32) error {
	m, ok := b.objs.Maps[family]
	if !ok {
		return nil
	}
	if err := m.Delete(pid); err != nil {
		return common.NewTableUpdateFailedError(fmt.Sprintf("remove %s entry for pid %d: %v", family, pid, err))
	}
	return nil
}

// Shutdown closes every link this backend opened.
func (b *EbpfBackend) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, links := range b.links {
		for _, l := range links {
			l.Close()
		}
	}
	b.links = make(map[string][]link.Link)
}

// NoopBackend logs every call instead of touching the kernel. It exists so
// the engine can run (and its process/path-resolution/symbol-resolution
// logic can be exercised end to end) without a compiled kernel-side object
// file present, which is routine during development or when only the
// deployment decisions, not the actual tracing, are of interest.
type NoopBackend struct{}

func (NoopBackend) Attach(spec ProbeSpec) error {
	common.UprobeLog.Debugf("noop backend: would attach %s on %s", spec.HandlerName, spec.BinaryPath)
	return nil
}

func (NoopBackend) WriteRecord(family Family, pid uint32, record any) error {
	common.UprobeLog.Debugf("noop backend: would write %s record for pid %d", family, pid)
	return nil
}

func (NoopBackend) RemoveRecord(family Family, pid uint32) error {
	return nil
}
