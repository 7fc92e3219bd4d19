package uprobe

import (
	"fmt"
	"sync"
	"time"
	"uprobedeploy/common"

	"github.com/emirpasic/gods/maps/treemap"
)

// OrchestratorOptions holds the toggles the deployment loop consults on
// every pass.
type OrchestratorOptions struct {
	HTTP2TracingEnabled bool
	SelfProbingDisabled bool
	SelfPID             uint32
	// SelfExePath, when set, additionally exempts any process whose
	// resolved host binary matches it from probing, even under a different
	// pid — covering a forked/re-executed agent that the SelfPID check
	// alone would miss.
	SelfExePath string
}

// Orchestrator is the Deployment Orchestrator (C8): it drives one exclusive
// Deploy pass per observation, coordinating the process tracker, the path
// resolver, the binary reader, the symbol address resolvers, and the probe
// attacher against a KernelBackend, including its documented cleanup
// asymmetry (see cleanupDeletedProcesses below).
type Orchestrator struct {
	mu sync.Mutex

	opts    OrchestratorOptions
	backend KernelBackend
	tracker *ProcessTracker
	rescan  *RescanDetector
	inspect *ProcInspector

	// probedOpenSSLBinaries, probedGoTLSBinaries, and probedGoHTTP2Binaries
	// gate re-attachment: once a (binary path) has had a family's templates
	// attached, later pids sharing that binary only need a per-pid record
	// write, not a second attach pass. probedOpenSSLBinaries additionally
	// caches the resolved record so that write can happen without
	// re-resolving it from the library every time. Go-TLS and Go-HTTP/2 are
	// tracked in separate sets, keyed on the same binary path, because they
	// are independently gated: enabling HTTP2 tracing after a binary has
	// already had Go-TLS attached must still let Go-HTTP/2 attach without
	// re-attaching Go-TLS.
	probedOpenSSLBinaries map[string]OpenSSLSymAddrs
	probedGoTLSBinaries   map[string]bool
	probedGoHTTP2Binaries map[string]bool

	// probeGenerations records, in attach order, which binary each newly
	// probed generation belongs to, keyed by a monotonically increasing
	// generation number. A treemap keeps diagnostic dumps ordered by attach
	// order without re-sorting a plain map's keys on every dump.
	probeGenerations *treemap.Map
	nextGeneration   int

	totalAttached    int
	lastPassDuration time.Duration
}

func NewOrchestrator(opts OrchestratorOptions, backend KernelBackend, tracker *ProcessTracker, rescan *RescanDetector) *Orchestrator {
	return &Orchestrator{
		opts:                  opts,
		backend:               backend,
		tracker:               tracker,
		rescan:                rescan,
		inspect:               NewProcInspector(),
		probedOpenSSLBinaries: make(map[string]OpenSSLSymAddrs),
		probedGoTLSBinaries:   make(map[string]bool),
		probedGoHTTP2Binaries: make(map[string]bool),
		probeGenerations:      treemap.NewWithIntComparator(),
	}
}

// recordGeneration appends label (e.g. "openssl:/lib/libssl.so.3") as the
// next probed-binary generation, for DumpProbedBinaries diagnostics. Callers
// already hold o.mu (it is only called from within Deploy's call tree).
func (o *Orchestrator) recordGeneration(label string) {
	o.probeGenerations.Put(o.nextGeneration, label)
	o.nextGeneration++
}

// DumpProbedBinaries returns every probed-binary label in attach order,
// oldest generation first — a diagnostic view of what this orchestrator has
// deployed onto over its lifetime, independent of the gating maps' own
// (unordered) iteration order.
func (o *Orchestrator) DumpProbedBinaries() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	labels := make([]string, 0, o.probeGenerations.Size())
	it := o.probeGenerations.Iterator()
	for it.Next() {
		labels = append(labels, it.Value().(string))
	}
	return labels
}

// Deploy runs one full observation-to-attachment pass. It holds an internal
// mutex for its whole duration, enforcing a single-writer discipline:
// concurrent scan ticks never interleave.
func (o *Orchestrator) Deploy(observed ProcessSet) {
	o.mu.Lock()
	defer o.mu.Unlock()

	start := time.Now()
	defer func() { o.lastPassDuration = time.Since(start) }()

	o.tracker.Update(observed)
	o.cleanupDeletedProcesses(o.tracker.Deleted())

	toScanForOpenSSL := o.tracker.New()
	if o.rescan != nil {
		for u := range o.rescan.DrainPidsToRescan() {
			toScanForOpenSSL.Add(u)
		}
	}
	o.deployOpenSSLUProbes(toScanForOpenSSL)
	o.deployGoUProbes(o.tracker.New())
}

// LastPassDuration reports how long the most recently completed Deploy call
// took.
func (o *Orchestrator) LastPassDuration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPassDuration
}

// cleanupDeletedProcesses removes a departed process's per-family records.
// Only the Go-HTTP/2 table is actually cleared here: the OpenSSL, Go-common,
// and Go-TLS tables accumulate stale entries for exited pids indefinitely.
// That asymmetry is deliberate — see DESIGN.md.
func (o *Orchestrator) cleanupDeletedProcesses(deleted ProcessSet) {
	for u := range deleted {
		_ = o.backend.RemoveRecord(FamilyGoHTTP2, u.PID)
	}
}

// isSelf reports whether pid is the agent's own process, either by pid
// (a plain getpid() comparison) or by resolved executable
// identity (a forked/re-executed agent under a different pid).
func (o *Orchestrator) isSelf(pid int, upid uint32) bool {
	if !o.opts.SelfProbingDisabled {
		return false
	}
	if upid == o.opts.SelfPID {
		return true
	}
	if o.opts.SelfExePath == "" {
		return false
	}
	exe, err := o.inspect.Executable(pid)
	return err == nil && exe == o.opts.SelfExePath
}

func (o *Orchestrator) deployOpenSSLUProbes(pids ProcessSet) {
	resolver := NewPathResolver(0)
	for u := range pids {
		pid := int(u.PID)
		if o.isSelf(pid, u.PID) {
			continue
		}

		resolver.Rebind(pid)
		libssl, libcrypto, ok, err := FindLibraryPaths(pid, resolver)
		if err != nil {
			common.AgentLog.Debugf("openssl library resolution failed for pid %d: %v", pid, err)
			continue
		}
		if !ok {
			continue
		}

		rec, attachErr := o.ensureOpenSSLAttached(libssl, libcrypto)
		if attachErr != nil {
			common.UprobeLog.Warningf("openssl attach failed for %s: %v", libssl, attachErr)
			continue
		}

		if err := o.backend.WriteRecord(FamilyOpenSSL, u.PID, rec); err != nil {
			common.UprobeLog.Debugf("openssl table write failed for pid %d: %v", pid, err)
		}
	}
}

// ensureOpenSSLAttached resolves libcrypto's offset record and attaches the
// OpenSSL probe templates against libssl at most once per libssl path,
// returning the cached record on every later call for the same binary.
// SSL_write/SSL_read are exported by libssl, not libcrypto — the two shared
// objects have disjoint symbol tables, so the probe templates must be
// attached against an ElfReader opened on libssl. The symbol-offset record
// (SSLRBIOOffset etc.) still comes from libcrypto, which owns struct
// ssl_st/bio_st's layout.
func (o *Orchestrator) ensureOpenSSLAttached(libssl, libcrypto string) (OpenSSLSymAddrs, error) {
	if rec, known := o.probedOpenSSLBinaries[libssl]; known {
		return rec, nil
	}

	rec, err := ResolveOpenSSLSymAddrs(libcrypto)
	if err != nil {
		return OpenSSLSymAddrs{}, fmt.Errorf("openssl symaddrs incomplete for %s: %w", libcrypto, err)
	}

	reader, err := OpenElfReader(libssl)
	if err != nil {
		return OpenSSLSymAddrs{}, fmt.Errorf("openssl elf open failed for %s: %w", libssl, err)
	}
	defer reader.Close()

	result, err := AttachTemplates(reader, libssl, openSSLProbeTemplates, o.backend)
	if err != nil {
		return OpenSSLSymAddrs{}, fmt.Errorf("openssl probe attach failed for %s: %w", libssl, err)
	}

	o.totalAttached += result.Attached
	o.probedOpenSSLBinaries[libssl] = rec
	o.recordGeneration("openssl:" + libssl)
	return rec, nil
}

func (o *Orchestrator) deployGoUProbes(pids ProcessSet) {
	resolver := NewPathResolver(0)
	byBinary := make(map[string][]UPID)

	for u := range pids {
		pid := int(u.PID)
		if o.isSelf(pid, u.PID) {
			continue
		}
		hostExe, err := o.resolveGoExecutable(pid, resolver)
		if err != nil {
			continue
		}
		byBinary[hostExe] = append(byBinary[hostExe], u)
	}

	for hostExe, upids := range byBinary {
		isGo, err := common.IsGoExecutable(hostExe)
		if err != nil || !isGo {
			continue
		}

		needTLS := !o.probedGoTLSBinaries[hostExe]
		needHTTP2 := o.opts.HTTP2TracingEnabled && !o.probedGoHTTP2Binaries[hostExe]
		if needTLS || needHTTP2 {
			if err := o.verifyGoCommonResolvable(hostExe); err != nil {
				common.UprobeLog.Warningf("go-common symaddrs unresolvable for %s, skipping binary: %v", hostExe, err)
				continue
			}
			if err := o.attachGoFamilies(hostExe); err != nil {
				common.UprobeLog.Warningf("go probe attach failed for %s: %v", hostExe, err)
				continue
			}
		}

		o.publishGoSymAddrs(hostExe, upids)
	}
}

// verifyGoCommonResolvable confirms hostExe's mandatory Go-common symbols
// resolve before any Go-TLS or Go-HTTP/2 probe is attached to it. Those
// families read offsets that Go-common's resolution also depends on, so a
// binary that fails here (stripped itabs, an unresolvable
// internal/poll.FD.Sysfd offset) must be skipped entirely rather than left
// half-probed and permanently marked done.
func (o *Orchestrator) verifyGoCommonResolvable(hostExe string) error {
	reader, err := OpenElfReader(hostExe)
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = ResolveGoCommonSymAddrs(reader)
	return err
}

// publishGoSymAddrs resolves hostExe's Go symbol-offset records once and
// writes them into every pid currently running that binary: the offsets
// are a property of the binary, but the kernel-side tables are keyed by
// pid, so each sharing process still needs its own entry.
func (o *Orchestrator) publishGoSymAddrs(hostExe string, upids []UPID) {
	reader, err := OpenElfReader(hostExe)
	if err != nil {
		return
	}
	defer reader.Close()

	goVersion, err := common.ExtraceGoVersion(hostExe)
	if err != nil {
		return
	}

	commonAddrs, commonErr := ResolveGoCommonSymAddrs(reader)
	tlsAddrs, tlsErr := ResolveGoTLSSymAddrs(reader, goVersion)
	var http2Addrs GoHTTP2SymAddrs
	var http2Err error = common.NewSymbolsIncompleteError("http2 tracing disabled")
	if o.opts.HTTP2TracingEnabled {
		http2Addrs, http2Err = ResolveGoHTTP2SymAddrs(reader, goVersion)
	}

	for _, u := range upids {
		if commonErr == nil {
			if err := o.backend.WriteRecord(FamilyGoCommon, u.PID, commonAddrs); err != nil {
				common.UprobeLog.Debugf("go_common table write failed for pid %d: %v", u.PID, err)
			}
		}
		if tlsErr == nil {
			if err := o.backend.WriteRecord(FamilyGoTLS, u.PID, tlsAddrs); err != nil {
				common.UprobeLog.Debugf("go_tls table write failed for pid %d: %v", u.PID, err)
			}
		}
		if http2Err == nil {
			if err := o.backend.WriteRecord(FamilyGoHTTP2, u.PID, http2Addrs); err != nil {
				common.UprobeLog.Debugf("go_http2 table write failed for pid %d: %v", u.PID, err)
			}
		}
	}
}

func (o *Orchestrator) resolveGoExecutable(pid int, resolver *PathResolver) (string, error) {
	exe, err := o.inspect.Executable(pid)
	if err != nil {
		return "", err
	}
	resolver.Rebind(pid)
	return resolver.Resolve(exe)
}

// attachGoFamilies attaches whichever of the Go-TLS / Go-HTTP/2 probe
// template sets hostExe hasn't already received, per o.probedGoTLSBinaries
// and o.probedGoHTTP2Binaries. The two families are gated independently: a
// binary that was probed while HTTP2 tracing was disabled still gets its
// Go-HTTP/2 probes attached here once tracing is enabled and this binary is
// observed again, without re-attaching Go-TLS.
func (o *Orchestrator) attachGoFamilies(hostExe string) error {
	needTLS := !o.probedGoTLSBinaries[hostExe]
	needHTTP2 := o.opts.HTTP2TracingEnabled && !o.probedGoHTTP2Binaries[hostExe]
	if !needTLS && !needHTTP2 {
		return nil
	}

	reader, err := OpenElfReader(hostExe)
	if err != nil {
		return err
	}
	defer reader.Close()

	if needTLS {
		tlsResult, err := AttachTemplates(reader, hostExe, goTLSProbeTemplates, o.backend)
		if err != nil {
			return err
		}
		o.totalAttached += tlsResult.Attached
		o.probedGoTLSBinaries[hostExe] = true
		o.recordGeneration("go-tls:" + hostExe)
	}

	if needHTTP2 {
		http2Result, err := AttachTemplates(reader, hostExe, goHTTP2ProbeTemplates, o.backend)
		if err != nil {
			common.UprobeLog.Debugf("go_http2 attach failed for %s: %v", hostExe, err)
		} else {
			o.totalAttached += http2Result.Attached
			o.probedGoHTTP2Binaries[hostExe] = true
			o.recordGeneration("go-http2:" + hostExe)
		}
	}

	return nil
}

// TotalAttached reports the cumulative number of successful Attach calls
// this orchestrator has made across its lifetime, used by the monitor.
func (o *Orchestrator) TotalAttached() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalAttached
}

// ProbedOpenSSLBinaryCount and ProbedGoBinaryCount back the monitor's
// per-family probed-binary gauges.
func (o *Orchestrator) ProbedOpenSSLBinaryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.probedOpenSSLBinaries)
}

// TotalAttached and the probed-binary counters are read without holding o.mu
// from within Deploy itself (they are only mutated there), so external
// callers (the monitor) taking the lock is purely for cross-goroutine safety.

// ProbedGoBinaryCount reports the Go-TLS probed-binary count: Go-TLS is
// attached to every probed Go binary regardless of HTTP2 tracing, so it is
// the representative count for "how many Go binaries has this engine
// probed" (the Go-HTTP/2 count, a subset gated independently, is not
// separately exported here).
func (o *Orchestrator) ProbedGoBinaryCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.probedGoTLSBinaries)
}
