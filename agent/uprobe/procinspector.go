package uprobe

import (
	"fmt"
	"os"
	"uprobedeploy/common"
)

// ProcInspector is a pure reader over /proc/<pid>, giving a point-in-time
// snapshot of a process's executable path and mapped files. It never mixes
// state between two processes, but a caller spanning multiple calls has no
// stronger atomicity guarantee than that.
type ProcInspector struct{}

func NewProcInspector() *ProcInspector {
	return &ProcInspector{}
}

// Executable returns the path of pid's main executable image, as pid
// itself would see it (i.e. relative to pid's own mount namespace — callers
// needing a host-openable path must still run it through PathResolver).
func (ProcInspector) Executable(pid int) (string, error) {
	if !processExists(pid) {
		return "", common.NewProcessGoneError(fmt.Sprintf("pid %d gone", pid))
	}
	path, err := common.GetExecutablePathFromPid(pid)
	if err != nil {
		if !processExists(pid) {
			return "", common.NewProcessGoneError(fmt.Sprintf("pid %d gone: %v", pid, err))
		}
		return "", err
	}
	return path, nil
}

// MappedPaths returns every distinct file-backed region currently mapped
// into pid.
func (ProcInspector) MappedPaths(pid int) ([]string, error) {
	if !processExists(pid) {
		return nil, common.NewProcessGoneError(fmt.Sprintf("pid %d gone", pid))
	}
	paths := common.GetMapPaths(pid)
	if paths == nil && !processExists(pid) {
		return nil, common.NewProcessGoneError(fmt.Sprintf("pid %d gone mid-read", pid))
	}
	fileBacked := make([]string, 0, len(paths))
	for _, p := range paths {
		// Pseudo-regions such as [heap], [stack] and [vdso] are not files.
		if len(p) > 0 && p[0] == '/' {
			fileBacked = append(fileBacked, p)
		}
	}
	return dedupe(fileBacked), nil
}

func processExists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
