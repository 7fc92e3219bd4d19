package metadata

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"uprobedeploy/common"
)

var cleanupTimeout = 5 * time.Second

// PIDInfo is a point-in-time snapshot this cache keeps per tracked pid: its
// network namespace inode and the wall-clock time it was first observed.
// The orchestrator does not consult it; its pid-reuse protection comes from
// the start-time coordinate of each UPID (see StartTimeTicks).
type PIDInfo struct {
	PID       int
	NetNS     uint64
	Timestamp time.Time
}

var (
	HostMntNs uint64
	HostPidNs uint64
	HostNetNs uint64

	pidCache sync.Map
	deadPids sync.Map
	cacheLock sync.Mutex
)

func init() {
	if ns, err := common.GetPidNamespaceFromPid(1); err == nil {
		HostPidNs = ns
	} else {
		common.DefaultLog.Warningf("resolve host pid namespace: %v", err)
	}
	if ns, err := common.GetMountNamespaceFromPid(1); err == nil {
		HostMntNs = ns
	} else {
		common.DefaultLog.Warningf("resolve host mount namespace: %v", err)
	}
	if ns, err := common.GetNetworkNamespaceFromPid(1); err == nil {
		HostNetNs = ns
	} else {
		common.DefaultLog.Warningf("resolve host network namespace: %v", err)
	}

	go func() {
		for range time.Tick(1 * time.Second) {
			cleanupDeadPIDs()
		}
	}()
}

// Track records pid as live, called by the agent's scan loop for every pid
// gopsutil reports.
func Track(pid int) {
	cacheLock.Lock()
	defer cacheLock.Unlock()
	if _, exists := pidCache.Load(pid); exists {
		return
	}
	netns, err := common.GetNetworkNamespaceFromPid(pid)
	if err != nil {
		netns = 0
	}
	common.AgentLog.Debugf("start tracking pid %d, netns: %d", pid, netns)
	pidCache.Store(pid, PIDInfo{PID: pid, NetNS: netns, Timestamp: time.Now()})
}

// Untrack moves pid from the live cache into the short-lived dead-pid cache,
// which GetPidInfo still consults for a grace period after exit.
func Untrack(pid int) {
	cacheLock.Lock()
	defer cacheLock.Unlock()
	if info, exists := pidCache.Load(pid); exists {
		pidCache.Delete(pid)
		pidInfo := info.(PIDInfo)
		pidInfo.Timestamp = time.Now()
		deadPids.Store(pid, pidInfo)
		common.AgentLog.Debugf("stop tracking pid %d", pid)
	}
}

func cleanupDeadPIDs() {
	cacheLock.Lock()
	defer cacheLock.Unlock()
	now := time.Now()
	deadPids.Range(func(key, value interface{}) bool {
		info := value.(PIDInfo)
		if now.Sub(info.Timestamp) > cleanupTimeout {
			deadPids.Delete(key)
		}
		return true
	})
}

func GetPidInfo(pid int) PIDInfo {
	if info, exists := pidCache.Load(pid); exists {
		return info.(PIDInfo)
	}
	if info, exists := deadPids.Load(pid); exists {
		return info.(PIDInfo)
	}
	return PIDInfo{}
}

// StartTimeTicks reads field 22 of /proc/<pid>/stat, the process's start
// time in clock ticks since boot. This is the third coordinate of a UPID:
// pid alone is reused by the kernel across the life of a host, but
// (pid, start-time-ticks) is stable for as long as that pid's process lives.
func StartTimeTicks(pid int) (uint64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty /proc/%d/stat", pid)
	}
	line := scanner.Text()

	// The comm field (2nd field) is parenthesized and may itself contain
	// spaces or parentheses, so field-splitting only becomes safe after the
	// last ')'.
	closeParen := strings.LastIndex(line, ")")
	if closeParen < 0 {
		return 0, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	rest := strings.Fields(line[closeParen+1:])
	// rest[0] is field 3 (state); field 22 is therefore rest[22-3] = rest[19].
	const startTimeIndex = 19
	if len(rest) <= startTimeIndex {
		return 0, fmt.Errorf("unexpected /proc/%d/stat field count", pid)
	}
	return strconv.ParseUint(rest[startTimeIndex], 10, 64)
}
