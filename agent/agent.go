package agent

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"uprobedeploy/agent/metadata"
	"uprobedeploy/agent/uprobe"
	"uprobedeploy/common"
)

// Agent owns the background scan loop: on every tick it enumerates live
// pids, converts them to this engine's UPID identity, and launches an
// Orchestrator.Deploy pass on a goroutine rather than a dedicated
// long-lived deployment thread; the orchestrator's own mutex (C8) still
// serializes the actual deployment work if a tick ever outruns the
// previous one.
type Agent struct {
	opts      AgentOptions
	orch      *uprobe.Orchestrator
	tracker   *uprobe.ProcessTracker
	mmapStore *uprobe.MmapEventStore
	stopper   chan int

	numDeployWorkers atomic.Int64
}

func NewAgent(opts AgentOptions, backend uprobe.KernelBackend) *Agent {
	tracker := uprobe.NewProcessTracker()

	var rescan *uprobe.RescanDetector
	var mmapStore *uprobe.MmapEventStore
	if opts.RescanForDlopen {
		mmapStore = uprobe.NewMmapEventStore()
		rescan = uprobe.NewRescanDetector(mmapStore, tracker)
	}

	selfExe, _ := os.Executable()
	orchOpts := uprobe.OrchestratorOptions{
		HTTP2TracingEnabled: opts.HTTP2TracingEnabled,
		SelfProbingDisabled: opts.SelfProbingDisabled,
		SelfPID:             uint32(os.Getpid()),
		SelfExePath:         selfExe,
	}
	orch := uprobe.NewOrchestrator(orchOpts, backend, tracker, rescan)
	uprobe.RegisterMetricExporter(uprobe.NewOrchestratorMetricExporter(orch, tracker))

	stopper := make(chan int)
	common.AddToFastStopper(stopper)

	return &Agent{opts: opts, orch: orch, tracker: tracker, mmapStore: mmapStore, stopper: stopper}
}

// MmapEvents exposes this agent's mmap-event store, the seam a kernel-side
// ring-buffer reader would record dlopen()-triggered mmap notifications
// into; nil if rescan-for-dlopen is disabled.
func (a *Agent) MmapEvents() *uprobe.MmapEventStore {
	return a.mmapStore
}

// Run blocks until ctx is cancelled, ticking every opts.ScanInterval and
// launching one Deploy pass per tick. A slow pass never blocks the ticker;
// numDeployWorkers tracks how many passes are currently in flight.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopper:
			return
		case <-ticker.C:
			observed, err := a.observeProcesses()
			if err != nil {
				common.AgentLog.Warningf("process enumeration failed: %v", err)
				continue
			}
			a.numDeployWorkers.Add(1)
			go func() {
				defer a.numDeployWorkers.Add(-1)
				a.orch.Deploy(observed)
			}()
		}
	}
}

// NumDeployWorkers reports how many Deploy passes are currently running.
func (a *Agent) NumDeployWorkers() int64 {
	return a.numDeployWorkers.Load()
}

func (a *Agent) observeProcesses() (uprobe.ProcessSet, error) {
	pids, err := common.GetAllPids()
	if err != nil {
		return nil, err
	}

	result := uprobe.NewProcessSet()
	for _, pid32 := range pids {
		pid := int(pid32)
		metadata.Track(pid)

		startTicks, err := metadata.StartTimeTicks(pid)
		if err != nil {
			// Process exited between enumeration and this lookup; drop it
			// from this pass rather than fail the whole observation.
			continue
		}
		result.Add(uprobe.UPID{ASID: a.opts.ASID, PID: uint32(pid), StartTimeTicks: startTicks})
	}
	return result, nil
}
