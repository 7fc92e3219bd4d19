package uprobe

import (
	"sync"
	"time"
	"uprobedeploy/common"
)

// MetricMap is a flat metric snapshot.
type MetricMap map[string]float64

// MetricExporter is implemented by anything whose counters should be
// surfaced on the periodic monitor tick.
type MetricExporter interface {
	ExportMetrics() MetricMap
	MetricGroupName() string
}

var (
	metricExporters = make(map[string]MetricExporter)
	metricLock      sync.Mutex
	monitorTicker   *time.Ticker
	monitorStarted  bool
)

func RegisterMetricExporter(e MetricExporter) {
	if e == nil {
		return
	}
	metricLock.Lock()
	defer metricLock.Unlock()
	metricExporters[e.MetricGroupName()] = e
}

func UnregisterMetricExporter(e MetricExporter) {
	if e == nil {
		return
	}
	metricLock.Lock()
	defer metricLock.Unlock()
	delete(metricExporters, e.MetricGroupName())
}

// StartMonitor begins the periodic tick loop that logs every registered
// exporter's snapshot. It is a no-op if already started.
func StartMonitor(interval time.Duration) {
	metricLock.Lock()
	if monitorStarted {
		metricLock.Unlock()
		return
	}
	monitorStarted = true
	monitorTicker = time.NewTicker(interval)
	metricLock.Unlock()

	go func() {
		for t := range monitorTicker.C {
			common.UprobeLog.Debugln("monitor tick at", t)
			metricLock.Lock()
			exporters := make([]MetricExporter, 0, len(metricExporters))
			for _, e := range metricExporters {
				exporters = append(exporters, e)
			}
			metricLock.Unlock()
			for _, e := range exporters {
				common.UprobeLog.Debugf("[%s] %v", e.MetricGroupName(), e.ExportMetrics())
				if dumper, ok := e.(interface{ DumpProbedBinaries() []string }); ok {
					common.UprobeLog.Debugf("[%s] probed binaries: %v", e.MetricGroupName(), dumper.DumpProbedBinaries())
				}
			}
		}
	}()
}

// OrchestratorMetricExporter adapts an Orchestrator's counters to
// MetricExporter: tracked-process count, per-family probed-binary counts,
// cumulative attachment count, and the duration of the most recent Deploy
// pass.
type OrchestratorMetricExporter struct {
	orch    *Orchestrator
	tracker *ProcessTracker
}

func NewOrchestratorMetricExporter(orch *Orchestrator, tracker *ProcessTracker) *OrchestratorMetricExporter {
	return &OrchestratorMetricExporter{orch: orch, tracker: tracker}
}

func (e *OrchestratorMetricExporter) ExportMetrics() MetricMap {
	return MetricMap{
		"tracked_processes":       float64(len(e.tracker.Current())),
		"probed_openssl_binaries": float64(e.orch.ProbedOpenSSLBinaryCount()),
		"probed_go_binaries":      float64(e.orch.ProbedGoBinaryCount()),
		"total_attached_probes":   float64(e.orch.TotalAttached()),
		"last_pass_duration_ms":   float64(e.orch.LastPassDuration().Milliseconds()),
	}
}

func (e *OrchestratorMetricExporter) MetricGroupName() string {
	return "uprobe_deployment"
}

// DumpProbedBinaries exposes the orchestrator's probed-binary generations in
// attach order, for an operator inspecting which binaries this engine has
// deployed onto so far.
func (e *OrchestratorMetricExporter) DumpProbedBinaries() []string {
	return e.orch.DumpProbedBinaries()
}
