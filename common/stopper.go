package common

import (
	"sync"
	"time"
)

var (
	stopperMu    sync.Mutex
	fastStoppers []chan int
	slowStoppers []chan int
)

// AddToFastStopper registers a channel that must be signalled before the
// slow stoppers are, e.g. the scan-loop ticker that has to stop issuing new
// Deploy passes before in-flight ones are given time to drain.
func AddToFastStopper(c chan int) {
	stopperMu.Lock()
	defer stopperMu.Unlock()
	fastStoppers = append(fastStoppers, c)
}

func AddToSlowStopper(c chan int) {
	stopperMu.Lock()
	defer stopperMu.Unlock()
	slowStoppers = append(slowStoppers, c)
}

// SendStopSignal signals all fast stoppers, gives in-flight work a moment to
// notice, then signals the slow stoppers.
func SendStopSignal() {
	stopperMu.Lock()
	fast := append([]chan int{}, fastStoppers...)
	slow := append([]chan int{}, slowStoppers...)
	stopperMu.Unlock()

	DefaultLog.Debugf("%d fast stoppers need to be signalled", len(fast))
	for _, s := range fast {
		s <- 1
	}
	time.Sleep(500 * time.Millisecond)
	DefaultLog.Debugf("%d slow stoppers need to be signalled", len(slow))
	for _, s := range slow {
		s <- 1
	}
}
