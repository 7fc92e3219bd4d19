package uprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func upid(pid uint32) UPID {
	return UPID{ASID: 1, PID: pid, StartTimeTicks: 100}
}

func TestProcessTrackerPartition(t *testing.T) {
	tracker := NewProcessTracker()

	o1 := NewProcessSet(upid(1), upid(2))
	tracker.Update(o1)
	assertSetEqual(t, "current@1", tracker.Current(), o1)
	assertSetEqual(t, "new@1", tracker.New(), o1)
	assertSetEqual(t, "deleted@1", tracker.Deleted(), NewProcessSet())

	o2 := NewProcessSet(upid(2), upid(3))
	tracker.Update(o2)
	assertSetEqual(t, "current@2", tracker.Current(), o2)
	assertSetEqual(t, "new@2", tracker.New(), NewProcessSet(upid(3)))
	assertSetEqual(t, "deleted@2", tracker.Deleted(), NewProcessSet(upid(1)))

	o3 := NewProcessSet(upid(2), upid(3))
	tracker.Update(o3)
	assertSetEqual(t, "new@3", tracker.New(), NewProcessSet())
	assertSetEqual(t, "deleted@3", tracker.Deleted(), NewProcessSet())
}

func assertSetEqual(t *testing.T, label string, got, want ProcessSet) {
	t.Helper()
	if !assert.Lenf(t, got, len(want), "%s: got %v, want %v", label, got, want) {
		return
	}
	for u := range want {
		assert.Truef(t, got.Contains(u), "%s: got %v, want %v", label, got, want)
	}
}
