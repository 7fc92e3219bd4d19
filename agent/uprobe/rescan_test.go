package uprobe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRescanEligibility(t *testing.T) {
	tracker := NewProcessTracker()
	tracker.Update(NewProcessSet(upid(1), upid(2)))
	// second update: pid 2 stays current (not new), pid 3 is new.
	tracker.Update(NewProcessSet(upid(1), upid(2), upid(3)))

	events := NewMmapEventStore()
	events.Record(upid(2)) // current, not new -> eligible
	events.Record(upid(3)) // current, but new -> not eligible
	events.Record(upid(9)) // not current at all -> not eligible

	detector := NewRescanDetector(events, tracker)
	out := detector.DrainPidsToRescan()

	assert.True(t, out.Contains(upid(2)), "expected pid 2 eligible for rescan")
	assert.False(t, out.Contains(upid(3)), "pid 3 is new-since-last-update, should not be eligible")
	assert.False(t, out.Contains(upid(9)), "pid 9 is not current, should not be eligible")

	// drain is destructive
	again := detector.DrainPidsToRescan()
	assert.Empty(t, again, "second drain should be empty")
}
