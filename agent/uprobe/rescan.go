package uprobe

import "sync"

// MmapEventStore holds the mmap-event entries populated kernel-side: an
// unordered mapping from pid to a boolean marker. Draining is destructive,
// matching the kernel side's own hash-table semantics, and tolerant of
// concurrent kernel-side inserts racing a drain (a duplicate insert across
// two drains is harmless; see RescanDetector).
type MmapEventStore struct {
	mu      sync.Mutex
	entries map[UPID]bool
}

func NewMmapEventStore() *MmapEventStore {
	return &MmapEventStore{entries: make(map[UPID]bool)}
}

// Record marks upid as having performed an mmap operation since the last
// drain. Called from the ring-buffer reader goroutine that consumes the
// kernel-side mmap notification.
func (s *MmapEventStore) Record(upid UPID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[upid] = true
}

// drain destructively empties the store and returns every pid it held.
func (s *MmapEventStore) drain() []UPID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UPID, 0, len(s.entries))
	for u := range s.entries {
		out = append(out, u)
	}
	s.entries = make(map[UPID]bool)
	return out
}

// RescanDetector decides, from the raw mmap-event drain, which processes
// genuinely need a second OpenSSL-pass inspection: a process may dlopen
// libssl long after its initial scan, and the kernel-side mmap probe is
// what tells the engine to look again.
type RescanDetector struct {
	events  *MmapEventStore
	tracker *ProcessTracker
}

func NewRescanDetector(events *MmapEventStore, tracker *ProcessTracker) *RescanDetector {
	return &RescanDetector{events: events, tracker: tracker}
}

// DrainPidsToRescan destructively drains the mmap-event store and keeps
// only pids that are in the tracker's current set and not already in its
// new set (those are already being scanned by the normal new-process path).
func (d *RescanDetector) DrainPidsToRescan() ProcessSet {
	drained := d.events.drain()
	current := d.tracker.Current()
	fresh := d.tracker.New()

	result := NewProcessSet()
	for _, u := range drained {
		if current.Contains(u) && !fresh.Contains(u) {
			result.Add(u)
		}
	}
	return result
}
