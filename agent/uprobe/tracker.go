package uprobe

import "sync"

// ProcessTracker maintains the evolving current/new/deleted sets of live
// processes across successive observations. A single Update call atomically
// recomputes all three; the caller never needs to diff observation sets
// itself.
type ProcessTracker struct {
	mu sync.Mutex

	current ProcessSet
	new     ProcessSet
	deleted ProcessSet
}

func NewProcessTracker() *ProcessTracker {
	return &ProcessTracker{
		current: NewProcessSet(),
		new:     NewProcessSet(),
		deleted: NewProcessSet(),
	}
}

// Update recomputes current/new/deleted from the freshly observed set.
// Invariant: after Update, current == observed; new == observed \ previous
// current; deleted == previous current \ observed.
func (t *ProcessTracker) Update(observed ProcessSet) {
	t.mu.Lock()
	defer t.mu.Unlock()

	previous := t.current
	t.new = observed.Difference(previous)
	t.deleted = previous.Difference(observed)
	t.current = observed
}

func (t *ProcessTracker) Current() ProcessSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySet(t.current)
}

func (t *ProcessTracker) New() ProcessSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySet(t.new)
}

func (t *ProcessTracker) Deleted() ProcessSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return copySet(t.deleted)
}

func copySet(s ProcessSet) ProcessSet {
	out := make(ProcessSet, len(s))
	for u := range s {
		out[u] = struct{}{}
	}
	return out
}
