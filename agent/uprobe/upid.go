package uprobe

import "fmt"

// UPID identifies a process instance uniquely across its lifetime. A bare
// kernel pid is not enough: pids are reused, so two observations of the same
// numeric pid at different times may refer to different process instances.
// Keying on (ASID, PID, start-time) instead makes that distinction explicit.
type UPID struct {
	ASID          uint32
	PID           uint32
	StartTimeTicks uint64
}

func (u UPID) String() string {
	return fmt.Sprintf("%d:%d:%d", u.ASID, u.PID, u.StartTimeTicks)
}

// ProcessSet is an unordered collection of UPIDs, used as both a tracker
// state component and a generic pid-set return type.
type ProcessSet map[UPID]struct{}

func NewProcessSet(upids ...UPID) ProcessSet {
	s := make(ProcessSet, len(upids))
	for _, u := range upids {
		s[u] = struct{}{}
	}
	return s
}

func (s ProcessSet) Contains(u UPID) bool {
	_, ok := s[u]
	return ok
}

func (s ProcessSet) Add(u UPID) {
	s[u] = struct{}{}
}

func (s ProcessSet) Remove(u UPID) {
	delete(s, u)
}

func (s ProcessSet) Slice() []UPID {
	out := make([]UPID, 0, len(s))
	for u := range s {
		out = append(out, u)
	}
	return out
}

// Difference returns the set of elements in s that are not in other (s \ other).
func (s ProcessSet) Difference(other ProcessSet) ProcessSet {
	out := make(ProcessSet)
	for u := range s {
		if !other.Contains(u) {
			out[u] = struct{}{}
		}
	}
	return out
}
