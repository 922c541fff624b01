package controlplane

import (
	"sync"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

// DefaultStoreRuns bounds the run store. Settled runs beyond the cap
// are dropped oldest-first; their aggregates stay reachable through the
// retry coordinator.
const DefaultStoreRuns = 64

// RunStore holds the live run handles the HTTP surface hands out. Runs
// are never evicted while in flight, and settled runs linger until the
// cap forces them out, so a GET right after completion still resolves
// even if the coordinator has not tracked the result yet.
type RunStore struct {
	mu    sync.RWMutex
	limit int
	runs  map[string]*uploader.Run
	order []string
}

func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = DefaultStoreRuns
	}
	return &RunStore{
		limit: limit,
		runs:  make(map[string]*uploader.Run),
	}
}

// Add registers a run. Re-adding an id is a no-op.
func (s *RunStore) Add(run *uploader.Run) {
	if run == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; ok {
		return
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	s.evictLocked()
}

func (s *RunStore) Get(id string) (*uploader.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

// Active returns the in-flight runs, oldest first.
func (s *RunStore) Active() []*uploader.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*uploader.Run
	for _, id := range s.order {
		if run := s.runs[id]; run != nil && run.Result() == nil {
			active = append(active, run)
		}
	}
	return active
}

// Len reports the number of stored runs, live and settled.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// evictLocked drops settled runs oldest-first until the store fits the
// cap. Live runs are skipped regardless of age.
func (s *RunStore) evictLocked() {
	if len(s.order) <= s.limit {
		return
	}

	kept := s.order[:0]
	excess := len(s.order) - s.limit
	for _, id := range s.order {
		run := s.runs[id]
		if excess > 0 && run != nil && run.Result() != nil {
			delete(s.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}
