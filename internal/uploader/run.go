package uploader

import (
	"context"
	"sync"
	"time"
)

type RunEventType string

const (
	RunEventProgress RunEventType = "progress"
	RunEventOutcome  RunEventType = "outcome"
	RunEventDone     RunEventType = "done"
)

// RunEvent is one entry in a run's typed event stream. Exactly one of
// the payload fields is set, matching Type.
type RunEvent struct {
	Type     RunEventType     `json:"type"`
	Progress *ProgressUpdate  `json:"progress,omitempty"`
	Outcome  *UploadOutcome   `json:"outcome,omitempty"`
	Result   *AggregateResult `json:"result,omitempty"`
}

const runEventBuffer = 256

// Run is one live fan-out. Events yields progress and per-backend
// outcomes as they happen and is closed after the final done event;
// Wait blocks for the aggregate result.
type Run struct {
	ID        string
	Request   UploadRequest
	StartedAt time.Time

	events chan RunEvent
	done   chan struct{}

	mu       sync.RWMutex
	index    map[string]int
	outcomes []UploadOutcome
	result   *AggregateResult
}

func newRun(id string, req UploadRequest) *Run {
	r := &Run{
		ID:        id,
		Request:   req,
		StartedAt: time.Now(),
		events:    make(chan RunEvent, runEventBuffer),
		done:      make(chan struct{}),
		index:     make(map[string]int, len(req.Backends)),
		outcomes:  make([]UploadOutcome, len(req.Backends)),
	}
	for i, backend := range req.Backends {
		r.index[backend] = i
		r.outcomes[i] = UploadOutcome{Backend: backend, Status: StatusPending}
	}
	return r
}

// Events is the run's event stream. It is best-effort: a consumer that
// cannot keep up loses intermediate progress values, never the result.
// The channel closes once the run has settled.
func (r *Run) Events() <-chan RunEvent {
	return r.events
}

// Done closes when the aggregate result is available.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run settles or ctx ends.
func (r *Run) Wait(ctx context.Context) (*AggregateResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.Result(), nil
	}
}

// Result returns the aggregate result, nil while the run is live.
func (r *Run) Result() *AggregateResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// Snapshot copies the current per-backend outcomes in request order.
func (r *Run) Snapshot() []UploadOutcome {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]UploadOutcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

func (r *Run) markInProgress(idx int) {
	r.mu.Lock()
	if r.outcomes[idx].Status == StatusPending {
		r.outcomes[idx].Status = StatusInProgress
	}
	r.mu.Unlock()
}

func (r *Run) recordProgress(u ProgressUpdate) {
	r.mu.Lock()
	if i, ok := r.index[u.Backend]; ok {
		o := &r.outcomes[i]
		if o.Status == StatusPending {
			o.Status = StatusInProgress
		}
		if u.Percent > o.Progress {
			o.Progress = u.Percent
		}
	}
	r.mu.Unlock()

	r.publish(RunEvent{Type: RunEventProgress, Progress: &u})
}

func (r *Run) recordOutcome(idx int, outcome UploadOutcome) {
	r.mu.Lock()
	if outcome.Progress < r.outcomes[idx].Progress {
		outcome.Progress = r.outcomes[idx].Progress
	}
	r.outcomes[idx] = outcome
	r.mu.Unlock()

	r.publish(RunEvent{Type: RunEventOutcome, Outcome: &outcome})
}

// finish seals the run. It must be called exactly once, after every
// branch has recorded its outcome and the progress pump has drained.
func (r *Run) finish() *AggregateResult {
	r.mu.Lock()
	outs := make([]UploadOutcome, len(r.outcomes))
	copy(outs, r.outcomes)
	primary, overall := Summarize(outs)
	res := &AggregateResult{
		RequestID:  r.ID,
		File:       r.Request.FilePath,
		Outcomes:   outs,
		Primary:    primary,
		Overall:    overall,
		StartedAt:  r.StartedAt,
		FinishedAt: time.Now(),
	}
	r.result = res
	r.mu.Unlock()

	r.publishFinal(RunEvent{Type: RunEventDone, Result: res})
	close(r.events)
	close(r.done)
	return res
}

func (r *Run) publish(ev RunEvent) {
	select {
	case r.events <- ev:
	default:
	}
}

// publishFinal guarantees delivery of the done event. With a stalled
// consumer it evicts buffered progress to make room rather than block.
func (r *Run) publishFinal(ev RunEvent) {
	for {
		select {
		case r.events <- ev:
			return
		default:
		}
		select {
		case <-r.events:
		default:
		}
	}
}
