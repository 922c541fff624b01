package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BatchGate is the batch-token breaker: every Acquire consumes one slot of a
// fixed window regardless of the call's outcome. When the window is
// exhausted it arms exactly one cooldown timer; later acquires wait for that
// cooldown to resolve before consuming from the next window. It models
// backends with a hard per-N-requests limit.
type BatchGate struct {
	backend  string
	limit    int
	cooldown time.Duration

	mu            sync.Mutex
	count         int
	cooling       chan struct{} // nil when not cooling; closed on resolve
	cooldownUntil time.Time
	lastDispatch  time.Time
}

func NewBatchGate(backend string, limit int, cooldown time.Duration) *BatchGate {
	if limit <= 0 {
		limit = 1
	}
	return &BatchGate{
		backend:  backend,
		limit:    limit,
		cooldown: cooldown,
	}
}

func (g *BatchGate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		cooling := g.cooling
		if cooling == nil {
			g.count++
			g.lastDispatch = time.Now()
			if g.count >= g.limit {
				g.armLocked(g.cooldown)
			}
			g.mu.Unlock()
			return nil
		}
		g.mu.Unlock()

		select {
		case <-cooling:
			// cooldown resolved, try the fresh window
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ReportOverload arms a cooldown when none is active, or pushes the active
// one further out. A second threshold crossing while cooling never arms a
// second timer.
func (g *BatchGate) ReportOverload(d time.Duration) {
	if d <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cooling == nil {
		g.armLocked(d)
		return
	}
	if until := time.Now().Add(d); until.After(g.cooldownUntil) {
		g.cooldownUntil = until
		slog.Debug("throttle cooldown extended", "backend", g.backend, "until", until)
	}
}

func (g *BatchGate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return State{
		Backend:       g.backend,
		WindowCount:   g.count,
		WindowLimit:   g.limit,
		CooldownUntil: g.cooldownUntil,
		LastDispatch:  g.lastDispatch,
	}
}

// armLocked starts the single cooldown promise. Callers hold g.mu and have
// checked g.cooling == nil.
func (g *BatchGate) armLocked(d time.Duration) {
	done := make(chan struct{})
	g.cooling = done
	g.cooldownUntil = time.Now().Add(d)
	slog.Debug("throttle window exhausted", "backend", g.backend,
		"limit", g.limit, "cooldown", d)
	g.scheduleResolve(done, d)
}

// scheduleResolve resolves the cooldown promise once cooldownUntil has
// passed. Extensions made while cooling re-schedule the same promise instead
// of arming a second timer.
func (g *BatchGate) scheduleResolve(done chan struct{}, d time.Duration) {
	time.AfterFunc(d, func() {
		g.mu.Lock()
		if remaining := time.Until(g.cooldownUntil); remaining > resolveTolerance {
			g.scheduleResolve(done, remaining)
			g.mu.Unlock()
			return
		}
		g.count = 0
		g.cooling = nil
		g.cooldownUntil = time.Time{}
		g.mu.Unlock()
		close(done)
	})
}
