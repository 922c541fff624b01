// Package throttle paces calls to individual image hosts. Each throttled
// backend gets its own gate instance, constructed and injected by the
// composition root, so unrelated backends never block each other.
package throttle

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxWait caps any single queued wait regardless of cooldown
	// extensions.
	DefaultMaxWait = 120 * time.Second

	// DefaultMaxWaitLoops bounds how often a queued request re-waits after
	// waking to find the cooldown extended. Past the bound it dispatches
	// anyway rather than starving.
	DefaultMaxWaitLoops = 5

	// DefaultQueueSize is the interval gate's pending-request capacity.
	DefaultQueueSize = 128

	// resolveTolerance treats cooldowns within this of expiry as expired, so
	// timer jitter does not schedule a zero-length re-wait.
	resolveTolerance = time.Millisecond
)

var ErrGateClosed = errors.New("throttle: gate closed")

// Gate serializes and paces requests to a single backend.
type Gate interface {
	// Acquire blocks until the caller may dispatch one request. It returns
	// early only when ctx is done or the gate is closed.
	Acquire(ctx context.Context) error

	// ReportOverload extends the backend's cooldown window. Concurrent
	// reports only ever extend, never shorten, the window.
	ReportOverload(d time.Duration)

	// State returns a snapshot of the gate's pacing counters.
	State() State
}

// State is a point-in-time snapshot of one gate. Fields that do not apply to
// a gate variant are zero.
type State struct {
	Backend       string        `json:"backend"`
	WindowCount   int           `json:"window_count"`
	WindowLimit   int           `json:"window_limit"`
	CooldownUntil time.Time     `json:"cooldown_until"`
	MinInterval   time.Duration `json:"min_interval"`
	LastDispatch  time.Time     `json:"last_dispatch"`
}

// Cooling reports whether the gate is inside a cooldown window.
func (s State) Cooling() bool {
	return !s.CooldownUntil.IsZero() && time.Now().Before(s.CooldownUntil)
}
