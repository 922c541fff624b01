package uploader

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pixrelay/pixrelay/internal/remote"
	"github.com/pixrelay/pixrelay/internal/throttle"
)

const (
	// creepTick is the auto-creep period. While a backend is silent the
	// display advances every tick so the bar never looks frozen.
	creepTick = 200 * time.Millisecond

	DefaultAttemptTimeout   = 5 * time.Minute
	DefaultOverloadCooldown = 30 * time.Second
)

// Contract executes one backend command with pacing, progress smoothing
// and error classification. A single Contract is shared by every
// adapter; all per-attempt state lives inside Execute.
type Contract struct {
	dispatcher *remote.Dispatcher
	bus        *remote.Bus
	gates      map[string]throttle.Gate
	metrics    *Metrics
	timeout    time.Duration
	overload   time.Duration
}

type ContractConfig struct {
	Dispatcher *remote.Dispatcher
	Bus        *remote.Bus
	// Gates maps backend ids to their pacing gate. Backends without an
	// entry dispatch immediately. The map must not be mutated after
	// NewContract.
	Gates map[string]throttle.Gate
	// Metrics may be nil.
	Metrics *Metrics
	// AttemptTimeout caps one Execute call end to end. Zero means
	// DefaultAttemptTimeout, negative disables the cap.
	AttemptTimeout time.Duration
	// OverloadCooldown is reported to the backend's gate when a call
	// comes back rate-limited. Zero means DefaultOverloadCooldown.
	OverloadCooldown time.Duration
}

func NewContract(cfg ContractConfig) *Contract {
	timeout := cfg.AttemptTimeout
	if timeout == 0 {
		timeout = DefaultAttemptTimeout
	} else if timeout < 0 {
		timeout = 0
	}
	overload := cfg.OverloadCooldown
	if overload <= 0 {
		overload = DefaultOverloadCooldown
	}
	gates := cfg.Gates
	if gates == nil {
		gates = map[string]throttle.Gate{}
	}
	return &Contract{
		dispatcher: cfg.Dispatcher,
		bus:        cfg.Bus,
		gates:      gates,
		metrics:    cfg.Metrics,
		timeout:    timeout,
		overload:   overload,
	}
}

// Gate returns the pacing gate guarding a backend, or nil.
func (c *Contract) Gate(backend string) throttle.Gate {
	return c.gates[backend]
}

// GateStates returns a snapshot of every configured gate, for status
// surfaces.
func (c *Contract) GateStates() []throttle.State {
	states := make([]throttle.State, 0, len(c.gates))
	for _, g := range c.gates {
		states = append(states, g.State())
	}
	return states
}

// Execute runs one backend command. It tags the call with a fresh
// attempt id, filters the shared progress bus down to that attempt,
// and feeds smoothed display values into updates. Failures come back
// classified; Execute itself never panics on malformed errors.
func (c *Contract) Execute(ctx context.Context, backend, command string, params remote.Params, updates chan<- ProgressUpdate) (any, error) {
	attemptID := uuid.NewString()
	params = params.Merge(remote.Params{remote.ParamAttemptID: attemptID})

	log := slog.With("backend", backend, "command", command, "attempt_id", attemptID)

	emit(updates, ProgressUpdate{Backend: backend, Step: "preparing"})

	if gate := c.gates[backend]; gate != nil {
		waitStart := time.Now()
		if err := gate.Acquire(ctx); err != nil {
			return nil, Classify(err)
		}
		c.metrics.ObserveThrottleWait(backend, time.Since(waitStart))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	events, unsubscribe := c.bus.Subscribe(remote.DefaultSubscriberBuffer)
	defer unsubscribe()

	ticker := time.NewTicker(creepTick)
	defer ticker.Stop()

	// Two producers, one consumer: the creep ticker and the event
	// subscription both feed this goroutine, which alone owns the
	// gauge and applies the never-regress rule.
	done := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup
	stop := func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g := &gauge{}
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if pct, moved := g.creep(); moved {
					emit(updates, ProgressUpdate{Backend: backend, Percent: pct})
				}
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.AttemptID != attemptID {
					continue
				}
				emit(updates, ProgressUpdate{
					Backend:    backend,
					Percent:    g.real(ev),
					Step:       ev.Step,
					StepIndex:  ev.StepIndex,
					TotalSteps: ev.TotalSteps,
				})
			}
		}
	}()

	log.Debug("dispatching backend command")
	result, err := c.dispatcher.Submit(ctx, command, params)
	stop()

	if err != nil {
		serr := Classify(err)
		if serr.Kind == KindRateLimited {
			if gate := c.gates[backend]; gate != nil {
				gate.ReportOverload(c.overload)
				log.Warn("backend rate limited, cooling dispatches", "cooldown", c.overload)
			}
		}
		return nil, serr
	}

	emit(updates, ProgressUpdate{Backend: backend, Percent: 100, Step: "done"})
	return result, nil
}

// emit never blocks. Progress is advisory: when the consumer lags,
// dropping an intermediate value is harmless because the display is
// monotonic anyway.
func emit(ch chan<- ProgressUpdate, u ProgressUpdate) {
	if ch == nil {
		return
	}
	select {
	case ch <- u:
	default:
	}
}
