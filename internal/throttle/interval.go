package throttle

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IntervalConfig tunes an IntervalGate. Zero values fall back to defaults;
// MinInterval is required.
type IntervalConfig struct {
	MinInterval  time.Duration
	MaxWait      time.Duration
	MaxWaitLoops int
	QueueSize    int
}

func (c *IntervalConfig) withDefaults() {
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.MaxWaitLoops <= 0 {
		c.MaxWaitLoops = DefaultMaxWaitLoops
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// IntervalGate is the strict-interval breaker: requests queue FIFO and a
// single dispatcher releases them one at a time, no sooner than
// max(lastDispatch+minInterval, cooldownUntil). It models backends that
// return server errors under bursty load.
type IntervalGate struct {
	backend string
	cfg     IntervalConfig

	mu            sync.Mutex
	cooldownUntil time.Time
	lastDispatch  time.Time

	queue     chan *intervalWaiter
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type intervalWaiter struct {
	ctx  context.Context
	done chan error
}

func NewIntervalGate(backend string, cfg IntervalConfig) *IntervalGate {
	cfg.withDefaults()

	g := &IntervalGate{
		backend: backend,
		cfg:     cfg,
		queue:   make(chan *intervalWaiter, cfg.QueueSize),
		closed:  make(chan struct{}),
	}

	g.wg.Add(1)
	go g.dispatch()
	return g
}

func (g *IntervalGate) Acquire(ctx context.Context) error {
	select {
	case <-g.closed:
		return ErrGateClosed
	default:
	}

	w := &intervalWaiter{ctx: ctx, done: make(chan error, 1)}

	select {
	case g.queue <- w:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.closed:
		return ErrGateClosed
	}

	select {
	case err := <-w.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-g.closed:
		return ErrGateClosed
	}
}

func (g *IntervalGate) ReportOverload(d time.Duration) {
	if d <= 0 {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	until := time.Now().Add(d)
	if until.After(g.cooldownUntil) {
		g.cooldownUntil = until
		slog.Debug("throttle cooldown extended", "backend", g.backend, "until", until)
	}
}

func (g *IntervalGate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return State{
		Backend:       g.backend,
		CooldownUntil: g.cooldownUntil,
		MinInterval:   g.cfg.MinInterval,
		LastDispatch:  g.lastDispatch,
	}
}

// Close stops the dispatcher and fails all queued waiters with ErrGateClosed.
func (g *IntervalGate) Close() {
	g.closeOnce.Do(func() {
		close(g.closed)
	})
	g.wg.Wait()
}

func (g *IntervalGate) dispatch() {
	defer g.wg.Done()

	for {
		select {
		case w := <-g.queue:
			g.serve(w)
		case <-g.closed:
			g.drain()
			return
		}
	}
}

func (g *IntervalGate) drain() {
	for {
		select {
		case w := <-g.queue:
			w.done <- ErrGateClosed
		default:
			return
		}
	}
}

// serve blocks until the head-of-queue waiter may dispatch. The wait target
// is recomputed after every sleep because the cooldown can be extended while
// waiting; the loop bound and the absolute ceiling guarantee the waiter is
// eventually dispatched anyway rather than starved.
func (g *IntervalGate) serve(w *intervalWaiter) {
	ceiling := time.Now().Add(g.cfg.MaxWait)

	for loops := 0; ; loops++ {
		target := g.nextDispatchTime()
		now := time.Now()

		if !now.Before(target) {
			break
		}
		if loops >= g.cfg.MaxWaitLoops {
			slog.Warn("throttle wait loops exhausted, dispatching",
				"backend", g.backend, "loops", loops)
			break
		}

		wait := target.Sub(now)
		capped := false
		if remaining := ceiling.Sub(now); wait >= remaining {
			wait = remaining
			capped = true
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-w.ctx.Done():
			timer.Stop()
			w.done <- w.ctx.Err()
			return
		case <-g.closed:
			timer.Stop()
			w.done <- ErrGateClosed
			return
		}

		if capped {
			slog.Warn("throttle wait ceiling reached, dispatching",
				"backend", g.backend, "max_wait", g.cfg.MaxWait)
			break
		}
	}

	if w.ctx.Err() != nil {
		w.done <- w.ctx.Err()
		return
	}

	g.mu.Lock()
	g.lastDispatch = time.Now()
	g.mu.Unlock()

	w.done <- nil
}

func (g *IntervalGate) nextDispatchTime() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := g.lastDispatch.Add(g.cfg.MinInterval)
	if g.cooldownUntil.After(target) {
		target = g.cooldownUntil
	}
	return target
}
