package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMaxAttempts caps automatic retries per backend, counting
	// the initial upload. Manual retry stays available past it.
	DefaultMaxAttempts = 3
	// DefaultTrackedRuns bounds the retry table. The oldest run falls
	// out first once it is full.
	DefaultTrackedRuns = 128
)

type trackedFailure struct {
	outcome   UploadOutcome
	attempts  int
	permanent bool
}

type trackedRun struct {
	mu       sync.Mutex
	request  UploadRequest
	result   *AggregateResult
	failures map[string]*trackedFailure
	inflight mapset.Set[string]
}

// FailureInfo is a read-only snapshot of one tracked failure.
type FailureInfo struct {
	Outcome   UploadOutcome `json:"outcome"`
	Attempts  int           `json:"attempts"`
	Permanent bool          `json:"permanent"`
}

// RetryReport summarizes one bulk retry pass.
type RetryReport struct {
	RequestID   string   `json:"request_id"`
	Succeeded   []string `json:"succeeded"`
	StillFailed []string `json:"still_failed"`
	Skipped     []string `json:"skipped,omitempty"`
}

// Coordinator tracks the failed branches of settled runs and re-drives
// them through the same fan-out discipline, without touching backends
// that already succeeded.
type Coordinator struct {
	orch        *Orchestrator
	metrics     *Metrics
	maxAttempts int
	runs        *lru.Cache[string, *trackedRun]
}

type CoordinatorConfig struct {
	Orchestrator *Orchestrator
	// Metrics may be nil.
	Metrics *Metrics
	// MaxAttempts is the automatic-retry ceiling per backend. Zero
	// means DefaultMaxAttempts.
	MaxAttempts int
	// TrackedRuns is the retry table size. Zero means
	// DefaultTrackedRuns.
	TrackedRuns int
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	size := cfg.TrackedRuns
	if size <= 0 {
		size = DefaultTrackedRuns
	}
	runs, _ := lru.New[string, *trackedRun](size)
	return &Coordinator{
		orch:        cfg.Orchestrator,
		metrics:     cfg.Metrics,
		maxAttempts: maxAttempts,
		runs:        runs,
	}
}

// Orchestrator returns the wrapped fan-out engine.
func (c *Coordinator) Orchestrator() *Orchestrator {
	return c.orch
}

// Start launches a fan-out and tracks its failures once it settles.
func (c *Coordinator) Start(ctx context.Context, req UploadRequest) (*Run, error) {
	run, err := c.orch.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	go func() {
		<-run.Done()
		c.Track(run.Request, run.Result())
	}()
	return run, nil
}

// Track records a settled result for later retries.
func (c *Coordinator) Track(req UploadRequest, result *AggregateResult) {
	if result == nil {
		return
	}
	tr := &trackedRun{
		request:  req,
		result:   result,
		failures: make(map[string]*trackedFailure),
		inflight: mapset.NewSet[string](),
	}
	for _, o := range result.Failed() {
		tr.failures[o.Backend] = &trackedFailure{outcome: o, attempts: 1}
	}
	c.runs.Add(result.RequestID, tr)
}

// Result returns the latest merged aggregate for a tracked run.
func (c *Coordinator) Result(requestID string) (*AggregateResult, bool) {
	tr, ok := c.runs.Get(requestID)
	if !ok {
		return nil, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.result, true
}

// Failures returns the tracked failures for one run, keyed by backend.
func (c *Coordinator) Failures(requestID string) (map[string]FailureInfo, bool) {
	tr, ok := c.runs.Get(requestID)
	if !ok {
		return nil, false
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	out := make(map[string]FailureInfo, len(tr.failures))
	for id, f := range tr.failures {
		out[id] = FailureInfo{Outcome: f.outcome, Attempts: f.attempts, Permanent: f.permanent}
	}
	return out, true
}

// RequestIDs lists tracked runs, oldest first.
func (c *Coordinator) RequestIDs() []string {
	return c.runs.Keys()
}

// RetryOne re-drives a single failed backend. This is the manual path:
// permanently failed backends stay eligible here, the attempt ceiling
// only gates RetryAllFailed.
func (c *Coordinator) RetryOne(ctx context.Context, requestID, backend string) (*UploadOutcome, error) {
	tr, ok := c.runs.Get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, requestID)
	}

	tr.mu.Lock()
	_, failed := tr.failures[backend]
	tr.mu.Unlock()
	if !failed {
		return nil, fmt.Errorf("%w: %q in run %s", ErrNotFailed, backend, requestID)
	}

	outcomes, err := c.redrive(ctx, tr, []string{backend})
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrRetryInFlight, backend)
	}
	return &outcomes[0], nil
}

// RetryAllFailed re-drives every tracked failure that is still eligible
// for automatic retry: not permanent and of a retryable kind.
func (c *Coordinator) RetryAllFailed(ctx context.Context, requestID string) (*RetryReport, error) {
	tr, ok := c.runs.Get(requestID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, requestID)
	}

	report := &RetryReport{RequestID: requestID}

	var eligible []string
	tr.mu.Lock()
	for _, backend := range tr.request.Backends {
		f, ok := tr.failures[backend]
		if !ok {
			continue
		}
		if f.permanent || (f.outcome.Error != nil && !f.outcome.Error.Retryable) {
			report.Skipped = append(report.Skipped, backend)
			continue
		}
		eligible = append(eligible, backend)
	}
	tr.mu.Unlock()

	if len(eligible) == 0 {
		return report, nil
	}

	outcomes, err := c.redrive(ctx, tr, eligible)
	if err != nil {
		return nil, err
	}
	for _, o := range outcomes {
		if o.Status == StatusSuccess {
			report.Succeeded = append(report.Succeeded, o.Backend)
		} else {
			report.StillFailed = append(report.StillFailed, o.Backend)
		}
	}
	return report, nil
}

// redrive fans out to the given backends and merges the fresh outcomes
// into the tracked run. Backends with a retry already in flight are
// silently dropped from the pass.
func (c *Coordinator) redrive(ctx context.Context, tr *trackedRun, backends []string) ([]UploadOutcome, error) {
	var claimed []string
	for _, b := range backends {
		if tr.inflight.Add(b) {
			claimed = append(claimed, b)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	defer tr.inflight.RemoveAll(claimed...)

	sub := UploadRequest{
		FilePath: tr.request.FilePath,
		Backends: claimed,
		Params:   tr.request.Params,
	}
	run, err := c.orch.Start(ctx, sub)
	if err != nil {
		return nil, err
	}
	res, err := run.Wait(ctx)
	if err != nil {
		return nil, err
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	outs := make([]UploadOutcome, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		f := tr.failures[o.Backend]
		if f == nil {
			// Succeeded while this pass was in flight.
			outs = append(outs, o)
			continue
		}
		f.attempts++
		o.Attempts = f.attempts
		c.metrics.IncRetry(o.Backend, o.Status)

		if o.Status == StatusSuccess {
			delete(tr.failures, o.Backend)
			slog.Info("retry recovered backend", "request_id", tr.result.RequestID, "backend", o.Backend, "attempts", f.attempts)
		} else {
			f.outcome = o
			if f.attempts >= c.maxAttempts {
				f.permanent = true
				slog.Warn("backend permanently failed", "request_id", tr.result.RequestID, "backend", o.Backend, "attempts", f.attempts)
			}
		}
		outs = append(outs, o)
	}

	tr.mergeLocked(outs)
	return outs, nil
}

// mergeLocked folds fresh outcomes into the tracked aggregate and
// recomputes primary and overall status. Caller holds tr.mu.
func (tr *trackedRun) mergeLocked(outs []UploadOutcome) {
	merged := make([]UploadOutcome, len(tr.result.Outcomes))
	copy(merged, tr.result.Outcomes)
	for _, o := range outs {
		for i := range merged {
			if merged[i].Backend == o.Backend {
				merged[i] = o
				break
			}
		}
	}
	primary, overall := Summarize(merged)

	res := *tr.result
	res.Outcomes = merged
	res.Primary = primary
	res.Overall = overall
	res.FinishedAt = time.Now()
	tr.result = &res
}
