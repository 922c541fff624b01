package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// Orchestrator fans one file out to many backends concurrently and
// aggregates the per-backend outcomes. A failing or slow backend never
// aborts its siblings; the run settles only when every branch has.
type Orchestrator struct {
	registry *Registry
	metrics  *Metrics
}

type OrchestratorConfig struct {
	Registry *Registry
	// Metrics may be nil, all observations become no-ops.
	Metrics *Metrics
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		registry: cfg.Registry,
		metrics:  cfg.Metrics,
	}
}

// Registry exposes the backend registry for enumeration surfaces.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Start launches one fan-out and returns the live run immediately.
// Requesting zero backends is a configuration error, not an empty
// result. Duplicate backend ids collapse to the first occurrence.
func (o *Orchestrator) Start(ctx context.Context, req UploadRequest) (*Run, error) {
	if len(req.Backends) == 0 {
		return nil, wrapStructured(KindConfigMissing, "no backends selected", ErrNoBackends)
	}
	if _, err := os.Stat(req.FilePath); err != nil {
		return nil, fmt.Errorf("upload source: %w", err)
	}

	req.Backends = dedupe(req.Backends)
	run := newRun(uuid.NewString(), req)

	slog.Info("upload run starting",
		"request_id", run.ID,
		"file", req.FilePath,
		"backends", req.Backends)

	o.metrics.IncActiveRuns()

	updates := make(chan ProgressUpdate, runEventBuffer)

	var wg sync.WaitGroup
	for i, id := range req.Backends {
		wg.Add(1)
		go func(idx int, backend string) {
			defer wg.Done()
			o.runBackend(ctx, run, idx, backend, updates)
		}(i, id)
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for u := range updates {
			run.recordProgress(u)
			o.metrics.IncProgressEvents()
		}
	}()

	go func() {
		defer o.metrics.DecActiveRuns()
		wg.Wait()
		close(updates)
		<-pumpDone
		res := run.finish()
		slog.Info("upload run complete",
			"request_id", run.ID,
			"overall", res.Overall,
			"primary", res.Primary,
			"took", res.FinishedAt.Sub(res.StartedAt))
	}()

	return run, nil
}

// runBackend drives one branch to a settled outcome. Every error path
// lands in a failed outcome; nothing escapes to the siblings.
func (o *Orchestrator) runBackend(ctx context.Context, run *Run, idx int, backend string, updates chan<- ProgressUpdate) {
	started := time.Now()
	log := slog.With("request_id", run.ID, "backend", backend)

	outcome := UploadOutcome{Backend: backend, Status: StatusFailed}
	defer func() {
		outcome.ElapsedMs = time.Since(started).Milliseconds()
		run.recordOutcome(idx, outcome)
		o.metrics.ObserveUpload(backend, outcome.Status, time.Since(started))
	}()

	run.markInProgress(idx)

	adapter, err := o.registry.Create(backend)
	if err != nil {
		log.Error("backend construction failed", "error", err)
		outcome.Error = Classify(err)
		return
	}

	if err := adapter.Validate(&run.Request); err != nil {
		log.Warn("backend validation failed", "error", err)
		outcome.Error = Classify(err)
		return
	}

	res, err := adapter.Upload(ctx, &run.Request, updates)
	if err != nil {
		serr := Classify(err)
		log.Warn("upload failed", "kind", serr.Kind, "retryable", serr.Retryable, "error", err)
		outcome.Error = serr
		return
	}

	outcome.Status = StatusSuccess
	outcome.URL = res.URL
	outcome.FileKey = res.FileKey
	outcome.Progress = 100
	log.Info("upload succeeded", "url", res.URL, "took", time.Since(started))
}

func dedupe(ids []string) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen.Add(id) {
			out = append(out, id)
		}
	}
	return out
}
