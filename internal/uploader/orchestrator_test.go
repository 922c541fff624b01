package uploader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter is a scriptable backend for fan-out tests. failFirst
// injects that many failures before it starts succeeding.
type fakeAdapter struct {
	backend      string
	delay        time.Duration
	err          error
	failFirst    *atomic.Int32
	validateErr  error
	emitProgress bool
	calls        atomic.Int32
}

func (f *fakeAdapter) Backend() string {
	return f.backend
}

func (f *fakeAdapter) Validate(*UploadRequest) error {
	return f.validateErr
}

func (f *fakeAdapter) Upload(ctx context.Context, req *UploadRequest, updates chan<- ProgressUpdate) (*Result, error) {
	f.calls.Add(1)
	if f.emitProgress {
		emit(updates, ProgressUpdate{Backend: f.backend, Percent: 42})
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failFirst != nil {
		if f.failFirst.Add(-1) >= 0 {
			return nil, f.err
		}
	} else if f.err != nil {
		return nil, f.err
	}
	return &Result{
		URL:     "https://cdn.example.com/" + f.backend + "/img.png",
		FileKey: f.backend + "/img.png",
	}, nil
}

func registerFakes(reg *Registry, fakes ...*fakeAdapter) {
	for _, f := range fakes {
		f := f
		reg.Register(f.backend, func() (Adapter, error) { return f, nil })
	}
}

func tempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pic.png")
	require.NoError(t, os.WriteFile(path, []byte("not-really-a-png"), 0o644))
	return path
}

func failNTimes(n int32) *atomic.Int32 {
	c := &atomic.Int32{}
	c.Store(n)
	return c
}

func TestOrchestrator_FanOutIsolation(t *testing.T) {
	reg := NewRegistry()
	alpha := &fakeAdapter{backend: "alpha", delay: 50 * time.Millisecond}
	bravo := &fakeAdapter{backend: "bravo", err: errors.New("connection refused")}
	charlie := &fakeAdapter{backend: "charlie", delay: 100 * time.Millisecond}
	registerFakes(reg, alpha, bravo, charlie)

	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})
	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha", "bravo", "charlie"},
	})
	require.NoError(t, err)

	res, err := run.Wait(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 3)
	// outcomes keep request order regardless of completion order
	assert.Equal(t, "alpha", res.Outcomes[0].Backend)
	assert.Equal(t, "bravo", res.Outcomes[1].Backend)
	assert.Equal(t, "charlie", res.Outcomes[2].Backend)

	assert.Equal(t, StatusSuccess, res.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, res.Outcomes[1].Status)
	assert.Equal(t, StatusSuccess, res.Outcomes[2].Status)

	assert.Equal(t, PartialSuccess, res.Overall)
	assert.Equal(t, "alpha", res.Primary)

	require.NotNil(t, res.Outcomes[1].Error)
	assert.Equal(t, KindNetwork, res.Outcomes[1].Error.Kind)
	assert.NotEmpty(t, res.Outcomes[0].URL)
}

func TestOrchestrator_ZeroBackendsRejected(t *testing.T) {
	orch := NewOrchestrator(OrchestratorConfig{Registry: NewRegistry()})

	run, err := orch.Start(context.Background(), UploadRequest{FilePath: tempImage(t)})
	require.Error(t, err)
	assert.Nil(t, run)
	assert.ErrorIs(t, err, ErrNoBackends)

	var serr *StructuredError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindConfigMissing, serr.Kind)
}

func TestOrchestrator_MissingFileRejected(t *testing.T) {
	reg := NewRegistry()
	registerFakes(reg, &fakeAdapter{backend: "alpha"})
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	_, err := orch.Start(context.Background(), UploadRequest{
		FilePath: filepath.Join(t.TempDir(), "nope.png"),
		Backends: []string{"alpha"},
	})
	assert.Error(t, err)
}

func TestOrchestrator_UnknownBackendFailsThatBranchOnly(t *testing.T) {
	reg := NewRegistry()
	registerFakes(reg, &fakeAdapter{backend: "alpha"})
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha", "ghost"},
	})
	require.NoError(t, err)

	res, err := run.Wait(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, StatusSuccess, res.Outcomes[0].Status)
	assert.Equal(t, StatusFailed, res.Outcomes[1].Status)
	require.NotNil(t, res.Outcomes[1].Error)
	assert.Equal(t, KindConfigMissing, res.Outcomes[1].Error.Kind)
	assert.Equal(t, PartialSuccess, res.Overall)
}

func TestOrchestrator_DuplicateBackendsCollapse(t *testing.T) {
	reg := NewRegistry()
	alpha := &fakeAdapter{backend: "alpha"}
	bravo := &fakeAdapter{backend: "bravo"}
	registerFakes(reg, alpha, bravo)
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha", "alpha", "bravo", "alpha"},
	})
	require.NoError(t, err)

	res, err := run.Wait(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, "alpha", res.Outcomes[0].Backend)
	assert.Equal(t, "bravo", res.Outcomes[1].Backend)
	assert.Equal(t, int32(1), alpha.calls.Load())
}

func TestOrchestrator_ValidationFailureSkipsUpload(t *testing.T) {
	reg := NewRegistry()
	alpha := &fakeAdapter{
		backend:     "alpha",
		validateErr: NewStructuredError(KindConfigMissing, "token missing"),
	}
	registerFakes(reg, alpha)
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha"},
	})
	require.NoError(t, err)

	res, err := run.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, AllFailed, res.Overall)
	require.NotNil(t, res.Outcomes[0].Error)
	assert.Equal(t, KindConfigMissing, res.Outcomes[0].Error.Kind)
	assert.Zero(t, alpha.calls.Load(), "upload must not run when validation fails")
}

func TestOrchestrator_EventStream(t *testing.T) {
	reg := NewRegistry()
	registerFakes(reg,
		&fakeAdapter{backend: "alpha", emitProgress: true, delay: 20 * time.Millisecond},
		&fakeAdapter{backend: "bravo", err: errors.New("boom")},
	)
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha", "bravo"},
	})
	require.NoError(t, err)

	var progress, outcomes, dones int
	for ev := range run.Events() {
		switch ev.Type {
		case RunEventProgress:
			progress++
			require.NotNil(t, ev.Progress)
		case RunEventOutcome:
			outcomes++
			require.NotNil(t, ev.Outcome)
		case RunEventDone:
			dones++
			require.NotNil(t, ev.Result)
		}
	}

	assert.GreaterOrEqual(t, progress, 1)
	assert.Equal(t, 2, outcomes)
	assert.Equal(t, 1, dones)
	require.NotNil(t, run.Result())
	assert.Equal(t, PartialSuccess, run.Result().Overall)
}

func TestOrchestrator_SnapshotDuringRun(t *testing.T) {
	reg := NewRegistry()
	registerFakes(reg, &fakeAdapter{backend: "alpha", delay: 200 * time.Millisecond})
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := run.Snapshot()
		return len(snap) == 1 && snap[0].Status == StatusInProgress
	}, time.Second, 5*time.Millisecond)
	assert.Nil(t, run.Result(), "result must not exist before the run settles")

	res, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, AllSucceeded, res.Overall)
}

func TestOrchestrator_WaitHonorsContext(t *testing.T) {
	reg := NewRegistry()
	registerFakes(reg, &fakeAdapter{backend: "alpha", delay: 500 * time.Millisecond})
	orch := NewOrchestrator(OrchestratorConfig{Registry: reg})

	run, err := orch.Start(context.Background(), UploadRequest{
		FilePath: tempImage(t),
		Backends: []string{"alpha"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = run.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
