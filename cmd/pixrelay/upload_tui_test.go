package main

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

// blockingAdapter holds its branch open until the context is cancelled,
// keeping the run live while the model is driven by hand.
type blockingAdapter struct {
	backend string
}

func (a *blockingAdapter) Backend() string { return a.backend }

func (a *blockingAdapter) Validate(req *uploader.UploadRequest) error { return nil }

func (a *blockingAdapter) Upload(ctx context.Context, req *uploader.UploadRequest, updates chan<- uploader.ProgressUpdate) (*uploader.Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func startLiveRun(t *testing.T, backends ...string) (*uploader.Run, context.CancelFunc) {
	t.Helper()

	reg := uploader.NewRegistry()
	for _, b := range backends {
		a := &blockingAdapter{backend: b}
		reg.Register(b, func() (uploader.Adapter, error) { return a, nil })
	}
	orch := uploader.NewOrchestrator(uploader.OrchestratorConfig{Registry: reg})
	coord := uploader.NewCoordinator(uploader.CoordinatorConfig{Orchestrator: orch})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := coord.Start(ctx, uploader.UploadRequest{
		FilePath: tempImage(t),
		Backends: backends,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		<-run.Done()
	})
	return run, cancel
}

func progressEvent(backend string, percent float64, step string) runEventMsg {
	return runEventMsg(uploader.RunEvent{
		Type:     uploader.RunEventProgress,
		Progress: &uploader.ProgressUpdate{Backend: backend, Percent: percent, Step: step},
	})
}

func TestUploadModel_RowsFollowRequestOrder(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo", "smms")

	m := newUploadModel(run, cancel)

	require.Len(t, m.rows, 2)
	assert.Equal(t, "weibo", m.rows[0].name)
	assert.Equal(t, "smms", m.rows[1].name)
	assert.Equal(t, "waiting", m.rows[0].step)
}

func TestUploadModel_ProgressNeverRegresses(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo", "smms")
	m := newUploadModel(run, cancel)

	next, cmd := m.Update(progressEvent("weibo", 40, "uploading"))
	m = next.(uploadModel)
	require.NotNil(t, cmd)
	assert.Equal(t, 40.0, m.rows[0].percent)
	assert.Equal(t, "uploading", m.rows[0].step)

	// a lower percent keeps the bar where it was
	next, _ = m.Update(progressEvent("weibo", 25, "uploading"))
	m = next.(uploadModel)
	assert.Equal(t, 40.0, m.rows[0].percent)

	// the other row is untouched
	assert.Equal(t, 0.0, m.rows[1].percent)
}

func TestUploadModel_OutcomeSettlesRow(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo", "smms")
	m := newUploadModel(run, cancel)

	next, _ := m.Update(runEventMsg(uploader.RunEvent{
		Type:    uploader.RunEventOutcome,
		Outcome: &uploader.UploadOutcome{Backend: "smms", Status: uploader.StatusSuccess, URL: "https://img.example/a.png"},
	}))
	m = next.(uploadModel)

	require.NotNil(t, m.rows[1].outcome)
	assert.Equal(t, 100.0, m.rows[1].percent)
	assert.Contains(t, stripANSI(m.View()), "https://img.example/a.png")

	next, _ = m.Update(runEventMsg(uploader.RunEvent{
		Type:    uploader.RunEventOutcome,
		Outcome: &uploader.UploadOutcome{Backend: "weibo", Status: uploader.StatusFailed, Error: uploader.NewStructuredError(uploader.KindAuthExpired, "cookie expired")},
	}))
	m = next.(uploadModel)

	assert.Contains(t, stripANSI(m.View()), "cookie expired")
}

func TestUploadModel_DoneQuits(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo")
	m := newUploadModel(run, cancel)

	res := &uploader.AggregateResult{Overall: uploader.AllSucceeded}
	next, cmd := m.Update(runEventMsg(uploader.RunEvent{Type: uploader.RunEventDone, Result: res}))
	m = next.(uploadModel)

	require.NotNil(t, m.res)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestUploadModel_ClosedStreamQuits(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo")
	m := newUploadModel(run, cancel)

	_, cmd := m.Update(runClosedMsg{})

	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestUploadModel_QuitKeysCancelTheRun(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo")
	m := newUploadModel(run, cancel)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(uploadModel)

	assert.True(t, m.cancelling)
	assert.Contains(t, stripANSI(m.View()), "cancelling, waiting for backends to settle")

	// the blocked branch observes the cancel and the run settles
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not settle after cancel")
	}
}

func TestUploadModel_View(t *testing.T) {
	run, cancel := startLiveRun(t, "weibo", "smms")
	m := newUploadModel(run, cancel)

	view := stripANSI(m.View())

	assert.Contains(t, view, "Uploading")
	assert.Contains(t, view, "shot.png")
	assert.Contains(t, view, "weibo")
	assert.Contains(t, view, "smms")
	assert.Contains(t, view, "ctrl+c to cancel")
}
