package controlplane

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

func startRun(t *testing.T, svc *Services, path string, backends ...string) *uploader.Run {
	t.Helper()
	run, err := svc.Coordinator.Start(context.Background(), uploader.UploadRequest{
		FilePath: path,
		Backends: backends,
	})
	require.NoError(t, err)
	return run
}

func settleRun(t *testing.T, run *uploader.Run) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := run.Wait(ctx)
	require.NoError(t, err)
}

func TestRunStore_AddAndGet(t *testing.T) {
	svc := newTestServices(nil, &fakeAdapter{backend: "fast"})
	path := tempImage(t)

	run := startRun(t, svc, path, "fast")
	settleRun(t, run)

	store := NewRunStore(0)
	store.Add(run)
	store.Add(run)
	assert.Equal(t, 1, store.Len())

	got, ok := store.Get(run.ID)
	require.True(t, ok)
	assert.Same(t, run, got)

	_, ok = store.Get("nope")
	assert.False(t, ok)

	store.Add(nil)
	assert.Equal(t, 1, store.Len())
}

func TestRunStore_ActiveExcludesSettled(t *testing.T) {
	block := make(chan struct{})
	svc := newTestServices(nil,
		&fakeAdapter{backend: "slow", block: block},
		&fakeAdapter{backend: "fast"},
	)
	path := tempImage(t)

	slow := startRun(t, svc, path, "slow")
	fast := startRun(t, svc, path, "fast")
	settleRun(t, fast)

	store := NewRunStore(0)
	store.Add(slow)
	store.Add(fast)

	active := store.Active()
	require.Len(t, active, 1)
	assert.Equal(t, slow.ID, active[0].ID)

	close(block)
	settleRun(t, slow)
	assert.Empty(t, store.Active())
	assert.Equal(t, 2, store.Len())
}

func TestRunStore_EvictionSkipsLiveRuns(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	svc := newTestServices(nil,
		&fakeAdapter{backend: "slow", block: block},
		&fakeAdapter{backend: "fast"},
	)
	path := tempImage(t)

	store := NewRunStore(2)

	live := startRun(t, svc, path, "slow")
	store.Add(live)

	var settled []*uploader.Run
	for range 3 {
		run := startRun(t, svc, path, "fast")
		settleRun(t, run)
		store.Add(run)
		settled = append(settled, run)
	}

	// The live run survives every eviction pass; only the oldest
	// settled runs fall out.
	assert.Equal(t, 2, store.Len())

	_, ok := store.Get(live.ID)
	assert.True(t, ok)

	_, ok = store.Get(settled[0].ID)
	assert.False(t, ok)
	_, ok = store.Get(settled[1].ID)
	assert.False(t, ok)
	_, ok = store.Get(settled[2].ID)
	assert.True(t, ok)
}
