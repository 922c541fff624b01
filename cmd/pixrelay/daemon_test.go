package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/utils"
)

func TestDaemonCmd_Flags(t *testing.T) {
	cmd := newDaemonCmd()

	for flagName, shorthand := range map[string]string{
		"addr":      "a",
		"token":     "t",
		"watch-dir": "w",
	} {
		f := cmd.Flags().Lookup(flagName)
		require.NotNil(t, f, flagName)
		assert.Equal(t, shorthand, f.Shorthand, flagName)
	}

	metrics := cmd.Flags().Lookup("metrics")
	require.NotNil(t, metrics)
	assert.Equal(t, "true", metrics.DefValue)
}

func TestWatchBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Backends.SMMS = &config.SMMSConfig{Token: "tok"}
	cfg.Backends.JD = &config.JDConfig{}

	assert.Equal(t, []string{"smms", "jd"}, watchBackends(cfg))

	// an explicit watch list wins over the enabled set
	cfg.Watch.Backends = []string{"jd"}
	assert.Equal(t, []string{"jd"}, watchBackends(cfg))
}

func TestRunDaemon_RefusesSecondInstance(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Default()
	cfg.Path = cfgPath
	require.NoError(t, cfg.Save())

	require.NoError(t, utils.EnsureParent(cfg.LockPath()))
	held := flock.New(cfg.LockPath())
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer held.Unlock()

	err = runDaemon(context.Background(), cfg, daemonOptions{Addr: "127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}
