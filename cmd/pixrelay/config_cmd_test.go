package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixrelay/pixrelay/internal/config"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := config.Default()
	cfg.Path = path
	cfg.Backends.SMMS = &config.SMMSConfig{Token: "smms-secret-token"}
	cfg.Backends.JD = &config.JDConfig{}
	require.NoError(t, cfg.Save())
	return path
}

func TestConfigInitCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	out, code := runCLI(t, "config", "init", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Wrote")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, config.DefaultDaemonAddr, cfg.Daemon.Addr)
	assert.Equal(t, config.DefaultWatchDebounceMs, cfg.Watch.DebounceMs)
}

func TestConfigInitCmd_RefusesOverwrite(t *testing.T) {
	path := writeTestConfig(t)

	out, code := runCLI(t, "config", "init", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "already exists")

	_, code = runCLI(t, "config", "init", "--config", path, "--force")
	assert.Equal(t, 0, code)
}

func TestConfigPathCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	out, code := runCLI(t, "config", "path", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, path)
}

func TestConfigExportCmd_MasksSecrets(t *testing.T) {
	path := writeTestConfig(t)

	out, code := runCLI(t, "config", "export", "--config", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "smms")
	assert.NotContains(t, out, "smms-secret-token")
	assert.Contains(t, out, "smms*****")
}

func TestConfigExportCmd_JSON(t *testing.T) {
	path := writeTestConfig(t)

	out, code := runCLI(t, "config", "export", "--config", path, "--format", "json")
	assert.Equal(t, 0, code)

	var tree map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &tree))
	assert.Contains(t, tree, "backends")
	assert.NotContains(t, out, "smms-secret-token")
}

func TestConfigExportCmd_UnknownFormat(t *testing.T) {
	path := writeTestConfig(t)

	out, code := runCLI(t, "config", "export", "--config", path, "--format", "toml")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "unknown format")
}
