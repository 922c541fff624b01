package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pixrelay/pixrelay/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".pixrelay")
	DefaultConfigPath  = filepath.Join(DefaultConfigDir, "config.json")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "pixrelay.log")
	DefaultDaemonAddr  = "127.0.0.1:7938"
)

const (
	DefaultWatchDebounceMs = 800
	configFileMode         = 0o600
)

// envPattern matches ${VAR} only. Plain $ stays untouched because cookies
// and tokens may contain it.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type Config struct {
	Daemon   DaemonConfig   `json:"daemon"`
	Backends BackendsConfig `json:"backends"`
	Watch    WatchConfig    `json:"watch"`

	Path string `json:"-"`
}

type DaemonConfig struct {
	Addr        string   `json:"addr"`
	Token       string   `json:"token,omitempty"`
	Metrics     bool     `json:"metrics"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

type WatchConfig struct {
	DebounceMs int      `json:"debounce_ms"`
	Patterns   []string `json:"patterns,omitempty"`
	Backends   []string `json:"backends,omitempty"`
}

// Default returns a config with daemon and watch defaults and no backends.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Addr:    DefaultDaemonAddr,
			Metrics: true,
		},
		Watch: WatchConfig{
			DebounceMs: DefaultWatchDebounceMs,
			Patterns:   []string{"**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.gif", "**/*.webp"},
		},
		Path: DefaultConfigPath,
	}
}

// Load reads and validates a config file. String fields may reference
// environment variables as ${VAR}; they are expanded on load so credentials
// can live in the environment or a .env file instead of on disk.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	resolved, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", resolved, err)
	}
	cfg.Path = resolved
	cfg.expandEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config atomically with owner-only permissions.
func (c *Config) Save() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, configFileMode); err != nil {
		return err
	}
	return os.Rename(tmp, c.Path)
}

func (c *Config) Validate() error {
	if c.Daemon.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Daemon.Addr); err != nil {
			return fmt.Errorf("daemon addr %q: %w", c.Daemon.Addr, err)
		}
	}
	if c.Watch.DebounceMs < 0 {
		return fmt.Errorf("watch debounce_ms must be >= 0, got %d", c.Watch.DebounceMs)
	}
	return c.Backends.Validate()
}

// Masked returns a deep copy with all credential fields masked, safe for
// export and for the control plane.
func (c *Config) Masked() *Config {
	out := *c
	out.Daemon.Token = utils.MaskSecret(c.Daemon.Token)
	out.Backends = c.Backends.masked()
	return &out
}

// LockPath is the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(filepath.Dir(c.pathOrDefault()), "pixrelay.lock")
}

func (c *Config) pathOrDefault() string {
	if c.Path != "" {
		return c.Path
	}
	return DefaultConfigPath
}

func (c *Config) expandEnv() {
	c.Daemon.Token = expandEnv(c.Daemon.Token)
	c.Backends.expandEnv()
}

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}
