package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/controlplane"
	"github.com/pixrelay/pixrelay/internal/uploader"
	"github.com/pixrelay/pixrelay/internal/utils"
	"github.com/pixrelay/pixrelay/internal/version"
	"github.com/pixrelay/pixrelay/internal/watchdir"
)

const daemonShutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var addr string
	var authToken string
	var watchDir string

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the upload daemon with its local control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			slog.Info("pixrelay",
				"version", version.Version,
				"revision", version.Revision,
				"build", version.BuildDate)

			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}

			viper.BindPFlag("addr", cmd.Flags().Lookup("addr"))
			viper.BindPFlag("token", cmd.Flags().Lookup("token"))
			if addr == "" {
				addr = viper.GetString("addr")
			}
			if addr == "" {
				addr = cfg.Daemon.Addr
			}
			if authToken == "" {
				authToken = viper.GetString("token")
			}
			if authToken == "" {
				authToken = cfg.Daemon.Token
			}
			enableMetrics := cfg.Daemon.Metrics
			if cmd.Flag("metrics").Changed {
				enableMetrics, _ = cmd.Flags().GetBool("metrics")
			}

			return runDaemon(cmd.Context(), cfg, daemonOptions{
				Addr:          addr,
				AuthToken:     authToken,
				EnableMetrics: enableMetrics,
				WatchDir:      watchDir,
			})
		},
	}

	daemonCmd.Flags().SortFlags = false
	daemonCmd.Flags().StringVarP(&addr, "addr", "a", "", "control plane bind address, default from config")
	daemonCmd.Flags().StringVarP(&authToken, "token", "t", "", "control plane access token, default from config")
	daemonCmd.Flags().Bool("metrics", true, "expose prometheus metrics on /metrics")
	daemonCmd.Flags().StringVarP(&watchDir, "watch-dir", "w", "", "also watch a directory for images to auto-upload")

	return daemonCmd
}

type daemonOptions struct {
	Addr          string
	AuthToken     string
	EnableMetrics bool
	WatchDir      string
}

// runDaemon holds the daemon lock, then runs the control plane and the
// optional drop-folder watcher until the context ends.
func runDaemon(ctx context.Context, cfg *config.Config, opts daemonOptions) error {
	if err := utils.EnsureParent(cfg.LockPath()); err != nil {
		return err
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon is already running, lock held at %s", cfg.LockPath())
	}
	defer lock.Unlock()

	stack := newBackendStack(cfg, uploader.DefaultMetrics())

	// Accepted uploads outlive their HTTP requests but not the daemon.
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	store := controlplane.NewRunStore(0)
	server, err := controlplane.NewServer(&controlplane.Config{
		Addr:          opts.Addr,
		AuthToken:     opts.AuthToken,
		EnableMetrics: opts.EnableMetrics,
		CORSOrigins:   cfg.Daemon.CORSOrigins,
	}, &controlplane.Services{
		Coordinator: stack.Coordinator,
		Contract:    stack.Contract,
		Backends:    &cfg.Backends,
		Runs:        store,
		LogPath:     config.DefaultLogFilePath,
		RunContext:  runCtx,
	})
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := server.Start(egCtx); err != nil {
			return fmt.Errorf("control plane: %w", err)
		}
		return nil
	})

	if opts.WatchDir != "" {
		watcher, err := watchdir.New(watchdir.Config{
			Dir:       opts.WatchDir,
			Backends:  watchBackends(cfg),
			Patterns:  cfg.Watch.Patterns,
			Debounce:  time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
			Submitter: stack.Coordinator,
			OnRun:     store.Add,
		})
		if err != nil {
			return err
		}
		eg.Go(func() error {
			if err := watcher.Start(runCtx); err != nil {
				return fmt.Errorf("watchdir: %w", err)
			}
			<-egCtx.Done()
			stopRuns()
			watcher.Stop()
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("daemon stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), daemonShutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// watchBackends picks the watcher's backend set: explicit watch config
// first, otherwise everything with credentials.
func watchBackends(cfg *config.Config) []string {
	if len(cfg.Watch.Backends) > 0 {
		return cfg.Watch.Backends
	}
	return cfg.Backends.Enabled()
}
