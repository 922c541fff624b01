package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixrelay/pixrelay/internal/config"
	"github.com/pixrelay/pixrelay/internal/uploader"
)

const backendTestTimeout = 15 * time.Second

func init() {
	backendsCmd := newBackendsCmd()
	backendsCmd.AddCommand(newBackendsTestCmd())
	rootCmd.AddCommand(backendsCmd)
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List known backends and their configuration state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			// listing works without a config file, everything shows as
			// not configured
			cfg, err := loadCLIConfig()
			if err != nil {
				if !errors.Is(err, errNoConfig) {
					return err
				}
				cfg = config.Default()
			}

			stack := newBackendStack(cfg, nil)
			for _, id := range stack.Registry.List() {
				state := gray("not configured")
				if cfg.Backends.Has(id) {
					state = green("configured")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", id, state)
			}
			return nil
		},
	}
}

func newBackendsTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test [BACKEND]",
		Short: "Run connection tests without uploading",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ids := args
			if len(ids) == 0 {
				ids = cfg.Backends.Enabled()
			}
			if len(ids) == 0 {
				return fmt.Errorf("no backends configured, add credentials to %s", cfg.Path)
			}

			stack := newBackendStack(cfg, nil)
			failed := 0
			for _, id := range ids {
				if err := testBackend(cmd.Context(), stack, id); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-10s %s\n", red("fail"), id, err)
					failed++
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %-10s\n", green("ok"), id)
				}
			}

			if failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
}

func testBackend(ctx context.Context, stack *backendStack, id string) error {
	adapter, err := stack.Registry.Create(id)
	if err != nil {
		return err
	}
	checker, ok := adapter.(uploader.Checker)
	if !ok {
		return errors.New("backend has no connection test")
	}

	ctx, cancel := context.WithTimeout(ctx, backendTestTimeout)
	defer cancel()
	if err := checker.Check(ctx); err != nil {
		serr := uploader.Classify(err)
		return fmt.Errorf("%s (%s)", serr.Message, serr.Kind)
	}
	return nil
}
