package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixrelay/pixrelay/internal/watchdir"
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var backends []string
	var patterns []string
	var debounce time.Duration

	watchCmd := &cobra.Command{
		Use:   "watch DIR",
		Short: "Auto-upload images dropped into a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			selected := backends
			if len(selected) == 0 {
				selected = watchBackends(cfg)
			}
			pats := patterns
			if len(pats) == 0 {
				pats = cfg.Watch.Patterns
			}
			deb := debounce
			if deb <= 0 {
				deb = time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
			}

			stack := newBackendStack(cfg, nil)
			watcher, err := watchdir.New(watchdir.Config{
				Dir:       args[0],
				Backends:  selected,
				Patterns:  pats,
				Debounce:  deb,
				Submitter: stack.Coordinator,
			})
			if err != nil {
				return err
			}

			if err := watcher.Start(cmd.Context()); err != nil {
				return err
			}
			defer watcher.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s, uploading to %s. Press ctrl+c to stop.\n",
				cyan(args[0]), green(strings.Join(selected, ", ")))

			<-cmd.Context().Done()
			return nil
		},
	}

	watchCmd.Flags().SortFlags = false
	watchCmd.Flags().StringSliceVarP(&backends, "backends", "b", nil, "backend ids, default all configured")
	watchCmd.Flags().StringArrayVarP(&patterns, "pattern", "p", nil, "glob patterns relative to DIR")
	watchCmd.Flags().DurationVar(&debounce, "debounce", 0, "quiet window before upload, default from config")

	return watchCmd
}
