package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

func init() {
	rootCmd.AddCommand(newUploadCmd())
}

func newUploadCmd() *cobra.Command {
	var backends []string
	var useTUI bool
	var timeout time.Duration

	uploadCmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload an image to every selected backend at once",
		Long: `Upload fans one file out to all selected backends concurrently and
prints a per-backend summary. A failing backend never aborts the others.

Exit codes:
  0  every backend succeeded
  1  every backend failed
  2  partial success, at least one backend failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCLIConfig()
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			selected := backends
			if len(selected) == 0 {
				selected = cfg.Backends.Enabled()
			}
			if len(selected) == 0 {
				return fmt.Errorf("no backends configured, add credentials to %s", cfg.Path)
			}

			ctx := cmd.Context()
			var cancel context.CancelFunc
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
			} else {
				ctx, cancel = context.WithCancel(ctx)
			}
			defer cancel()

			stack := newBackendStack(cfg, nil)
			run, err := stack.Coordinator.Start(ctx, uploader.UploadRequest{
				FilePath: args[0],
				Backends: selected,
			})
			if err != nil {
				return err
			}

			var res *uploader.AggregateResult
			if useTUI && isatty.IsTerminal(os.Stdout.Fd()) {
				res, err = runUploadTUI(ctx, cancel, run)
			} else {
				res, err = followRun(ctx, cmd.OutOrStdout(), run)
			}
			if err != nil {
				return err
			}

			printSummary(cmd.OutOrStdout(), res)
			os.Exit(exitCodeFor(res.Overall))
			return nil
		},
	}

	uploadCmd.Flags().SortFlags = false
	uploadCmd.Flags().StringSliceVarP(&backends, "backends", "b", nil, "backend ids, default all configured")
	uploadCmd.Flags().BoolVar(&useTUI, "tui", false, "render live progress bars")
	uploadCmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline, 0 means none")

	return uploadCmd
}

// followRun prints a line per backend step change and per settled
// outcome, then returns the aggregate result.
func followRun(ctx context.Context, w io.Writer, run *uploader.Run) (*uploader.AggregateResult, error) {
	lastStep := make(map[string]string)
	for ev := range run.Events() {
		switch ev.Type {
		case uploader.RunEventProgress:
			p := ev.Progress
			if p.Step == "" || p.Step == lastStep[p.Backend] {
				continue
			}
			lastStep[p.Backend] = p.Step
			fmt.Fprintf(w, "%-10s %s %s\n", gray(p.Backend), p.Step, gray(fmt.Sprintf("%.0f%%", p.Percent)))
		case uploader.RunEventOutcome:
			o := ev.Outcome
			if o.Status == uploader.StatusSuccess {
				fmt.Fprintf(w, "%s %-10s %s\n", green("ok"), o.Backend, o.URL)
			} else {
				fmt.Fprintf(w, "%s %-10s %s\n", red("fail"), o.Backend, outcomeError(o))
			}
		case uploader.RunEventDone:
			return ev.Result, nil
		}
	}
	return run.Wait(ctx)
}

func printSummary(w io.Writer, res *uploader.AggregateResult) {
	succeeded := 0
	for _, o := range res.Outcomes {
		if o.Status == uploader.StatusSuccess {
			succeeded++
		}
	}

	fmt.Fprintln(w)
	switch res.Overall {
	case uploader.AllSucceeded:
		fmt.Fprintf(w, "%s %d/%d backends succeeded\n", green("done:"), succeeded, len(res.Outcomes))
	case uploader.PartialSuccess:
		fmt.Fprintf(w, "%s %d/%d backends succeeded\n", yellow("partial:"), succeeded, len(res.Outcomes))
	default:
		fmt.Fprintf(w, "%s 0/%d backends succeeded\n", red("failed:"), len(res.Outcomes))
	}

	for _, o := range res.Failed() {
		serr := o.Error
		if serr == nil {
			continue
		}
		line := fmt.Sprintf("  %s: %s (%s)", o.Backend, serr.Message, serr.Kind)
		if serr.SuggestedAction != "" {
			line += " " + gray(serr.SuggestedAction)
		}
		fmt.Fprintln(w, line)
	}

	if url := res.PrimaryURL(); url != "" {
		fmt.Fprintf(w, "%s %s\n", cyan(res.Primary+":"), url)
	}
}

func outcomeError(o *uploader.UploadOutcome) string {
	if o.Error == nil {
		return "unknown error"
	}
	return o.Error.Message
}

// exitCodeFor maps the aggregate outcome onto the documented exit
// codes: 0 all succeeded, 1 all failed, 2 partial.
func exitCodeFor(overall uploader.OverallStatus) int {
	switch overall {
	case uploader.AllSucceeded:
		return 0
	case uploader.PartialSuccess:
		return 2
	default:
		return 1
	}
}
