package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// RefreshOptions holds flags for the refresh command.
type RefreshOptions struct {
	Schedule string
	Watch    bool
}

// RefreshResult reports one pass over every treasury.
type RefreshResult struct {
	Refreshed int    `json:"refreshed"`
	Error     string `json:"error,omitempty"`
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefreshOptions{}

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-read every treasury balance from the ledger",
		Long: `Refresh the cached balance of every treasury.

Without a schedule the command makes one pass and exits. With --schedule
(a standard five-field cron expression or a descriptor such as
"@every 10m"), or with --watch and refresh.schedule set in the config, it
keeps refreshing on that schedule until interrupted.

Examples:
  paystream refresh
  paystream refresh --schedule "*/5 * * * *"
  paystream refresh --watch --config ./paystream.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, s *session) error {
				schedule := opts.Schedule
				if schedule == "" && opts.Watch {
					schedule = s.cfg.Refresh.Schedule
					if schedule == "" {
						return NewExitError(ExitCommandError, "--watch needs refresh.schedule in the config")
					}
				}
				if schedule == "" {
					return s.refreshOnce(ctx)
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return s.refreshLoop(ctx, schedule)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "cron schedule to keep refreshing on")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "keep refreshing on the configured schedule")

	return cmd
}

// refreshOnce refreshes every treasury and reports the pass. Failures of
// single treasuries do not stop the pass but fail the command.
func (s *session) refreshOnce(ctx context.Context) error {
	result := s.refreshPass(ctx)
	if err := s.out.Emit(result, func(w io.Writer) { writeRefresh(w, result) }); err != nil {
		return err
	}
	if result.Error != "" {
		return NewExitError(ExitFailure, "refresh failed for some treasuries")
	}
	return nil
}

func (s *session) refreshPass(ctx context.Context) RefreshResult {
	n, err := s.host.RefreshAll(ctx)
	result := RefreshResult{Refreshed: n}
	if err != nil {
		result.Error = err.Error()
		s.logger.ErrorContext(ctx, "refresh failed", "refreshed", n, "error", err)
	}
	return result
}

// refreshLoop runs a pass on every tick of schedule until ctx is done.
func (s *session) refreshLoop(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid schedule %q", schedule), err)
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		result := s.refreshPass(ctx)
		_ = s.out.Emit(result, func(w io.Writer) { writeRefresh(w, result) })
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register refresh task", err)
	}

	c.Start()
	s.logger.InfoContext(ctx, "refresh scheduler started", "schedule", schedule)
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.InfoContext(ctx, "refresh scheduler stopped")
	return nil
}

func writeRefresh(w io.Writer, r RefreshResult) {
	fmt.Fprintf(w, "Refreshed %d treasury(ies)\n", r.Refreshed)
	if r.Error != "" {
		fmt.Fprintf(w, "  Errors: %s\n", r.Error)
	}
}
