package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/salpa/profits/internal/profits"
	"github.com/salpa/profits/jobs"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Reports is the part of the profits service the commands drive.
type Reports interface {
	CurrentPeriod(ctx context.Context) (profits.Period, error)
	ResolvePeriod(ctx context.Context, year int) (profits.Period, error)
	BuildReport(ctx context.Context, req profits.ReportRequest) (profits.Report, error)
	ComputeBalance(ctx context.Context, year int, scope profits.Scope) (profits.RunningBalance, error)
	BuildHistory(ctx context.Context, scope profits.Scope, year int) (profits.History, error)
}

// JobQueue submits background jobs.
type JobQueue interface {
	EnqueueWarmup(ctx context.Context, payload jobs.WarmupPayload) (*asynq.TaskInfo, error)
	EnqueueSnapshotBump(ctx context.Context, payload jobs.SnapshotBumpPayload) (*asynq.TaskInfo, error)
}

// Dependencies are resolved by main before the command tree runs. Jobs and
// Inspector may be nil when Redis is not configured.
type Dependencies struct {
	Reports   Reports
	Jobs      JobQueue
	Inspector jobs.QueueInspector
	Timeout   time.Duration
}

const (
	outputTable = "table"
	outputJSON  = "json"
)

type options struct {
	output string
	year   int
	month  int
	branch string
	rep    string
	reason string
}

// NewRootCommand builds the profitsctl command tree.
func NewRootCommand(deps Dependencies) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "profitsctl",
		Short:         "Inspect profit reports and running balances",
		Version:       fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch opts.output {
			case outputTable, outputJSON:
				return nil
			default:
				return fmt.Errorf("unsupported output %q (table, json)", opts.output)
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.output, "output", "o", outputTable, "output format (table, json)")
	pf.IntVar(&opts.year, "year", 0, "fiscal year (default: reference year)")
	pf.StringVar(&opts.branch, "branch", "", "branch name")
	pf.StringVar(&opts.rep, "rep", "", "representative name")

	cmd.AddCommand(
		newPeriodCmd(deps, opts),
		newReportCmd(deps, opts),
		newBalanceCmd(deps, opts),
		newHistoryCmd(deps, opts),
		newJobsCmd(deps, opts),
	)
	return cmd
}

func commandContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (o *options) scope() (profits.Scope, error) {
	return profits.NormaliseScope(profits.Scope{
		Branch:         strings.TrimSpace(o.branch),
		Representative: strings.TrimSpace(o.rep),
	})
}

// resolveYear falls back to the provider's reference year.
func resolveYear(ctx context.Context, reports Reports, year int) (int, error) {
	if year != 0 {
		return year, nil
	}
	period, err := reports.CurrentPeriod(ctx)
	if err != nil {
		return 0, err
	}
	return period.Year, nil
}

func requireReports(deps Dependencies) error {
	if deps.Reports == nil {
		return errors.New("reports not configured")
	}
	return nil
}

func newPeriodCmd(deps Dependencies, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "period",
		Short: "Resolve the months available for a fiscal year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireReports(deps); err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, deps.Timeout)
			defer cancel()

			var (
				period profits.Period
				err    error
			)
			if opts.year == 0 {
				period, err = deps.Reports.CurrentPeriod(ctx)
			} else {
				period, err = deps.Reports.ResolvePeriod(ctx, opts.year)
			}
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), period)
			}
			return renderPeriod(cmd.OutOrStdout(), period)
		},
	}
}

func newReportCmd(deps Dependencies, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the profit report of a scope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireReports(deps); err != nil {
				return err
			}
			scope, err := opts.scope()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, deps.Timeout)
			defer cancel()

			year, err := resolveYear(ctx, deps.Reports, opts.year)
			if err != nil {
				return err
			}
			report, err := deps.Reports.BuildReport(ctx, profits.ReportRequest{Scope: scope, Year: year, Month: opts.month})
			if err != nil {
				return err
			}
			if report.IsDegraded() {
				warnDegraded(cmd.ErrOrStderr(), report.Degraded)
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			return renderReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&opts.month, "month", 0, "month 1-12 (default: whole year)")
	return cmd
}

func newBalanceCmd(deps Dependencies, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Carry the balance of a scope forward to the end of a year",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireReports(deps); err != nil {
				return err
			}
			scope, err := opts.scope()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, deps.Timeout)
			defer cancel()

			year, err := resolveYear(ctx, deps.Reports, opts.year)
			if err != nil {
				return err
			}
			rb, err := deps.Reports.ComputeBalance(ctx, year, scope)
			if err != nil {
				return err
			}
			if len(rb.Degraded) > 0 {
				warnDegraded(cmd.ErrOrStderr(), rb.Degraded)
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), rb)
			}
			return renderBalance(cmd.OutOrStdout(), rb)
		},
	}
}

func newHistoryCmd(deps Dependencies, opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List monthly results of a scope, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireReports(deps); err != nil {
				return err
			}
			scope, err := opts.scope()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, deps.Timeout)
			defer cancel()

			year, err := resolveYear(ctx, deps.Reports, opts.year)
			if err != nil {
				return err
			}
			hist, err := deps.Reports.BuildHistory(ctx, scope, year)
			if err != nil {
				return err
			}
			if len(hist.Degraded) > 0 {
				warnDegraded(cmd.ErrOrStderr(), hist.Degraded)
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), hist)
			}
			return renderHistory(cmd.OutOrStdout(), hist)
		},
	}
}
