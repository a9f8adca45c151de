package cli

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/salpa/profits/jobs"
)

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Failed    int    `json:"failed"`
}

func newJobsCmd(deps Dependencies, opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	warmup := &cobra.Command{
		Use:   "warmup",
		Short: "Enqueue a report cache warmup",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Jobs == nil {
				return errors.New("jobs: client not configured")
			}
			ctx, cancel := commandContext(cmd, deps.Timeout)
			defer cancel()
			info, err := deps.Jobs.EnqueueWarmup(ctx, jobs.WarmupPayload{Year: opts.year, Month: opts.month})
			if err != nil {
				return err
			}
			return printEnqueued(cmd, opts, info)
		},
	}
	warmup.Flags().IntVar(&opts.month, "month", 0, "month 1-12 (default: whole year)")

	bump := &cobra.Command{
		Use:   "bump",
		Short: "Enqueue a cache invalidation after a data load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.Jobs == nil {
				return errors.New("jobs: client not configured")
			}
			ctx, cancel := commandContext(cmd, deps.Timeout)
			defer cancel()
			info, err := deps.Jobs.EnqueueSnapshotBump(ctx, jobs.SnapshotBumpPayload{Reason: opts.reason})
			if err != nil {
				return err
			}
			return printEnqueued(cmd, opts, info)
		},
	}
	bump.Flags().StringVar(&opts.reason, "reason", "manual", "reason recorded with the bump")

	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Report the state of the default queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := inspectQueue(deps.Inspector)
			if err != nil {
				return err
			}
			if opts.output == outputJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}
			return renderQueue(cmd.OutOrStdout(), stats)
		},
	}

	cmd.AddCommand(warmup, bump, inspect)
	return cmd
}

func inspectQueue(inspector jobs.QueueInspector) (QueueStats, error) {
	if inspector == nil {
		return QueueStats{}, errors.New("jobs: inspector not configured")
	}
	info, err := inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Failed = info.Failed
	}
	return stats, nil
}

func printEnqueued(cmd *cobra.Command, opts *options, info *asynq.TaskInfo) error {
	if info == nil {
		return errors.New("jobs: enqueue returned no task info")
	}
	if opts.output == outputJSON {
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"id":    info.ID,
			"type":  info.Type,
			"queue": info.Queue,
		})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	return err
}
