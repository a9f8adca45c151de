package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/salpa/profits/internal/jobs"
)

// VersionBumper advances the report cache generation.
type VersionBumper interface {
	Bump(ctx context.Context) (int64, error)
}

// SnapshotBumpJob invalidates every cached report by moving the cache
// version forward.
type SnapshotBumpJob struct {
	Cache   VersionBumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSnapshotBumpJob wires dependencies for the bump handler.
func NewSnapshotBumpJob(cache VersionBumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *SnapshotBumpJob {
	return &SnapshotBumpJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes profits:snapshot_bump tasks.
func (j *SnapshotBumpJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("profits snapshot bump: cache not configured")
	}
	var payload SnapshotBumpPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("profits snapshot bump: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	payload.RunID = runID(payload.RunID)
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskProfitsSnapshotBump)

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskProfitsSnapshotBump), slog.String("run_id", payload.RunID))

	version, err := j.Cache.Bump(ctx)
	if err != nil {
		logger.Error("bump cache version", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("cache version bumped", slog.Int64("version", version), slog.String("reason", payload.Reason))
	return tracker.End(nil)
}
