package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskProfitsWarmup precomputes company and branch reports into the cache.
	TaskProfitsWarmup = "profits:warmup"
	// TaskProfitsSnapshotBump invalidates cached reports after a data load.
	TaskProfitsSnapshotBump = "profits:snapshot_bump"
)

// WarmupPayload selects the period to warm. A zero year means the
// provider's reference year.
type WarmupPayload struct {
	RunID string `json:"run_id"`
	Year  int    `json:"year,omitempty"`
	Month int    `json:"month,omitempty"`
}

// SnapshotBumpPayload records why the cache generation moved.
type SnapshotBumpPayload struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

// NewWarmupTask constructs a warmup task. Scheduled tasks leave RunID
// empty so each run gets its own id when handled.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	if payload.Month < 0 || payload.Month > 12 {
		return nil, fmt.Errorf("jobs: warmup month %d out of range", payload.Month)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProfitsWarmup, data), nil
}

// NewSnapshotBumpTask constructs a cache invalidation task.
func NewSnapshotBumpTask(payload SnapshotBumpPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProfitsSnapshotBump, data, asynq.MaxRetry(3)), nil
}

func runID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}
