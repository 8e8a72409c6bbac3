package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lubepos/lubepos/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExportsPurge removes export files older than the retention window.
	TaskExportsPurge = "exports:purge"
)

// PurgePayload carries scheduling metadata.
type PurgePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewExportsPurgeTask constructs the retention task.
func NewExportsPurgeTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(PurgePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExportsPurge, body, asynq.Queue(QueueDefault)), nil
}

// Purger deletes expired export files.
type Purger interface {
	Purge(ctx context.Context) (int, error)
}

// PurgeJob handles TaskExportsPurge.
type PurgeJob struct {
	purger  Purger
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewPurgeJob constructs PurgeJob.
func NewPurgeJob(purger Purger, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PurgeJob{purger: purger, logger: logger, metrics: metrics}
}

// Handle processes the task.
func (j *PurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track(TaskExportsPurge)
	removed, err := j.purger.Purge(ctx)
	if err != nil {
		j.logger.Error("exports purge", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics.AddPurged(removed)
	j.logger.Info("exports purged", slog.Int("removed", removed))
	return tracker.End(nil)
}
