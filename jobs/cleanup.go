package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/siep/siep/internal/jobs"
)

// TaskSessionCleanup prunes expired rows from the login session registry.
const TaskSessionCleanup = "auth:sessions:cleanup"

// SessionPruner deletes session records that expired before the cutoff.
type SessionPruner interface {
	PruneExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// NewSessionCleanupTask builds the periodic cleanup task.
func NewSessionCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskSessionCleanup, nil, asynq.MaxRetry(3))
}

// SessionCleanupJob handles TaskSessionCleanup.
type SessionCleanupJob struct {
	pruner  SessionPruner
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSessionCleanupJob constructs the job.
func NewSessionCleanupJob(pruner SessionPruner, metrics *jobmetrics.Metrics, logger *slog.Logger) *SessionCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionCleanupJob{pruner: pruner, metrics: metrics, logger: logger, now: time.Now}
}

// ProcessTask implements asynq.Handler.
func (j *SessionCleanupJob) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(TaskSessionCleanup)
	removed, err := j.pruner.PruneExpiredSessions(ctx, j.now().UTC())
	if err != nil {
		return tracker.End(err)
	}
	j.logger.Info("expired sessions pruned", slog.Int64("removed", removed))
	return tracker.End(nil)
}
