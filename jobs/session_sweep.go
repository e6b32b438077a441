package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/vantage-c2/vantage/internal/directory"
	jobmetrics "github.com/vantage-c2/vantage/internal/jobs"
)

// SessionSweepJob marks sessions inactive once they miss enough check-ins.
// Operators keep seeing the session in target listings, it just stops being
// a quick-bind candidate.
type SessionSweepJob struct {
	Directory directory.Repository
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewSessionSweepJob initialises the staleness sweep handler.
func NewSessionSweepJob(dir directory.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionSweepJob {
	return &SessionSweepJob{Directory: dir, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep pass.
func (j *SessionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Directory == nil {
		return errors.New("session sweep: handler not configured")
	}
	var payload SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GraceMultiplier <= 0 {
		payload.GraceMultiplier = 3
	}

	tracker := j.Metrics.Track(TaskSessionSweep)
	expired, err := j.Directory.MarkStaleSessionsInactive(ctx, payload.GraceMultiplier)
	if err != nil {
		j.logger().Error("session sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddExpiredSessions(expired)
	if expired > 0 {
		j.logger().Info("sessions marked inactive", slog.Int64("count", expired))
	}
	return tracker.End(nil)
}

func (j *SessionSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
