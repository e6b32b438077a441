package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vantage-c2/vantage/internal/jobs"
)

// AuditPruner removes audit events older than the given age.
type AuditPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// AuditPruneJob enforces the audit retention window.
type AuditPruneJob struct {
	Pruner  AuditPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditPruneJob initialises the retention handler.
func NewAuditPruneJob(pruner AuditPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{Pruner: pruner, Logger: logger, Metrics: metrics}
}

// Handle removes audit events older than the retention window.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pruner == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		return asynq.SkipRetry
	}

	retention := time.Duration(payload.RetentionHours * float64(time.Hour))
	tracker := j.Metrics.Track(TaskAuditPrune)
	pruned, err := j.Pruner.Prune(ctx, retention)
	if err != nil {
		j.logger().Error("audit prune failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddPrunedEvents(pruned)
	if pruned > 0 {
		j.logger().Info("audit events pruned",
			slog.Int64("count", pruned),
			slog.Duration("retention", retention))
	}
	return tracker.End(nil)
}

func (j *AuditPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
