package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSessionSweep marks sessions inactive after missed check-ins.
	TaskSessionSweep = "session:sweep"
	// TaskAuditPrune removes audit events past the retention window.
	TaskAuditPrune = "audit:prune"
)

// SessionSweepPayload controls the staleness sweep. GraceMultiplier is the
// number of missed polling intervals tolerated before a session is
// considered gone.
type SessionSweepPayload struct {
	GraceMultiplier float64 `json:"grace_multiplier"`
}

// NewSessionSweepTask constructs an Asynq task for the staleness sweep.
func NewSessionSweepTask(graceMultiplier float64) (*asynq.Task, error) {
	data, err := json.Marshal(SessionSweepPayload{GraceMultiplier: graceMultiplier})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionSweep, data), nil
}

// AuditPrunePayload controls the audit retention job.
type AuditPrunePayload struct {
	RetentionHours float64 `json:"retention_hours"`
}

// NewAuditPruneTask constructs an Asynq task for audit retention.
func NewAuditPruneTask(retentionHours float64) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}
