// Package audit records mutating control-plane operations for later review.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event is one recorded operation invocation.
type Event struct {
	Actor     string
	Operation string
	Entity    string
	EntityID  string
	Meta      map[string]any
	At        time.Time
}

// Recorder persists events. Services treat recording as best-effort so a
// failed audit write never fails the operation itself.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// PGRecorder writes events to the audit_events table.
type PGRecorder struct {
	pool *pgxpool.Pool
}

// NewRecorder constructs a PostgreSQL recorder.
func NewRecorder(pool *pgxpool.Pool) *PGRecorder {
	return &PGRecorder{pool: pool}
}

var _ Recorder = (*PGRecorder)(nil)

// Record persists the event.
func (r *PGRecorder) Record(ctx context.Context, event Event) error {
	if event.Operation == "" {
		return errors.New("audit: event requires an operation")
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_events (actor, operation, entity, entity_id, meta, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		event.Actor, event.Operation, event.Entity, event.EntityID, metaJSON, event.At)
	return err
}

// Prune removes events older than the retention window. The worker runs this
// on a schedule.
func (r *PGRecorder) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
