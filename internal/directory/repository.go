package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-c2/vantage/internal/shared"
)

// Repository defines the directory lookups the core needs.
type Repository interface {
	GetTargetByName(ctx context.Context, name string) (Target, error)
	MarkStaleSessionsInactive(ctx context.Context, graceMultiplier float64) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// GetTargetByName fetches a target and its sessions. Session order is fixed
// (session_id ascending) so tie-breaking during quick binding is
// deterministic.
func (r *PGRepository) GetTargetByName(ctx context.Context, name string) (Target, error) {
	var target Target
	err := r.pool.QueryRow(ctx, `SELECT name FROM targets WHERE name = $1`, name).Scan(&target.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Target{}, fmt.Errorf("%w: target %s", shared.ErrNotFound, name)
		}
		return Target{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT session_id, target_name, status, poll_interval, last_checkin
		   FROM sessions WHERE target_name = $1 ORDER BY session_id`, name)
	if err != nil {
		return Target{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.SessionID, &s.TargetName, &s.Status, &s.Interval, &s.LastCheckin); err != nil {
			return Target{}, err
		}
		target.Sessions = append(target.Sessions, s)
	}
	return target, rows.Err()
}

// MarkStaleSessionsInactive flips sessions to inactive when their last
// check-in is older than graceMultiplier times their polling interval. The
// worker runs this on a schedule; quick binding reads whatever status is
// current.
func (r *PGRepository) MarkStaleSessionsInactive(ctx context.Context, graceMultiplier float64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = $1
		  WHERE status = $2
		    AND last_checkin < $3 - (poll_interval * $4 * interval '1 second')`,
		SessionInactive, SessionActive, time.Now().UTC(), graceMultiplier)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
