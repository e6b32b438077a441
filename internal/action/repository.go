package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-c2/vantage/internal/shared"
)

// Filter narrows list_actions results.
type Filter struct {
	Owner      string
	TargetName string
	Page       shared.Page
}

// Repository defines persistence for actions. Create is insert-if-absent so
// two concurrent creates with the same id resolve to one winner; Cancel and
// MarkRetrieved are conditional single-winner transitions.
type Repository interface {
	Create(ctx context.Context, action Action) error
	Get(ctx context.Context, actionID string) (Action, error)
	List(ctx context.Context, filter Filter) ([]Action, error)
	Cancel(ctx context.Context, actionID string) error
	MarkRetrieved(ctx context.Context, actionID, sessionID string) error
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

// Create inserts an action, failing with ErrDuplicateKey on id collision.
func (r *PGRepository) Create(ctx context.Context, action Action) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO actions
		   (action_id, target_name, action_string, action_type, fields,
		    bound_session_id, queue_time, owner, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		action.ActionID, action.TargetName, action.ActionString, action.Type, action.Fields,
		nullable(action.BoundSessionID), action.QueueTime, action.Owner, action.Status)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: action %s", shared.ErrDuplicateKey, action.ActionID)
		}
		return err
	}
	return nil
}

// Get fetches an action by id.
func (r *PGRepository) Get(ctx context.Context, actionID string) (Action, error) {
	var a Action
	var bound, retrievedBy *string
	err := r.pool.QueryRow(ctx,
		`SELECT action_id, target_name, action_string, action_type, fields,
		        bound_session_id, queue_time, owner, status, retrieved_by, retrieved_at
		   FROM actions WHERE action_id = $1`, actionID).
		Scan(&a.ActionID, &a.TargetName, &a.ActionString, &a.Type, &a.Fields,
			&bound, &a.QueueTime, &a.Owner, &a.Status, &retrievedBy, &a.RetrievedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Action{}, fmt.Errorf("%w: action %s", shared.ErrNotFound, actionID)
		}
		return Action{}, err
	}
	if bound != nil {
		a.BoundSessionID = *bound
	}
	if retrievedBy != nil {
		a.RetrievedBy = *retrievedBy
	}
	return a, nil
}

// List returns actions matching the filter, ordered ascending by queue_time
// then action_id so pagination over a fixed dataset is deterministic.
func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Action, error) {
	query := `SELECT action_id, target_name, action_string, action_type, fields,
	                 bound_session_id, queue_time, owner, status, retrieved_by, retrieved_at
	            FROM actions WHERE 1=1`
	args := []any{}
	if filter.Owner != "" {
		args = append(args, filter.Owner)
		query += fmt.Sprintf(` AND owner = $%d`, len(args))
	}
	if filter.TargetName != "" {
		args = append(args, filter.TargetName)
		query += fmt.Sprintf(` AND target_name = $%d`, len(args))
	}
	query += ` ORDER BY queue_time, action_id`
	args = append(args, filter.Page.Limit)
	query += fmt.Sprintf(` LIMIT $%d`, len(args))
	args = append(args, filter.Page.Offset)
	query += fmt.Sprintf(` OFFSET $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var bound, retrievedBy *string
		if err := rows.Scan(&a.ActionID, &a.TargetName, &a.ActionString, &a.Type, &a.Fields,
			&bound, &a.QueueTime, &a.Owner, &a.Status, &retrievedBy, &a.RetrievedAt); err != nil {
			return nil, err
		}
		if bound != nil {
			a.BoundSessionID = *bound
		}
		if retrievedBy != nil {
			a.RetrievedBy = *retrievedBy
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// Cancel transitions a queued action to cancelled. The conditional update
// serializes against MarkRetrieved: the loser of the race observes
// ErrInvalidStateTransition.
func (r *PGRepository) Cancel(ctx context.Context, actionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE actions SET status = $1 WHERE action_id = $2 AND status = $3`,
		StatusCancelled, actionID, StatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.transitionFailure(ctx, actionID)
}

// MarkRetrieved transitions a queued action to retrieved on behalf of the
// poll path. Retrieval is terminal: a retrieved action can never be
// cancelled, since the remote session may already be executing it.
func (r *PGRepository) MarkRetrieved(ctx context.Context, actionID, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE actions SET status = $1, retrieved_by = $2, retrieved_at = $3
		  WHERE action_id = $4 AND status = $5`,
		StatusRetrieved, sessionID, time.Now().UTC(), actionID, StatusQueued)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return r.transitionFailure(ctx, actionID)
}

// transitionFailure distinguishes a missing action from a lost race.
func (r *PGRepository) transitionFailure(ctx context.Context, actionID string) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM actions WHERE action_id = $1`, actionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: action %s", shared.ErrNotFound, actionID)
		}
		return err
	}
	return fmt.Errorf("%w: action %s is %s", shared.ErrInvalidStateTransition, actionID, status)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
