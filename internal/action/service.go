package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vantage-c2/vantage/internal/audit"
	"github.com/vantage-c2/vantage/internal/directory"
	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/shared"
)

// CreateParams are the validated inputs to create_action.
type CreateParams struct {
	TargetName     string
	ActionString   string
	BoundSessionID string
	ActionID       string // caller-supplied override; empty means generate
	Quick          bool   // bind to the fastest active session, overrides BoundSessionID
}

// Service implements the action operation surface.
type Service struct {
	repo   Repository
	dir    directory.Repository
	audit  audit.Recorder
	logger *slog.Logger
}

// NewService constructs a Service. recorder and logger may be nil.
func NewService(repo Repository, dir directory.Repository, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, dir: dir, audit: recorder, logger: logger}
}

// Create queues a new action. The target must exist, the action string must
// parse, and a caller-supplied action_id must be globally unique. With
// Quick set, the fastest active session of the target is bound instead of
// any explicit BoundSessionID.
func (s *Service) Create(ctx context.Context, actx identity.AuthContext, params CreateParams) (string, error) {
	owner := actx.Username
	if owner == "" {
		owner = OwnerNone
	}

	target, err := s.dir.GetTargetByName(ctx, params.TargetName)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", fmt.Errorf("%w: target %s does not exist", shared.ErrCannotBindAction, params.TargetName)
		}
		return "", err
	}

	parsed, err := Parse(params.ActionString)
	if err != nil {
		return "", err
	}

	boundSessionID := params.BoundSessionID
	if params.Quick {
		session, err := directory.QuickSession(target)
		if err != nil {
			return "", err
		}
		boundSessionID = session.SessionID
	}

	actionID := params.ActionID
	if actionID == "" {
		actionID = uuid.NewString()
	}

	act := Action{
		ActionID:       actionID,
		TargetName:     target.Name,
		ActionString:   params.ActionString,
		Type:           parsed.Type,
		Fields:         parsed.Fields,
		BoundSessionID: boundSessionID,
		QueueTime:      time.Now().UTC(),
		Owner:          owner,
		Status:         StatusQueued,
	}
	if err := s.repo.Create(ctx, act); err != nil {
		return "", err
	}

	s.recordEvent(ctx, actx, "create_action", actionID, map[string]any{
		"target_name":   target.Name,
		"action_string": params.ActionString,
	})
	s.logger.Info("action queued",
		slog.String("action_id", actionID),
		slog.String("target", target.Name),
		slog.String("owner", owner))
	return actionID, nil
}

// Get returns an action document by id.
func (s *Service) Get(ctx context.Context, actionID string) (Document, error) {
	act, err := s.repo.Get(ctx, actionID)
	if err != nil {
		return Document{}, err
	}
	return act.AsDocument(), nil
}

// Cancel transitions a queued action to cancelled. Cancelling an action a
// session has already retrieved fails: the remote side may be executing it.
func (s *Service) Cancel(ctx context.Context, actx identity.AuthContext, actionID string) error {
	if err := s.repo.Cancel(ctx, actionID); err != nil {
		return err
	}
	s.recordEvent(ctx, actx, "cancel_action", actionID, nil)
	s.logger.Info("action cancelled", slog.String("action_id", actionID))
	return nil
}

// List returns documents keyed by action_id, filtered by owner and/or
// target and paginated with limit/offset.
func (s *Service) List(ctx context.Context, filter Filter) (map[string]Document, error) {
	actions, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	docs := make(map[string]Document, len(actions))
	for _, act := range actions {
		docs[act.ActionID] = act.AsDocument()
	}
	return docs, nil
}

// Duplicate queues a fresh action equivalent to an existing one: same
// target, action string and explicit session binding. This is a direct
// internal composition with Create, not a re-entrant API dispatch.
func (s *Service) Duplicate(ctx context.Context, actx identity.AuthContext, actionID string) (string, error) {
	act, err := s.repo.Get(ctx, actionID)
	if err != nil {
		return "", err
	}
	return s.Create(ctx, actx, CreateParams{
		TargetName:     act.TargetName,
		ActionString:   act.ActionString,
		BoundSessionID: act.BoundSessionID,
	})
}

// MarkRetrieved records that a session fetched the action. Called by the
// dispatch/poll path, not exposed on the operator API.
func (s *Service) MarkRetrieved(ctx context.Context, actionID, sessionID string) error {
	if err := s.repo.MarkRetrieved(ctx, actionID, sessionID); err != nil {
		return err
	}
	s.logger.Info("action retrieved",
		slog.String("action_id", actionID),
		slog.String("session_id", sessionID))
	return nil
}

func (s *Service) recordEvent(ctx context.Context, actx identity.AuthContext, op, actionID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Event{
		Actor:     actx.Username,
		Operation: op,
		Entity:    "action",
		EntityID:  actionID,
		Meta:      meta,
		At:        time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("operation", op), slog.Any("error", err))
	}
}
