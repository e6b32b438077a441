package action

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantage-c2/vantage/internal/directory"
	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/shared"
)

type memoryActionRepo struct {
	mu      sync.Mutex
	actions map[string]Action
}

func newMemoryActionRepo() *memoryActionRepo {
	return &memoryActionRepo{actions: make(map[string]Action)}
}

func (r *memoryActionRepo) Create(ctx context.Context, action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[action.ActionID]; ok {
		return fmt.Errorf("%w: action %s", shared.ErrDuplicateKey, action.ActionID)
	}
	r.actions[action.ActionID] = action
	return nil
}

func (r *memoryActionRepo) Get(ctx context.Context, actionID string) (Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	act, ok := r.actions[actionID]
	if !ok {
		return Action{}, fmt.Errorf("%w: action %s", shared.ErrNotFound, actionID)
	}
	return act, nil
}

func (r *memoryActionRepo) List(ctx context.Context, filter Filter) ([]Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Action
	for _, act := range r.actions {
		if filter.Owner != "" && act.Owner != filter.Owner {
			continue
		}
		if filter.TargetName != "" && act.TargetName != filter.TargetName {
			continue
		}
		out = append(out, act)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].QueueTime.Equal(out[j].QueueTime) {
			return out[i].QueueTime.Before(out[j].QueueTime)
		}
		return out[i].ActionID < out[j].ActionID
	})
	start := filter.Page.Offset
	if start > len(out) {
		start = len(out)
	}
	end := start + filter.Page.Limit
	if filter.Page.Limit <= 0 || end > len(out) {
		end = len(out)
	}
	return out[start:end], nil
}

func (r *memoryActionRepo) Cancel(ctx context.Context, actionID string) error {
	return r.transition(actionID, StatusCancelled, "")
}

func (r *memoryActionRepo) MarkRetrieved(ctx context.Context, actionID, sessionID string) error {
	return r.transition(actionID, StatusRetrieved, sessionID)
}

func (r *memoryActionRepo) transition(actionID, to, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	act, ok := r.actions[actionID]
	if !ok {
		return fmt.Errorf("%w: action %s", shared.ErrNotFound, actionID)
	}
	if act.Status != StatusQueued {
		return fmt.Errorf("%w: action %s is %s", shared.ErrInvalidStateTransition, actionID, act.Status)
	}
	act.Status = to
	if sessionID != "" {
		now := time.Now().UTC()
		act.RetrievedBy = sessionID
		act.RetrievedAt = &now
	}
	r.actions[actionID] = act
	return nil
}

var _ Repository = (*memoryActionRepo)(nil)

type memoryDirectory struct {
	targets map[string]directory.Target
}

func (d *memoryDirectory) GetTargetByName(ctx context.Context, name string) (directory.Target, error) {
	target, ok := d.targets[name]
	if !ok {
		return directory.Target{}, fmt.Errorf("%w: target %s", shared.ErrNotFound, name)
	}
	return target, nil
}

func (d *memoryDirectory) MarkStaleSessionsInactive(ctx context.Context, graceMultiplier float64) (int64, error) {
	return 0, nil
}

var _ directory.Repository = (*memoryDirectory)(nil)

func newTestService() (*Service, *memoryActionRepo) {
	repo := newMemoryActionRepo()
	dir := &memoryDirectory{targets: map[string]directory.Target{
		"web-01": {
			Name: "web-01",
			Sessions: []directory.Session{
				{SessionID: "s1", Status: directory.SessionActive, Interval: 5},
				{SessionID: "s2", Status: directory.SessionActive, Interval: 2},
				{SessionID: "s3", Status: directory.SessionInactive, Interval: 8},
			},
		},
		"dark-host": {Name: "dark-host"},
	}}
	return NewService(repo, dir, nil, nil), repo
}

func operator(name string) identity.AuthContext {
	return identity.AuthContext{Username: name}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, operator("alice"), CreateParams{
		TargetName:   "web-01",
		ActionString: "exec whoami",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "web-01", doc.TargetName)
	require.Equal(t, "exec whoami", doc.ActionString)
	require.Equal(t, TypeExec, doc.ActionType)
	require.Equal(t, StatusQueued, doc.Status)
	require.Equal(t, "alice", doc.Owner)
	require.False(t, doc.QueueTime.IsZero())
}

func TestCreateUnknownTargetFailsAndPersistsNothing(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Create(context.Background(), operator("alice"), CreateParams{
		TargetName:   "ghost",
		ActionString: "exec id",
	})
	require.ErrorIs(t, err, shared.ErrCannotBindAction)
	require.Empty(t, repo.actions)
}

func TestCreateMalformedActionString(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Create(context.Background(), operator("alice"), CreateParams{
		TargetName:   "web-01",
		ActionString: "frobnicate all the things",
	})
	require.ErrorIs(t, err, shared.ErrMalformedAction)
	require.Empty(t, repo.actions)
}

func TestCreateUnownedFallback(t *testing.T) {
	svc, _ := newTestService()

	id, err := svc.Create(context.Background(), identity.AuthContext{}, CreateParams{
		TargetName:   "web-01",
		ActionString: "gather",
	})
	require.NoError(t, err)

	doc, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, OwnerNone, doc.Owner)
}

func TestCreateQuickBindsFastestActiveSession(t *testing.T) {
	svc, _ := newTestService()

	id, err := svc.Create(context.Background(), operator("alice"), CreateParams{
		TargetName:     "web-01",
		ActionString:   "exec id",
		BoundSessionID: "s3",
		Quick:          true,
	})
	require.NoError(t, err)

	doc, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "s2", doc.BoundSessionID, "quick mode overrides the explicit binding")
}

func TestCreateQuickNoActiveSession(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Create(context.Background(), operator("alice"), CreateParams{
		TargetName:   "dark-host",
		ActionString: "exec id",
		Quick:        true,
	})
	require.ErrorIs(t, err, shared.ErrNoActiveSession)
	require.Empty(t, repo.actions)
}

func TestCreateExplicitIDCollision(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	params := CreateParams{TargetName: "web-01", ActionString: "exec id", ActionID: "task-7"}
	_, err := svc.Create(ctx, operator("alice"), params)
	require.NoError(t, err)

	_, err = svc.Create(ctx, operator("bob"), params)
	require.ErrorIs(t, err, shared.ErrDuplicateKey)
}

func TestConcurrentCreateSameIDOneWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	const workers = 16
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, operator("alice"), CreateParams{
				TargetName:   "web-01",
				ActionString: "exec id",
				ActionID:     "contended",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, dups int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, shared.ErrDuplicateKey)
			dups++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, workers-1, dups)
}

func TestCancelLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, operator("alice"), CreateParams{TargetName: "web-01", ActionString: "exec id"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, operator("alice"), id))

	doc, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, doc.Status)

	err = svc.Cancel(ctx, operator("alice"), id)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	err = svc.Cancel(ctx, operator("alice"), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCancelAfterRetrieveFails(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, operator("alice"), CreateParams{TargetName: "web-01", ActionString: "exec id"})
	require.NoError(t, err)

	require.NoError(t, svc.MarkRetrieved(ctx, id, "s1"))

	err = svc.Cancel(ctx, operator("alice"), id)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)

	doc, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusRetrieved, doc.Status)
	require.Equal(t, "s1", doc.RetrievedBy)
}

func TestCancelVersusRetrieveRaceSingleWinner(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	id, err := svc.Create(ctx, operator("alice"), CreateParams{TargetName: "web-01", ActionString: "exec id"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results <- svc.Cancel(ctx, operator("alice"), id)
	}()
	go func() {
		defer wg.Done()
		results <- svc.MarkRetrieved(ctx, id, "s1")
	}()
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
			losses++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, losses)
}

func TestListFiltersAndPagination(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		owner := "alice"
		if i%2 == 1 {
			owner = "bob"
		}
		_, err := svc.Create(ctx, operator(owner), CreateParams{
			TargetName:   "web-01",
			ActionString: "exec id",
			ActionID:     fmt.Sprintf("task-%d", i),
		})
		require.NoError(t, err)
	}

	docs, err := svc.List(ctx, Filter{Owner: "alice", Page: shared.NewPage(0, 0)})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for id, doc := range docs {
		require.Equal(t, "alice", doc.Owner)
		require.Equal(t, id, doc.ActionID)
	}

	docs, err = svc.List(ctx, Filter{TargetName: "web-01", Page: shared.NewPage(2, 0)})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	docs, err = svc.List(ctx, Filter{TargetName: "web-01", Page: shared.NewPage(2, 4)})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = svc.List(ctx, Filter{TargetName: "nothing-here", Page: shared.NewPage(0, 0)})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestDuplicateCopiesBindingAndAssignsFreshID(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	origID, err := svc.Create(ctx, operator("alice"), CreateParams{
		TargetName:     "web-01",
		ActionString:   "exec id",
		BoundSessionID: "s1",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, operator("alice"), origID))

	dupID, err := svc.Duplicate(ctx, operator("bob"), origID)
	require.NoError(t, err)
	require.NotEqual(t, origID, dupID)

	doc, err := svc.Get(ctx, dupID)
	require.NoError(t, err)
	require.Equal(t, "web-01", doc.TargetName)
	require.Equal(t, "exec id", doc.ActionString)
	require.Equal(t, "s1", doc.BoundSessionID)
	require.Equal(t, StatusQueued, doc.Status, "the duplicate is a fresh queued action")
	require.Equal(t, "bob", doc.Owner, "the duplicate belongs to its creator")

	_, err = svc.Duplicate(ctx, operator("bob"), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
