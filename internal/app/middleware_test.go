package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vantage-c2/vantage/internal/credential"
	"github.com/vantage-c2/vantage/internal/identity"
	"github.com/vantage-c2/vantage/internal/permission"
	"github.com/vantage-c2/vantage/internal/platform/httpx"
	"github.com/vantage-c2/vantage/internal/shared"
	_ "github.com/vantage-c2/vantage/internal/testing/guard"
)

// userStore backs the resolver with a couple of fixed accounts; the untested
// role and key surfaces sit on the interface zero behaviour.
type userStore struct {
	users map[string]identity.User
	roles map[string][]identity.Role
	keys  map[string]identity.APIKey
}

func (s *userStore) CreateUser(ctx context.Context, user identity.User) error {
	s.users[user.Username] = user
	return nil
}

func (s *userStore) GetUser(ctx context.Context, username string) (identity.User, error) {
	user, ok := s.users[username]
	if !ok {
		return identity.User{}, shared.ErrNotFound
	}
	return user, nil
}

func (s *userStore) ListUsers(ctx context.Context) ([]identity.User, error) { return nil, nil }

func (s *userStore) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	return nil
}

func (s *userStore) DeleteUser(ctx context.Context, username string) error { return nil }

func (s *userStore) AdministratorExists(ctx context.Context) (bool, error) { return true, nil }

func (s *userStore) CreateRole(ctx context.Context, role identity.Role) error { return nil }

func (s *userStore) GetRole(ctx context.Context, name string) (identity.Role, error) {
	return identity.Role{}, shared.ErrNotFound
}

func (s *userStore) ListRoles(ctx context.Context) ([]identity.Role, error) { return nil, nil }

func (s *userStore) RolesForUser(ctx context.Context, username string) ([]identity.Role, error) {
	return s.roles[username], nil
}

func (s *userStore) UpdateRolePermissions(ctx context.Context, name string, allowed permission.Set) error {
	return nil
}

func (s *userStore) AddRoleMember(ctx context.Context, roleName, username string) error { return nil }

func (s *userStore) RemoveRoleMember(ctx context.Context, roleName, username string) error {
	return nil
}

func (s *userStore) DeleteRole(ctx context.Context, name string) error { return nil }

func (s *userStore) CreateKey(ctx context.Context, key identity.APIKey) error { return nil }

func (s *userStore) GetKey(ctx context.Context, id string) (identity.APIKey, error) {
	return identity.APIKey{}, shared.ErrNotFound
}

func (s *userStore) GetKeyByFingerprint(ctx context.Context, fingerprint string) (identity.APIKey, error) {
	key, ok := s.keys[fingerprint]
	if !ok {
		return identity.APIKey{}, shared.ErrNotFound
	}
	return key, nil
}

func (s *userStore) ListKeys(ctx context.Context, owner string) ([]identity.APIKey, error) {
	return nil, nil
}

func (s *userStore) DeleteKey(ctx context.Context, id string) error { return nil }

var _ identity.Repository = (*userStore)(nil)

func newAuthFixture(t *testing.T) (*identity.Resolver, *userStore) {
	t.Helper()
	hash, err := credential.Hash("neo-password")
	require.NoError(t, err)
	store := &userStore{
		users: map[string]identity.User{
			"neo": {Username: "neo", PasswordHash: hash, Administrator: true},
		},
		roles: map[string][]identity.Role{},
		keys:  map[string]identity.APIKey{},
	}
	return identity.NewResolver(store, nil), store
}

func echoUsername() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actx, _ := identity.AuthFromContext(r.Context())
		httpx.OK(w, http.StatusOK, map[string]any{"username": actx.Username})
	})
}

func TestAuthenticateBasicCredentials(t *testing.T) {
	resolver, _ := newAuthFixture(t)
	handler := Authenticate(resolver, slog.Default(), nil)(echoUsername())

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.SetBasicAuth("neo", "neo-password")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "neo")
}

func TestAuthenticateRejectsBadPassword(t *testing.T) {
	resolver, _ := newAuthFixture(t)
	handler := Authenticate(resolver, slog.Default(), nil)(echoUsername())

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.SetBasicAuth("neo", "wrong")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "authentication_failed", problem.Type)
}

func TestAuthenticateRejectsMissingCredential(t *testing.T) {
	resolver, _ := newAuthFixture(t)
	handler := Authenticate(resolver, slog.Default(), nil)(echoUsername())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/whoami", nil))

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthenticateAPIKey(t *testing.T) {
	resolver, store := newAuthFixture(t)

	secret := credential.NewKeySecret()
	hash, err := credential.Hash(secret)
	require.NoError(t, err)
	store.keys[credential.Fingerprint(secret)] = identity.APIKey{
		ID:          "key-1",
		Owner:       "neo",
		Hash:        hash,
		Fingerprint: credential.Fingerprint(secret),
		Allowed:     permission.NewSet("list_actions"),
	}

	handler := Authenticate(resolver, slog.Default(), nil)(echoUsername())
	req := httptest.NewRequest(http.MethodGet, "/api/actions", nil)
	req.Header.Set("X-Api-Key", secret)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "neo")
}

func TestRequireCapability(t *testing.T) {
	protected := RequireCapability("create_action")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	allowed := identity.AuthContext{Username: "op", Perms: permission.NewSet("create_action")}
	req := httptest.NewRequest(http.MethodPost, "/api/actions", nil)
	req = req.WithContext(identity.ContextWithAuth(req.Context(), allowed))
	rr := httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	denied := identity.AuthContext{Username: "op", Perms: permission.NewSet("list_actions")}
	req = httptest.NewRequest(http.MethodPost, "/api/actions", nil)
	req = req.WithContext(identity.ContextWithAuth(req.Context(), denied))
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// No resolved credential at all is an authentication failure.
	rr = httptest.NewRecorder()
	protected.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/actions", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}
