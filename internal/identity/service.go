package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/vantage-c2/vantage/internal/audit"
	"github.com/vantage-c2/vantage/internal/credential"
	"github.com/vantage-c2/vantage/internal/permission"
	"github.com/vantage-c2/vantage/internal/shared"
)

// Service implements the identity operation surface: user, role and API key
// management with delegation enforcement.
type Service struct {
	repo     Repository
	resolver *Resolver
	audit    audit.Recorder
	logger   *slog.Logger
}

// NewService constructs a Service. audit and logger may be nil.
func NewService(repo Repository, resolver *Resolver, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, resolver: resolver, audit: recorder, logger: logger}
}

// NormalizeUsername canonicalizes a username: NFKC normalization, trimmed,
// lowercased. Applied at every boundary so lookups are deterministic.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(username)))
}

// issuerGrant is the permission set used for delegation checks: the wildcard
// for administrators, the resolved grant otherwise.
func issuerGrant(actx AuthContext) permission.Set {
	if actx.Administrator {
		return permission.All()
	}
	return actx.Perms
}

func (s *Service) record(ctx context.Context, actx AuthContext, op, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Event{
		Actor:     actx.Username,
		Operation: op,
		Entity:    entity,
		EntityID:  entityID,
		Meta:      meta,
		At:        time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("operation", op), slog.Any("error", err))
	}
}

// CreateUser creates a non-administrator user. The plaintext password is
// hashed before the record is assembled so no partially written entity can
// carry it.
func (s *Service) CreateUser(ctx context.Context, actx AuthContext, username, password string) error {
	username = NormalizeUsername(username)
	if username == "" {
		return fmt.Errorf("%w: username required", shared.ErrMalformedRequest)
	}
	hash, err := credential.Hash(password)
	if err != nil {
		return err
	}
	err = s.repo.CreateUser(ctx, User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.record(ctx, actx, "create_user", "user", username, nil)
	s.logger.Info("user created", slog.String("username", username))
	return nil
}

// EnsureAdmin creates the bootstrap administrator when no administrator
// account exists yet. Returns true when one was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	exists, err := s.repo.AdministratorExists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	hash, err := credential.Hash(password)
	if err != nil {
		return false, err
	}
	err = s.repo.CreateUser(ctx, User{
		Username:      NormalizeUsername(username),
		PasswordHash:  hash,
		Administrator: true,
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}
	s.logger.Info("bootstrap administrator created", slog.String("username", NormalizeUsername(username)))
	return true, nil
}

// UpdatePassword changes the resolved user's password. Administrators
// impersonating a non-administrator may set a new password without the
// current one; everyone else must verify the current password first.
func (s *Service) UpdatePassword(ctx context.Context, actx AuthContext, currentPassword, newPassword string) error {
	user, err := s.repo.GetUser(ctx, actx.Username)
	if err != nil {
		return err
	}

	if !(actx.Administrator && !user.Administrator) {
		ok, err := credential.Verify(currentPassword, user.PasswordHash)
		if err != nil {
			return fmt.Errorf("identity: verify password: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: current password does not match", shared.ErrAuthenticationFailed)
		}
	}

	hash, err := credential.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateUserPassword(ctx, user.Username, hash); err != nil {
		return err
	}
	s.record(ctx, actx, "update_user_password", "user", user.Username, nil)
	return nil
}

// DeleteUser removes a user. The user's API key records survive for audit
// listing but can never authenticate again (the owner lookup fails).
func (s *Service) DeleteUser(ctx context.Context, actx AuthContext, username string) error {
	username = NormalizeUsername(username)
	if err := s.repo.DeleteUser(ctx, username); err != nil {
		return err
	}
	s.record(ctx, actx, "delete_user", "user", username, nil)
	s.logger.Info("user deleted", slog.String("username", username))
	return nil
}

// GetUser returns a user document, optionally with roles and the effective
// operation grant.
func (s *Service) GetUser(ctx context.Context, username string, includeRoles, includeCalls bool) (UserDocument, error) {
	user, err := s.repo.GetUser(ctx, NormalizeUsername(username))
	if err != nil {
		return UserDocument{}, err
	}
	return s.userDocument(ctx, user, includeRoles, includeCalls)
}

// ListUsers returns documents for all users. Per-user role and permission
// expansion fans out concurrently; results keep the repository's ordering.
func (s *Service) ListUsers(ctx context.Context, includeRoles, includeCalls bool) ([]UserDocument, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]UserDocument, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, user := range users {
		g.Go(func() error {
			doc, err := s.userDocument(gctx, user, includeRoles, includeCalls)
			if err != nil {
				return err
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Service) userDocument(ctx context.Context, user User, includeRoles, includeCalls bool) (UserDocument, error) {
	doc := UserDocument{Username: user.Username, Administrator: user.Administrator}
	if includeRoles {
		roles, err := s.repo.RolesForUser(ctx, user.Username)
		if err != nil {
			return UserDocument{}, err
		}
		doc.Roles = make([]string, 0, len(roles))
		for _, role := range roles {
			doc.Roles = append(doc.Roles, role.Name)
		}
	}
	if includeCalls {
		perms, err := s.resolver.EffectivePermissions(ctx, user)
		if err != nil {
			return UserDocument{}, err
		}
		doc.AllowedAPICalls = perms.Names()
	}
	return doc, nil
}

// CreateRole creates a role. The role's grant must not exceed the issuer's
// effective grant, and every initial member must exist.
func (s *Service) CreateRole(ctx context.Context, actx AuthContext, name string, allowed, users []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: role name required", shared.ErrMalformedRequest)
	}
	requested := permission.NewSet(allowed...)
	if err := permission.EnforceDelegation(issuerGrant(actx), requested); err != nil {
		return err
	}

	members := make([]string, 0, len(users))
	for _, username := range users {
		user, err := s.repo.GetUser(ctx, NormalizeUsername(username))
		if err != nil {
			return err
		}
		members = append(members, user.Username)
	}

	now := time.Now().UTC()
	err := s.repo.CreateRole(ctx, Role{
		Name:      name,
		Allowed:   requested,
		Members:   members,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}
	s.record(ctx, actx, "create_role", "role", name, map[string]any{"allowed_api_calls": requested.Names()})
	s.logger.Info("role created", slog.String("role", name))
	return nil
}

// UpdateRolePermissions replaces a role's grant. The change is observed by
// the very next credential resolution; derived keys shrink with it via the
// use-time intersection.
func (s *Service) UpdateRolePermissions(ctx context.Context, actx AuthContext, name string, allowed []string) error {
	requested := permission.NewSet(allowed...)
	if err := permission.EnforceDelegation(issuerGrant(actx), requested); err != nil {
		return err
	}
	if err := s.repo.UpdateRolePermissions(ctx, name, requested); err != nil {
		return err
	}
	s.record(ctx, actx, "update_role_permissions", "role", name, map[string]any{"allowed_api_calls": requested.Names()})
	return nil
}

// AddRoleMember adds an existing user to an existing role.
func (s *Service) AddRoleMember(ctx context.Context, actx AuthContext, roleName, username string) error {
	username = NormalizeUsername(username)
	if _, err := s.repo.GetRole(ctx, roleName); err != nil {
		return err
	}
	if _, err := s.repo.GetUser(ctx, username); err != nil {
		return err
	}
	if err := s.repo.AddRoleMember(ctx, roleName, username); err != nil {
		return err
	}
	s.record(ctx, actx, "add_role_member", "role", roleName, map[string]any{"username": username})
	return nil
}

// RemoveRoleMember removes a user from a role.
func (s *Service) RemoveRoleMember(ctx context.Context, actx AuthContext, roleName, username string) error {
	if _, err := s.repo.GetRole(ctx, roleName); err != nil {
		return err
	}
	if err := s.repo.RemoveRoleMember(ctx, roleName, NormalizeUsername(username)); err != nil {
		return err
	}
	s.record(ctx, actx, "remove_role_member", "role", roleName, map[string]any{"username": NormalizeUsername(username)})
	return nil
}

// GetRole returns a role document.
func (s *Service) GetRole(ctx context.Context, name string) (RoleDocument, error) {
	role, err := s.repo.GetRole(ctx, name)
	if err != nil {
		return RoleDocument{}, err
	}
	return roleDocument(role), nil
}

// ListRoles returns documents for all roles.
func (s *Service) ListRoles(ctx context.Context) ([]RoleDocument, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	docs := make([]RoleDocument, 0, len(roles))
	for _, role := range roles {
		docs = append(docs, roleDocument(role))
	}
	return docs, nil
}

func roleDocument(role Role) RoleDocument {
	users := role.Members
	if users == nil {
		users = []string{}
	}
	return RoleDocument{Name: role.Name, AllowedAPICalls: role.Allowed.Names(), Users: users}
}

// DeleteRole removes a role and its memberships.
func (s *Service) DeleteRole(ctx context.Context, actx AuthContext, name string) error {
	if err := s.repo.DeleteRole(ctx, name); err != nil {
		return err
	}
	s.record(ctx, actx, "delete_role", "role", name, nil)
	s.logger.Info("role deleted", slog.String("role", name))
	return nil
}

// CreateAPIKey mints a derived credential owned by the resolved user. The
// requested grant must be a subset of the issuer's effective grant; an empty
// request inherits the issuer's full grant. The raw secret is returned
// exactly once.
func (s *Service) CreateAPIKey(ctx context.Context, actx AuthContext, requested []string) (string, error) {
	grant := issuerGrant(actx)
	requestedSet := permission.NewSet(requested...)
	if err := permission.EnforceDelegation(grant, requestedSet); err != nil {
		return "", err
	}
	if requestedSet.IsEmpty() {
		requestedSet = grant
	}

	secret := credential.NewKeySecret()
	hash, err := credential.Hash(secret)
	if err != nil {
		return "", err
	}
	key := APIKey{
		ID:          uuid.NewString(),
		Owner:       actx.Username,
		Hash:        hash,
		Fingerprint: credential.Fingerprint(secret),
		Allowed:     requestedSet,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateKey(ctx, key); err != nil {
		return "", err
	}
	s.record(ctx, actx, "create_api_key", "api_key", key.ID, map[string]any{"allowed_api_calls": requestedSet.Names()})
	s.logger.Info("api key created", slog.String("owner", actx.Username), slog.String("key_id", key.ID))
	return secret, nil
}

// ListAPIKeys lists the resolved user's key documents. Secrets are not
// recoverable.
func (s *Service) ListAPIKeys(ctx context.Context, actx AuthContext) ([]APIKeyDocument, error) {
	keys, err := s.repo.ListKeys(ctx, actx.Username)
	if err != nil {
		return nil, err
	}
	docs := make([]APIKeyDocument, 0, len(keys))
	for _, key := range keys {
		docs = append(docs, APIKeyDocument{
			ID:              key.ID,
			Owner:           key.Owner,
			AllowedAPICalls: key.Allowed.Names(),
			CreatedAt:       key.CreatedAt,
		})
	}
	return docs, nil
}

// RevokeAPIKey deletes a key. Only the key's owner or an administrator may
// revoke it.
func (s *Service) RevokeAPIKey(ctx context.Context, actx AuthContext, id string) error {
	key, err := s.repo.GetKey(ctx, id)
	if err != nil {
		return err
	}
	if key.Owner != actx.Username && !actx.Administrator {
		return fmt.Errorf("%w: cannot revoke an api key you do not own", shared.ErrPermissionDenied)
	}
	if err := s.repo.DeleteKey(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actx, "revoke_api_key", "api_key", id, map[string]any{"owner": key.Owner})
	s.logger.Info("api key revoked", slog.String("key_id", id), slog.String("owner", key.Owner))
	return nil
}

// Whoami describes the resolved caller.
func (s *Service) Whoami(actx AuthContext) UserDocument {
	return UserDocument{
		Username:        actx.Username,
		Administrator:   actx.Administrator,
		AllowedAPICalls: issuerGrant(actx).Names(),
	}
}
