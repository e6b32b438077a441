package identity

import (
	"context"
	"fmt"

	"github.com/vantage-c2/vantage/internal/credential"
	"github.com/vantage-c2/vantage/internal/permission"
	"github.com/vantage-c2/vantage/internal/shared"
)

// Credential is a caller-presented credential: either username+password or an
// API key secret.
type Credential struct {
	Username string
	Password string
	APIKey   string
}

// Resolver turns a credential into an AuthContext. It is read-only: effective
// permission sets are computed from live role data on every call, never
// cached, so permission mutations apply to the next resolution.
type Resolver struct {
	repo     Repository
	throttle *LoginThrottle
}

// NewResolver constructs a Resolver. throttle may be nil.
func NewResolver(repo Repository, throttle *LoginThrottle) *Resolver {
	return &Resolver{repo: repo, throttle: throttle}
}

// Resolve authenticates the credential and applies impersonation rules.
// userContext names a user to impersonate; only administrators may supply it.
// A successful impersonation still reports Administrator=true so privileged
// flows (password reset without the old password) stay available.
func (r *Resolver) Resolve(ctx context.Context, cred Credential, userContext string) (AuthContext, error) {
	var actx AuthContext
	var err error

	switch {
	case cred.APIKey != "":
		actx, err = r.resolveKey(ctx, cred.APIKey)
	case cred.Username != "":
		actx, err = r.resolvePassword(ctx, cred.Username, cred.Password)
	default:
		return AuthContext{}, fmt.Errorf("%w: no credential supplied", shared.ErrAuthenticationFailed)
	}
	if err != nil {
		return AuthContext{}, err
	}

	if userContext == "" || userContext == actx.Username {
		return actx, nil
	}
	if !actx.Administrator {
		return AuthContext{}, fmt.Errorf("%w: user_context requires administrator", shared.ErrPermissionDenied)
	}
	impersonated, err := r.repo.GetUser(ctx, userContext)
	if err != nil {
		return AuthContext{}, err
	}
	perms, err := r.EffectivePermissions(ctx, impersonated)
	if err != nil {
		return AuthContext{}, err
	}
	return AuthContext{
		Username:      impersonated.Username,
		Administrator: true,
		Perms:         perms,
	}, nil
}

// EffectivePermissions computes a user's live grant: the union of its roles'
// grants, or the wildcard for administrators.
func (r *Resolver) EffectivePermissions(ctx context.Context, user User) (permission.Set, error) {
	if user.Administrator {
		return permission.All(), nil
	}
	roles, err := r.repo.RolesForUser(ctx, user.Username)
	if err != nil {
		return permission.Set{}, err
	}
	perms := permission.NewSet()
	for _, role := range roles {
		perms = perms.Union(role.Allowed)
	}
	return perms, nil
}

func (r *Resolver) resolvePassword(ctx context.Context, username, password string) (AuthContext, error) {
	blocked, err := r.throttle.Blocked(ctx, username)
	if err != nil {
		return AuthContext{}, err
	}
	if blocked {
		return AuthContext{}, fmt.Errorf("%w: too many failed attempts", shared.ErrAuthenticationFailed)
	}

	user, err := r.repo.GetUser(ctx, username)
	if err != nil {
		// An unknown username authenticates identically to a bad password.
		return AuthContext{}, fmt.Errorf("%w: bad username or password", shared.ErrAuthenticationFailed)
	}
	ok, err := credential.Verify(password, user.PasswordHash)
	if err != nil {
		return AuthContext{}, fmt.Errorf("identity: verify password: %w", err)
	}
	if !ok {
		if terr := r.throttle.RecordFailure(ctx, username); terr != nil {
			return AuthContext{}, terr
		}
		return AuthContext{}, fmt.Errorf("%w: bad username or password", shared.ErrAuthenticationFailed)
	}
	if err := r.throttle.Reset(ctx, username); err != nil {
		return AuthContext{}, err
	}

	perms, err := r.EffectivePermissions(ctx, user)
	if err != nil {
		return AuthContext{}, err
	}
	return AuthContext{Username: user.Username, Administrator: user.Administrator, Perms: perms}, nil
}

func (r *Resolver) resolveKey(ctx context.Context, secret string) (AuthContext, error) {
	key, err := r.repo.GetKeyByFingerprint(ctx, credential.Fingerprint(secret))
	if err != nil {
		return AuthContext{}, fmt.Errorf("%w: unknown api key", shared.ErrAuthenticationFailed)
	}
	ok, err := credential.Verify(secret, key.Hash)
	if err != nil {
		return AuthContext{}, fmt.Errorf("identity: verify key: %w", err)
	}
	if !ok {
		return AuthContext{}, fmt.Errorf("%w: unknown api key", shared.ErrAuthenticationFailed)
	}

	owner, err := r.repo.GetUser(ctx, key.Owner)
	if err != nil {
		// A key whose owner was deleted is implicitly invalid. The record may
		// still exist for audit listing but it never authenticates again.
		return AuthContext{}, fmt.Errorf("%w: api key owner no longer exists", shared.ErrAuthenticationFailed)
	}
	ownerPerms, err := r.EffectivePermissions(ctx, owner)
	if err != nil {
		return AuthContext{}, err
	}

	// The key's effective grant shrinks with its owner's: intersect at every
	// use rather than trusting the grant recorded at mint time. The
	// administrator bypass carries over only through an unrestricted key;
	// a deliberately narrow grant binds even when the owner is an
	// administrator.
	return AuthContext{
		Username:      owner.Username,
		Administrator: owner.Administrator && key.Allowed.IsWildcard(),
		Perms:         key.Allowed.Intersect(ownerPerms),
	}, nil
}
