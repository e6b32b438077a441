// Package identity owns operator accounts, roles, delegated API keys and
// credential resolution.
package identity

import (
	"time"

	"github.com/vantage-c2/vantage/internal/permission"
)

// User is an operator account. Administrator accounts bypass capability
// checks and may impersonate other users.
type User struct {
	Username      string
	PasswordHash  string
	Administrator bool
	CreatedAt     time.Time
}

// Role is a named, reusable permission grant shared by its members.
type Role struct {
	Name      string
	Allowed   permission.Set
	Members   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey is a derived credential. The raw secret is shown once at mint time;
// only the argon2id hash and a SHA-256 fingerprint are persisted. Its
// effective grant is recomputed at every use as the intersection with the
// owner's live grant, so revoking a permission from the owner revokes it from
// every derived key without touching the key records.
type APIKey struct {
	ID          string
	Owner       string
	Hash        string
	Fingerprint string
	Allowed     permission.Set
	CreatedAt   time.Time
}

// AuthContext is the resolved caller identity threaded through every core
// operation. It is produced once per request by the Resolver.
type AuthContext struct {
	Username      string
	Administrator bool
	Perms         permission.Set
}

// Allows reports whether the context may invoke the named operation.
func (a AuthContext) Allows(op string) bool {
	return a.Administrator || a.Perms.Contains(op)
}

// UserDocument is the read model returned by get_user/list_users.
type UserDocument struct {
	Username        string   `json:"username"`
	Administrator   bool     `json:"administrator"`
	Roles           []string `json:"roles,omitempty"`
	AllowedAPICalls []string `json:"allowed_api_calls,omitempty"`
}

// RoleDocument is the read model returned by get_role/list_roles.
type RoleDocument struct {
	Name            string   `json:"name"`
	AllowedAPICalls []string `json:"allowed_api_calls"`
	Users           []string `json:"users"`
}

// APIKeyDocument is the read model returned by list_api_keys. It never
// carries the secret or its hash.
type APIKeyDocument struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	AllowedAPICalls []string  `json:"allowed_api_calls"`
	CreatedAt       time.Time `json:"created_at"`
}
