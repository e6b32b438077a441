package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vantage-c2/vantage/internal/permission"
	"github.com/vantage-c2/vantage/internal/platform/db"
	"github.com/vantage-c2/vantage/internal/shared"
)

// Repository defines persistence for users, roles and API keys. Uniqueness of
// usernames, role names and key fingerprints is enforced by the storage layer
// (insert-if-absent), so concurrent creates resolve to one winner.
type Repository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, username string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserPassword(ctx context.Context, username, passwordHash string) error
	DeleteUser(ctx context.Context, username string) error
	AdministratorExists(ctx context.Context) (bool, error)

	CreateRole(ctx context.Context, role Role) error
	GetRole(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	RolesForUser(ctx context.Context, username string) ([]Role, error)
	UpdateRolePermissions(ctx context.Context, name string, allowed permission.Set) error
	AddRoleMember(ctx context.Context, roleName, username string) error
	RemoveRoleMember(ctx context.Context, roleName, username string) error
	DeleteRole(ctx context.Context, name string) error

	CreateKey(ctx context.Context, key APIKey) error
	GetKey(ctx context.Context, id string) (APIKey, error)
	GetKeyByFingerprint(ctx context.Context, fingerprint string) (APIKey, error)
	ListKeys(ctx context.Context, owner string) ([]APIKey, error)
	DeleteKey(ctx context.Context, id string) error
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser inserts a user, failing with ErrDuplicateKey when the username
// is taken.
func (r *PGRepository) CreateUser(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, administrator, created_at) VALUES ($1, $2, $3, $4)`,
		user.Username, user.PasswordHash, user.Administrator, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", shared.ErrDuplicateKey, user.Username)
		}
		return err
	}
	return nil
}

// GetUser fetches a user by username.
func (r *PGRepository) GetUser(ctx context.Context, username string) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx,
		`SELECT username, password_hash, administrator, created_at FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.PasswordHash, &u.Administrator, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%w: user %s", shared.ErrNotFound, username)
		}
		return User{}, err
	}
	return u, nil
}

// ListUsers returns all users ordered by username.
func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT username, password_hash, administrator, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.Administrator, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserPassword replaces a user's password hash.
func (r *PGRepository) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1 WHERE username = $2`, passwordHash, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", shared.ErrNotFound, username)
	}
	return nil
}

// DeleteUser removes a user and its role memberships atomically. API key
// records are intentionally left behind for audit listing; they become
// unusable because resolution of their owner fails.
func (r *PGRepository) DeleteUser(ctx context.Context, username string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_members WHERE username = $1`, username); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: user %s", shared.ErrNotFound, username)
		}
		return nil
	})
}

// AdministratorExists reports whether any administrator account exists.
func (r *PGRepository) AdministratorExists(ctx context.Context) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE administrator)`).Scan(&exists)
	return exists, err
}

// CreateRole inserts a role and its initial memberships atomically.
func (r *PGRepository) CreateRole(ctx context.Context, role Role) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO roles (name, allowed_calls, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
			role.Name, role.Allowed.Names(), role.CreatedAt, role.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: role %s", shared.ErrDuplicateKey, role.Name)
			}
			return err
		}
		for _, member := range role.Members {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_members (role_name, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				role.Name, member); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRole fetches a role with its members.
func (r *PGRepository) GetRole(ctx context.Context, name string) (Role, error) {
	var role Role
	var allowed []string
	err := r.pool.QueryRow(ctx,
		`SELECT name, allowed_calls, created_at, updated_at FROM roles WHERE name = $1`,
		name).Scan(&role.Name, &allowed, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, fmt.Errorf("%w: role %s", shared.ErrNotFound, name)
		}
		return Role{}, err
	}
	role.Allowed = permission.NewSet(allowed...)

	rows, err := r.pool.Query(ctx,
		`SELECT username FROM role_members WHERE role_name = $1 ORDER BY username`, name)
	if err != nil {
		return Role{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return Role{}, err
		}
		role.Members = append(role.Members, member)
	}
	return role, rows.Err()
}

// ListRoles returns all roles with members, ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, allowed_calls, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	index := make(map[string]int)
	for rows.Next() {
		var role Role
		var allowed []string
		if err := rows.Scan(&role.Name, &allowed, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Allowed = permission.NewSet(allowed...)
		index[role.Name] = len(roles)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	memberRows, err := r.pool.Query(ctx,
		`SELECT role_name, username FROM role_members ORDER BY role_name, username`)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var roleName, member string
		if err := memberRows.Scan(&roleName, &member); err != nil {
			return nil, err
		}
		if i, ok := index[roleName]; ok {
			roles[i].Members = append(roles[i].Members, member)
		}
	}
	return roles, memberRows.Err()
}

// RolesForUser returns the roles the user belongs to.
func (r *PGRepository) RolesForUser(ctx context.Context, username string) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT r.name, r.allowed_calls, r.created_at, r.updated_at
		   FROM roles r JOIN role_members m ON m.role_name = r.name
		  WHERE m.username = $1 ORDER BY r.name`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var allowed []string
		if err := rows.Scan(&role.Name, &allowed, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		role.Allowed = permission.NewSet(allowed...)
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRolePermissions replaces a role's grant. Future authorization checks
// observe the new grant immediately; effective sets are never cached.
func (r *PGRepository) UpdateRolePermissions(ctx context.Context, name string, allowed permission.Set) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET allowed_calls = $1, updated_at = $2 WHERE name = $3`,
		allowed.Names(), time.Now().UTC(), name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: role %s", shared.ErrNotFound, name)
	}
	return nil
}

// AddRoleMember adds a user to a role. Adding an existing member is a no-op.
func (r *PGRepository) AddRoleMember(ctx context.Context, roleName, username string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_members (role_name, username) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roleName, username)
	return err
}

// RemoveRoleMember removes a user from a role.
func (r *PGRepository) RemoveRoleMember(ctx context.Context, roleName, username string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_members WHERE role_name = $1 AND username = $2`, roleName, username)
	return err
}

// DeleteRole removes a role and its memberships atomically.
func (r *PGRepository) DeleteRole(ctx context.Context, name string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_members WHERE role_name = $1`, name); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE name = $1`, name)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: role %s", shared.ErrNotFound, name)
		}
		return nil
	})
}

// CreateKey inserts an API key record.
func (r *PGRepository) CreateKey(ctx context.Context, key APIKey) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner, hash, fingerprint, allowed_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.Owner, key.Hash, key.Fingerprint, key.Allowed.Names(), key.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: api key", shared.ErrDuplicateKey)
		}
		return err
	}
	return nil
}

// GetKey fetches an API key record by id.
func (r *PGRepository) GetKey(ctx context.Context, id string) (APIKey, error) {
	return r.scanKey(r.pool.QueryRow(ctx,
		`SELECT id, owner, hash, fingerprint, allowed_calls, created_at FROM api_keys WHERE id = $1`, id))
}

// GetKeyByFingerprint fetches an API key record by secret fingerprint.
func (r *PGRepository) GetKeyByFingerprint(ctx context.Context, fingerprint string) (APIKey, error) {
	return r.scanKey(r.pool.QueryRow(ctx,
		`SELECT id, owner, hash, fingerprint, allowed_calls, created_at FROM api_keys WHERE fingerprint = $1`,
		fingerprint))
}

// ListKeys returns the keys owned by a user, oldest first.
func (r *PGRepository) ListKeys(ctx context.Context, owner string) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, owner, hash, fingerprint, allowed_calls, created_at
		   FROM api_keys WHERE owner = $1 ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var key APIKey
		var allowed []string
		if err := rows.Scan(&key.ID, &key.Owner, &key.Hash, &key.Fingerprint, &allowed, &key.CreatedAt); err != nil {
			return nil, err
		}
		key.Allowed = permission.NewSet(allowed...)
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteKey removes an API key record.
func (r *PGRepository) DeleteKey(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: api key %s", shared.ErrNotFound, id)
	}
	return nil
}

func (r *PGRepository) scanKey(row pgx.Row) (APIKey, error) {
	var key APIKey
	var allowed []string
	err := row.Scan(&key.ID, &key.Owner, &key.Hash, &key.Fingerprint, &allowed, &key.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, fmt.Errorf("%w: api key", shared.ErrNotFound)
		}
		return APIKey{}, err
	}
	key.Allowed = permission.NewSet(allowed...)
	return key, nil
}
