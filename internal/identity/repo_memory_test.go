package identity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vantage-c2/vantage/internal/permission"
	"github.com/vantage-c2/vantage/internal/shared"
)

// memoryRepo is the in-memory Repository used by service and resolver tests.
type memoryRepo struct {
	mu      sync.Mutex
	users   map[string]User
	roles   map[string]Role
	members map[string]map[string]struct{} // role -> usernames
	keys    map[string]APIKey
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:   make(map[string]User),
		roles:   make(map[string]Role),
		members: make(map[string]map[string]struct{}),
		keys:    make(map[string]APIKey),
	}
}

func (r *memoryRepo) CreateUser(ctx context.Context, user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return fmt.Errorf("%w: user %s", shared.ErrDuplicateKey, user.Username)
	}
	r.users[user.Username] = user
	return nil
}

func (r *memoryRepo) GetUser(ctx context.Context, username string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return User{}, fmt.Errorf("%w: user %s", shared.ErrNotFound, username)
	}
	return user, nil
}

func (r *memoryRepo) ListUsers(ctx context.Context) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	sort.Strings(names)
	users := make([]User, 0, len(names))
	for _, name := range names {
		users = append(users, r.users[name])
	}
	return users, nil
}

func (r *memoryRepo) UpdateUserPassword(ctx context.Context, username, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return fmt.Errorf("%w: user %s", shared.ErrNotFound, username)
	}
	user.PasswordHash = passwordHash
	r.users[username] = user
	return nil
}

func (r *memoryRepo) DeleteUser(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[username]; !ok {
		return fmt.Errorf("%w: user %s", shared.ErrNotFound, username)
	}
	delete(r.users, username)
	for _, members := range r.members {
		delete(members, username)
	}
	return nil
}

func (r *memoryRepo) AdministratorExists(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Administrator {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) CreateRole(ctx context.Context, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.Name]; ok {
		return fmt.Errorf("%w: role %s", shared.ErrDuplicateKey, role.Name)
	}
	r.roles[role.Name] = role
	members := make(map[string]struct{}, len(role.Members))
	for _, m := range role.Members {
		members[m] = struct{}{}
	}
	r.members[role.Name] = members
	return nil
}

func (r *memoryRepo) GetRole(ctx context.Context, name string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[name]
	if !ok {
		return Role{}, fmt.Errorf("%w: role %s", shared.ErrNotFound, name)
	}
	role.Members = r.memberList(name)
	return role, nil
}

func (r *memoryRepo) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		role := r.roles[name]
		role.Members = r.memberList(name)
		roles = append(roles, role)
	}
	return roles, nil
}

func (r *memoryRepo) RolesForUser(ctx context.Context, username string) ([]Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var roles []Role
	names := make([]string, 0, len(r.roles))
	for name := range r.roles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := r.members[name][username]; ok {
			role := r.roles[name]
			role.Members = r.memberList(name)
			roles = append(roles, role)
		}
	}
	return roles, nil
}

func (r *memoryRepo) UpdateRolePermissions(ctx context.Context, name string, allowed permission.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[name]
	if !ok {
		return fmt.Errorf("%w: role %s", shared.ErrNotFound, name)
	}
	role.Allowed = allowed
	r.roles[name] = role
	return nil
}

func (r *memoryRepo) AddRoleMember(ctx context.Context, roleName, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[roleName] == nil {
		r.members[roleName] = make(map[string]struct{})
	}
	r.members[roleName][username] = struct{}{}
	return nil
}

func (r *memoryRepo) RemoveRoleMember(ctx context.Context, roleName, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[roleName], username)
	return nil
}

func (r *memoryRepo) DeleteRole(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[name]; !ok {
		return fmt.Errorf("%w: role %s", shared.ErrNotFound, name)
	}
	delete(r.roles, name)
	delete(r.members, name)
	return nil
}

func (r *memoryRepo) CreateKey(ctx context.Context, key APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key.ID]; ok {
		return fmt.Errorf("%w: api key", shared.ErrDuplicateKey)
	}
	r.keys[key.ID] = key
	return nil
}

func (r *memoryRepo) GetKey(ctx context.Context, id string) (APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[id]
	if !ok {
		return APIKey{}, fmt.Errorf("%w: api key", shared.ErrNotFound)
	}
	return key, nil
}

func (r *memoryRepo) GetKeyByFingerprint(ctx context.Context, fingerprint string) (APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.keys {
		if key.Fingerprint == fingerprint {
			return key, nil
		}
	}
	return APIKey{}, fmt.Errorf("%w: api key", shared.ErrNotFound)
}

func (r *memoryRepo) ListKeys(ctx context.Context, owner string) ([]APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []APIKey
	for _, key := range r.keys {
		if key.Owner == owner {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

func (r *memoryRepo) DeleteKey(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[id]; !ok {
		return fmt.Errorf("%w: api key %s", shared.ErrNotFound, id)
	}
	delete(r.keys, id)
	return nil
}

func (r *memoryRepo) memberList(roleName string) []string {
	members := make([]string, 0, len(r.members[roleName]))
	for m := range r.members[roleName] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

var _ Repository = (*memoryRepo)(nil)
