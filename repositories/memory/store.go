// Package memory keeps every repository in process memory. It backs the
// memory storage driver used for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
)

// Store holds all tables behind one mutex
type Store struct {
	mu sync.RWMutex

	users           map[uuid.UUID]*models.User
	usersByEmail    map[string]uuid.UUID
	roles           map[uuid.UUID]*models.Role
	permissions     map[uuid.UUID]*models.Permission
	userRoles       map[uuid.UUID]map[uuid.UUID]struct{}
	rolePermissions map[uuid.UUID]map[uuid.UUID]struct{}
	refreshTokens   map[uuid.UUID]*models.RefreshToken
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		users:           make(map[uuid.UUID]*models.User),
		usersByEmail:    make(map[string]uuid.UUID),
		roles:           make(map[uuid.UUID]*models.Role),
		permissions:     make(map[uuid.UUID]*models.Permission),
		userRoles:       make(map[uuid.UUID]map[uuid.UUID]struct{}),
		rolePermissions: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		refreshTokens:   make(map[uuid.UUID]*models.RefreshToken),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:         (*userRepo)(s),
		Roles:         (*roleRepo)(s),
		Permissions:   (*permissionRepo)(s),
		RefreshTokens: (*refreshTokenRepo)(s),
		TxManager:     txManager{},
	}
}

// SeedRoles creates the named roles unless they already exist
func (s *Store) SeedRoles(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		if s.roleByNameLocked(name) == nil {
			role := models.NewRole(name, "seeded")
			s.roles[role.ID] = role
		}
	}
}

func (s *Store) roleByNameLocked(name string) *models.Role {
	for _, r := range s.roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *models.User) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByEmail[user.Email]; taken {
		return fmt.Errorf("email %s: %w", user.Email, repositories.ErrDuplicate)
	}
	u := *user
	s.users[u.ID] = &u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
	}
	out := *u
	return &out, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	id, ok := s.usersByEmail[email]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, repositories.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

type roleRepo Store

func (r *roleRepo) Create(_ context.Context, role *models.Role) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roleByNameLocked(role.Name) != nil {
		return fmt.Errorf("role %s: %w", role.Name, repositories.ErrDuplicate)
	}
	out := *role
	s.roles[out.ID] = &out
	return nil
}

func (r *roleRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Role, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	if !ok {
		return nil, fmt.Errorf("role %s: %w", id, repositories.ErrNotFound)
	}
	out := *role
	return &out, nil
}

func (r *roleRepo) GetByName(_ context.Context, name string) (*models.Role, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	role := s.roleByNameLocked(name)
	if role == nil {
		return nil, fmt.Errorf("role %s: %w", name, repositories.ErrNotFound)
	}
	out := *role
	return &out, nil
}

func (r *roleRepo) List(_ context.Context) ([]*models.Role, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*models.Role, 0, len(s.roles))
	for _, role := range s.roles {
		out := *role
		roles = append(roles, &out)
	}
	sortRoles(roles)
	return roles, nil
}

func (r *roleRepo) RolesForUser(_ context.Context, userID uuid.UUID) ([]*models.Role, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*models.Role, 0, len(s.userRoles[userID]))
	for roleID := range s.userRoles[userID] {
		if role, ok := s.roles[roleID]; ok {
			out := *role
			roles = append(roles, &out)
		}
	}
	sortRoles(roles)
	return roles, nil
}

func (r *roleRepo) UsersWithRole(_ context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for userID, roles := range s.userRoles {
		if _, ok := roles[roleID]; ok {
			ids = append(ids, userID)
		}
	}
	return ids, nil
}

func (r *roleRepo) AssignToUser(_ context.Context, userID, roleID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, repositories.ErrNotFound)
	}
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, repositories.ErrNotFound)
	}
	link(s.userRoles, userID, roleID)
	return nil
}

func (r *roleRepo) RemoveFromUser(_ context.Context, userID, roleID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !unlink(s.userRoles, userID, roleID) {
		return fmt.Errorf("role assignment: %w", repositories.ErrNotFound)
	}
	return nil
}

func (r *roleRepo) GrantPermission(_ context.Context, roleID, permissionID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, repositories.ErrNotFound)
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return fmt.Errorf("permission %s: %w", permissionID, repositories.ErrNotFound)
	}
	link(s.rolePermissions, roleID, permissionID)
	return nil
}

func (r *roleRepo) RevokePermission(_ context.Context, roleID, permissionID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if !unlink(s.rolePermissions, roleID, permissionID) {
		return fmt.Errorf("role permission: %w", repositories.ErrNotFound)
	}
	return nil
}

type permissionRepo Store

func (r *permissionRepo) Create(_ context.Context, p *models.Permission) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.permissions {
		if existing.Name == p.Name {
			return fmt.Errorf("permission %s: %w", p.Name, repositories.ErrDuplicate)
		}
	}
	out := *p
	s.permissions[out.ID] = &out
	return nil
}

func (r *permissionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Permission, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.permissions[id]
	if !ok {
		return nil, fmt.Errorf("permission %s: %w", id, repositories.ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (r *permissionRepo) List(_ context.Context) ([]*models.Permission, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	perms := make([]*models.Permission, 0, len(s.permissions))
	for _, p := range s.permissions {
		out := *p
		perms = append(perms, &out)
	}
	sortPermissions(perms)
	return perms, nil
}

func (r *permissionRepo) ForRoles(_ context.Context, roleIDs []uuid.UUID) ([]*models.Permission, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{})
	perms := make([]*models.Permission, 0)
	for _, roleID := range roleIDs {
		for permID := range s.rolePermissions[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			seen[permID] = struct{}{}
			if p, ok := s.permissions[permID]; ok {
				out := *p
				perms = append(perms, &out)
			}
		}
	}
	sortPermissions(perms)
	return perms, nil
}

type refreshTokenRepo Store

func (r *refreshTokenRepo) Replace(_ context.Context, token *models.RefreshToken) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := *token
	s.refreshTokens[out.UserID] = &out
	return nil
}

func (r *refreshTokenRepo) FindByUserAndToken(_ context.Context, userID uuid.UUID, token string) (*models.RefreshToken, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.refreshTokens[userID]
	if !ok || rt.Token != token {
		return nil, fmt.Errorf("refresh token: %w", repositories.ErrNotFound)
	}
	out := *rt
	return &out, nil
}

func (r *refreshTokenRepo) DeleteByUser(_ context.Context, userID uuid.UUID) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.refreshTokens, userID)
	return nil
}

func (r *refreshTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for userID, rt := range s.refreshTokens {
		if rt.IsExpired(now) {
			delete(s.refreshTokens, userID)
			n++
		}
	}
	return n, nil
}

// txManager runs fn directly; each repository call is already atomic
type txManager struct{}

func (txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return tx{ctx: ctx}, nil
}

func (m txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	t, _ := m.Begin(ctx)
	return fn(ctx, t)
}

type tx struct{ ctx context.Context }

func (tx) Commit() error              { return nil }
func (tx) Rollback() error            { return nil }
func (t tx) Context() context.Context { return t.ctx }

func link(edges map[uuid.UUID]map[uuid.UUID]struct{}, from, to uuid.UUID) {
	set, ok := edges[from]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		edges[from] = set
	}
	set[to] = struct{}{}
}

func unlink(edges map[uuid.UUID]map[uuid.UUID]struct{}, from, to uuid.UUID) bool {
	set := edges[from]
	if _, ok := set[to]; !ok {
		return false
	}
	delete(set, to)
	if len(set) == 0 {
		delete(edges, from)
	}
	return true
}

func sortRoles(roles []*models.Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
}

func sortPermissions(perms []*models.Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
}
