// Package rbac resolves the roles and effective permissions of a subject
// and evaluates permission predicates against them.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/cache"
	"github.com/upb/authz-gateway/internal/observability"
	"github.com/upb/authz-gateway/models"
	"go.uber.org/zap"
)

const permissionKeyPrefix = "perm:"

// RoleSource reads the subject-role edges
type RoleSource interface {
	RolesForUser(ctx context.Context, userID uuid.UUID) ([]*models.Role, error)
	UsersWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)
}

// PermissionSource reads the role-permission edges
type PermissionSource interface {
	ForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]*models.Permission, error)
}

// Subject identifies who is being authorized
type Subject struct {
	ID    uuid.UUID
	Email string
}

// Config tunes the resolver
type Config struct {
	CacheTTL        time.Duration
	SuperAdminEmail string
}

// Resolver computes and caches effective permission sets. A subject whose
// cached set could not be deleted is tombstoned, and its cache entry is
// ignored until a freshly computed set has been written over it.
type Resolver struct {
	roles  RoleSource
	perms  PermissionSource
	cache  cache.Cache
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	stale map[uuid.UUID]struct{}
}

// NewResolver creates a new resolver
func NewResolver(roles RoleSource, perms PermissionSource, c cache.Cache, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Resolver{
		roles:  roles,
		perms:  perms,
		cache:  c,
		cfg:    cfg,
		logger: logger,
		stale:  make(map[uuid.UUID]struct{}),
	}
}

func (r *Resolver) isStale(subjectID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stale[subjectID]
	return ok
}

func (r *Resolver) setStale(subjectID uuid.UUID, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stale {
		r.stale[subjectID] = struct{}{}
	} else {
		delete(r.stale, subjectID)
	}
}

func permissionKey(subjectID uuid.UUID) string {
	return permissionKeyPrefix + subjectID.String()
}

// ResolveRoles returns the subject's roles ordered by name
func (r *Resolver) ResolveRoles(ctx context.Context, subjectID uuid.UUID) ([]*models.Role, error) {
	roles, err := r.roles.RolesForUser(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve roles: %w", err)
	}
	return roles, nil
}

// ResolvePermissions returns the subject's effective permission set,
// from the cache when present. A cache failure falls through to the stores.
func (r *Resolver) ResolvePermissions(ctx context.Context, subjectID uuid.UUID) (*PermissionSet, error) {
	key := permissionKey(subjectID)

	if r.isStale(subjectID) {
		observability.RecordPermissionCache("miss")
		return r.refresh(ctx, subjectID)
	}

	raw, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		set := &PermissionSet{}
		if jsonErr := json.Unmarshal(raw, set); jsonErr == nil {
			set.index()
			observability.RecordPermissionCache("hit")
			return set, nil
		}
		r.logger.Warn("discarding undecodable permission cache entry", zap.String("user_id", subjectID.String()))
		observability.RecordPermissionCache("error")
	case errors.Is(err, cache.ErrMiss):
		observability.RecordPermissionCache("miss")
	default:
		r.logger.Warn("permission cache read failed, resolving from store",
			zap.String("user_id", subjectID.String()),
			zap.Error(err),
		)
		observability.RecordPermissionCache("error")
	}

	return r.refresh(ctx, subjectID)
}

// refresh computes the set from the stores and writes it to the cache.
// A successful write lifts the subject's tombstone.
func (r *Resolver) refresh(ctx context.Context, subjectID uuid.UUID) (*PermissionSet, error) {
	set, err := r.compute(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(set)
	if err != nil {
		return set, nil
	}
	if err := r.cache.Set(ctx, permissionKey(subjectID), payload, r.cfg.CacheTTL); err != nil {
		r.logger.Warn("permission cache write failed",
			zap.String("user_id", subjectID.String()),
			zap.Error(err),
		)
		return set, nil
	}
	r.setStale(subjectID, false)
	return set, nil
}

func (r *Resolver) compute(ctx context.Context, subjectID uuid.UUID) (*PermissionSet, error) {
	roles, err := r.ResolveRoles(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}

	perms, err := r.perms.ForRoles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve permissions: %w", err)
	}
	return newPermissionSet(roles, perms), nil
}

func (r *Resolver) superAdmin(subject Subject, set *PermissionSet) bool {
	if r.cfg.SuperAdminEmail != "" && subject.Email == r.cfg.SuperAdminEmail {
		return true
	}
	return set.HasRole(models.SuperAdminRole)
}

// IsSuperAdmin reports whether the subject bypasses permission checks
func (r *Resolver) IsSuperAdmin(ctx context.Context, subject Subject) (bool, error) {
	if r.cfg.SuperAdminEmail != "" && subject.Email == r.cfg.SuperAdminEmail {
		return true, nil
	}
	set, err := r.ResolvePermissions(ctx, subject.ID)
	if err != nil {
		return false, err
	}
	return r.superAdmin(subject, set), nil
}

// Evaluate tests one predicate
func (r *Resolver) Evaluate(ctx context.Context, subject Subject, p Predicate) (bool, error) {
	set, err := r.ResolvePermissions(ctx, subject.ID)
	if err != nil {
		return false, err
	}
	return r.superAdmin(subject, set) || set.Has(p), nil
}

// EvaluateAny is true when at least one predicate holds; no predicates is false
func (r *Resolver) EvaluateAny(ctx context.Context, subject Subject, predicates []Predicate) (bool, error) {
	if len(predicates) == 0 {
		return false, nil
	}
	set, err := r.ResolvePermissions(ctx, subject.ID)
	if err != nil {
		return false, err
	}
	if r.superAdmin(subject, set) {
		return true, nil
	}
	for _, p := range predicates {
		if set.Has(p) {
			return true, nil
		}
	}
	return false, nil
}

// EvaluateAll is true when every predicate holds; no predicates is true
func (r *Resolver) EvaluateAll(ctx context.Context, subject Subject, predicates []Predicate) (bool, error) {
	if len(predicates) == 0 {
		return true, nil
	}
	set, err := r.ResolvePermissions(ctx, subject.ID)
	if err != nil {
		return false, err
	}
	if r.superAdmin(subject, set) {
		return true, nil
	}
	for _, p := range predicates {
		if !set.Has(p) {
			return false, nil
		}
	}
	return true, nil
}

// Check evaluates a route requirement according to its mode
func (r *Resolver) Check(ctx context.Context, subject Subject, req Requirement) (bool, error) {
	if req.Mode == ModeAll {
		return r.EvaluateAll(ctx, subject, req.Predicates)
	}
	return r.EvaluateAny(ctx, subject, req.Predicates)
}

// Invalidate drops the subject's cached permission set. It must follow any
// change to the subject's roles. When the cache delete fails the subject is
// tombstoned so the old entry is never served again.
func (r *Resolver) Invalidate(ctx context.Context, subjectID uuid.UUID) {
	if err := r.cache.Delete(ctx, permissionKey(subjectID)); err != nil {
		r.logger.Warn("permission cache invalidation failed, tombstoning subject",
			zap.String("user_id", subjectID.String()),
			zap.Error(err),
		)
		r.setStale(subjectID, true)
	}
}

// InvalidateRole invalidates every subject holding the role. It must follow
// any change to the role's grants.
func (r *Resolver) InvalidateRole(ctx context.Context, roleID uuid.UUID) error {
	subjects, err := r.roles.UsersWithRole(ctx, roleID)
	if err != nil {
		return fmt.Errorf("failed to list role members: %w", err)
	}
	for _, id := range subjects {
		r.Invalidate(ctx, id)
	}
	r.logger.Debug("role members invalidated",
		zap.String("role_id", roleID.String()),
		zap.Int("subjects", len(subjects)),
	)
	return nil
}
