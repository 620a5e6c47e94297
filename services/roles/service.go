// Package roles manages roles, permissions and their assignment. Every
// change to a subject's effective permissions invalidates the cached
// permission sets it affects.
package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"github.com/upb/authz-gateway/services"
	"go.uber.org/zap"
)

// Invalidator drops cached permission sets
type Invalidator interface {
	Invalidate(ctx context.Context, subjectID uuid.UUID)
	InvalidateRole(ctx context.Context, roleID uuid.UUID) error
}

// CreateRoleInput is the body of a role creation request
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// CreatePermissionInput is the body of a permission creation request.
// A permission needs a resource and action pair, a name, or both.
type CreatePermissionInput struct {
	Name        string `json:"name" validate:"required_without=Resource,max=128"`
	Resource    string `json:"resource" validate:"required_with=Action,max=64"`
	Action      string `json:"action" validate:"required_with=Resource,max=64"`
	Description string `json:"description" validate:"max=255"`
}

// GrantInput lists permissions to grant to a role
type GrantInput struct {
	PermissionIDs []uuid.UUID `json:"permissionIds" validate:"required,min=1"`
}

// AssignInput lists roles to assign to a user
type AssignInput struct {
	RoleIDs []uuid.UUID `json:"roleIds" validate:"required,min=1"`
}

// Service handles role and permission management
type Service struct {
	repos       *repositories.Repositories
	invalidator Invalidator
	logger      *zap.Logger
}

// NewService creates a new roles service
func NewService(repos *repositories.Repositories, invalidator Invalidator, logger *zap.Logger) *Service {
	return &Service{
		repos:       repos,
		invalidator: invalidator,
		logger:      logger,
	}
}

// ListRoles returns every role ordered by name
func (s *Service) ListRoles(ctx context.Context) ([]*models.Role, error) {
	roles, err := s.repos.Roles.List(ctx)
	if err != nil {
		return nil, services.WrapDatabase("failed to list roles", err)
	}
	return roles, nil
}

// CreateRole creates a role with a unique name
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (*models.Role, error) {
	role := models.NewRole(strings.TrimSpace(in.Name), in.Description)
	if err := s.repos.Roles.Create(ctx, role); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.NewConflictError("Role name already exists")
		}
		return nil, services.WrapDatabase("failed to create role", err)
	}
	s.logger.Info("role created", zap.String("role_id", role.ID.String()), zap.String("name", role.Name))
	return role, nil
}

// ListPermissions returns every permission ordered by name
func (s *Service) ListPermissions(ctx context.Context) ([]*models.Permission, error) {
	perms, err := s.repos.Permissions.List(ctx)
	if err != nil {
		return nil, services.WrapDatabase("failed to list permissions", err)
	}
	return perms, nil
}

// CreatePermission creates a permission. The name defaults to resource:action.
func (s *Service) CreatePermission(ctx context.Context, in CreatePermissionInput) (*models.Permission, error) {
	perm := models.NewPermission(strings.TrimSpace(in.Name), in.Resource, in.Action, in.Description)
	if err := s.repos.Permissions.Create(ctx, perm); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.NewConflictError("Permission name already exists")
		}
		return nil, services.WrapDatabase("failed to create permission", err)
	}
	s.logger.Info("permission created", zap.String("permission_id", perm.ID.String()), zap.String("name", perm.Name))
	return perm, nil
}

// GrantPermissions grants permissions to a role and invalidates every
// member of the role
func (s *Service) GrantPermissions(ctx context.Context, roleID uuid.UUID, in GrantInput) error {
	err := s.repos.TxManager.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if _, err := s.repos.Roles.GetByID(ctx, roleID); err != nil {
			return notFound(err, "Role not found")
		}
		for _, permID := range in.PermissionIDs {
			if _, err := s.repos.Permissions.GetByID(ctx, permID); err != nil {
				return notFound(err, "Permission not found").WithDetail("permissionId", permID.String())
			}
			if err := s.repos.Roles.GrantPermission(ctx, roleID, permID); err != nil {
				return services.NewDatabaseError("failed to grant permission", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.invalidateRole(ctx, roleID)
}

// RevokePermission removes a grant from a role and invalidates every
// member of the role
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	if err := s.repos.Roles.RevokePermission(ctx, roleID, permissionID); err != nil {
		return notFound(err, "Permission is not granted to role")
	}
	return s.invalidateRole(ctx, roleID)
}

// AssignRoles assigns roles to a user and invalidates the user
func (s *Service) AssignRoles(ctx context.Context, userID uuid.UUID, in AssignInput) error {
	err := s.repos.TxManager.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		if _, err := s.repos.Users.GetByID(ctx, userID); err != nil {
			return notFound(err, "User not found")
		}
		for _, roleID := range in.RoleIDs {
			if _, err := s.repos.Roles.GetByID(ctx, roleID); err != nil {
				return notFound(err, "Role not found").WithDetail("roleId", roleID.String())
			}
			if err := s.repos.Roles.AssignToUser(ctx, userID, roleID); err != nil {
				return services.NewDatabaseError("failed to assign role", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidator.Invalidate(ctx, userID)
	return nil
}

// RemoveRole removes a role from a user and invalidates the user
func (s *Service) RemoveRole(ctx context.Context, userID, roleID uuid.UUID) error {
	if err := s.repos.Roles.RemoveFromUser(ctx, userID, roleID); err != nil {
		return notFound(err, "Role is not assigned to user")
	}
	s.invalidator.Invalidate(ctx, userID)
	return nil
}

func (s *Service) invalidateRole(ctx context.Context, roleID uuid.UUID) error {
	if err := s.invalidator.InvalidateRole(ctx, roleID); err != nil {
		s.logger.Error("role invalidation failed", zap.String("role_id", roleID.String()), zap.Error(err))
		return services.WrapInternal("failed to invalidate role members", err)
	}
	return nil
}

// notFound maps a missing row to a 404 and anything else to a database error
func notFound(err error, message string) *services.DomainError {
	if errors.Is(err, repositories.ErrNotFound) {
		return services.NewNotFoundError(message)
	}
	return services.NewDatabaseError("", err)
}
