package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"go.uber.org/zap"
)

// RoleRepository implements the repositories.RoleRepository interface
type RoleRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB, logger *zap.Logger) repositories.RoleRepository {
	return &RoleRepository{db: db, logger: logger}
}

// Create creates a new role
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	query := `
		INSERT INTO roles (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, role.ID, role.Name, role.Description, role.CreatedAt); err != nil {
		return fmt.Errorf("failed to create role: %w", translateError(err))
	}

	r.logger.Debug("role created", zap.String("id", role.ID.String()), zap.String("name", role.Name))
	return nil
}

// GetByID retrieves a role by ID
func (r *RoleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error) {
	query := `SELECT id, name, description, created_at FROM roles WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetByName retrieves a role by its unique name
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT id, name, description, created_at FROM roles WHERE name = $1`
	return r.getOne(ctx, query, name)
}

func (r *RoleRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Role, error) {
	executor := GetExecutor(ctx, r.db)
	role := &models.Role{}

	err := executor.QueryRowContext(ctx, query, arg).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", translateError(err))
	}
	return role, nil
}

// List returns every role ordered by name
func (r *RoleRepository) List(ctx context.Context) ([]*models.Role, error) {
	query := `SELECT id, name, description, created_at FROM roles ORDER BY name`
	return r.query(ctx, query)
}

// RolesForUser returns the user's roles ordered by name
func (r *RoleRepository) RolesForUser(ctx context.Context, userID uuid.UUID) ([]*models.Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.created_at
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`
	return r.query(ctx, query, userID)
}

func (r *RoleRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Role, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*models.Role, 0)
	for rows.Next() {
		role := &models.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role rows: %w", err)
	}
	return roles, nil
}

// UsersWithRole returns every user holding the role
func (r *RoleRepository) UsersWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM user_roles WHERE role_id = $1`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query role members: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role member: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating role member rows: %w", err)
	}
	return ids, nil
}

// AssignToUser links the role to the user; repeating it is a no-op
func (r *RoleRepository) AssignToUser(ctx context.Context, userID, roleID uuid.UUID) error {
	query := `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, userID, roleID); err != nil {
		return fmt.Errorf("failed to assign role: %w", translateError(err))
	}
	return nil
}

// RemoveFromUser unlinks the role, returning ErrNotFound when no link existed
func (r *RoleRepository) RemoveFromUser(ctx context.Context, userID, roleID uuid.UUID) error {
	query := `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return requireAffected(result, "role assignment")
}

// GrantPermission links the permission to the role; repeating it is a no-op
func (r *RoleRepository) GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	query := `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, roleID, permissionID); err != nil {
		return fmt.Errorf("failed to grant permission: %w", translateError(err))
	}
	return nil
}

// RevokePermission unlinks the permission, returning ErrNotFound when no link existed
func (r *RoleRepository) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	query := `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}
	return requireAffected(result, "role permission")
}

func requireAffected(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, repositories.ErrNotFound)
	}
	return nil
}
