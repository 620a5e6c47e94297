package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"go.uber.org/zap"
)

const permissionColumns = `id, name, resource, action, description, created_at`

// PermissionRepository implements the repositories.PermissionRepository interface
type PermissionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB, logger *zap.Logger) repositories.PermissionRepository {
	return &PermissionRepository{db: db, logger: logger}
}

// Create creates a new permission
func (r *PermissionRepository) Create(ctx context.Context, p *models.Permission) error {
	query := `
		INSERT INTO permissions (` + permissionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query, p.ID, p.Name, p.Resource, p.Action, p.Description, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create permission: %w", translateError(err))
	}

	r.logger.Debug("permission created", zap.String("id", p.ID.String()), zap.String("name", p.Name))
	return nil
}

// GetByID retrieves a permission by ID
func (r *PermissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	p := &models.Permission{}
	err := executor.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", translateError(err))
	}
	return p, nil
}

// List returns every permission ordered by name
func (r *PermissionRepository) List(ctx context.Context) ([]*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions ORDER BY name`
	return r.query(ctx, query)
}

// ForRoles returns the distinct permissions granted to any of roleIDs
func (r *PermissionRepository) ForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]*models.Permission, error) {
	if len(roleIDs) == 0 {
		return []*models.Permission{}, nil
	}

	query := `
		SELECT DISTINCT p.id, p.name, p.resource, p.action, p.description, p.created_at
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.name
	`
	return r.query(ctx, query, uuidArray(roleIDs))
}

func (r *PermissionRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.Permission, error) {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	permissions := make([]*models.Permission, 0)
	for rows.Next() {
		p := &models.Permission{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating permission rows: %w", err)
	}
	return permissions, nil
}
