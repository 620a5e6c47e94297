package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a uniqueness constraint
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// Repositories called with the ctx passed to fn join the transaction.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user, returning ErrDuplicate if the email is taken
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// RoleRepository handles roles and the user-role and role-permission edges
type RoleRepository interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Role, error)
	GetByName(ctx context.Context, name string) (*models.Role, error)
	List(ctx context.Context) ([]*models.Role, error)

	// RolesForUser returns the user's roles ordered by name
	RolesForUser(ctx context.Context, userID uuid.UUID) ([]*models.Role, error)

	// UsersWithRole returns every user holding the role
	UsersWithRole(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error)

	// AssignToUser is idempotent
	AssignToUser(ctx context.Context, userID, roleID uuid.UUID) error
	RemoveFromUser(ctx context.Context, userID, roleID uuid.UUID) error

	// GrantPermission is idempotent
	GrantPermission(ctx context.Context, roleID, permissionID uuid.UUID) error
	RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error
}

// PermissionRepository handles permission data operations
type PermissionRepository interface {
	// Create creates a permission, returning ErrDuplicate if the name is taken
	Create(ctx context.Context, permission *models.Permission) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Permission, error)
	List(ctx context.Context) ([]*models.Permission, error)

	// ForRoles returns the distinct permissions granted to any of roleIDs
	ForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]*models.Permission, error)
}

// RefreshTokenRepository is the durable copy of live refresh tokens
type RefreshTokenRepository interface {
	// Replace deletes any record for token.UserID and inserts token atomically
	Replace(ctx context.Context, token *models.RefreshToken) error

	// FindByUserAndToken returns the record matching both values, expired or not
	FindByUserAndToken(ctx context.Context, userID uuid.UUID, token string) (*models.RefreshToken, error)

	// DeleteByUser removes the user's record; absent records are not an error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error

	// DeleteExpired removes every record expired at now
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users         UserRepository
	Roles         RoleRepository
	Permissions   PermissionRepository
	RefreshTokens RefreshTokenRepository
	TxManager     TransactionManager
}
