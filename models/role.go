package models

import (
	"time"

	"github.com/google/uuid"
)

// SuperAdminRole is the role name that bypasses permission checks
const SuperAdminRole = "admin"

// Role groups permissions and is assigned to users
type Role struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the Role model
func (Role) TableName() string {
	return "roles"
}

// NewRole creates a new Role instance
func NewRole(name, description string) *Role {
	return &Role{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// IsSuperAdmin reports whether the role grants unrestricted access
func (r *Role) IsSuperAdmin() bool {
	return r.Name == SuperAdminRole
}
