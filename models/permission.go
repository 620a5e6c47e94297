package models

import (
	"time"

	"github.com/google/uuid"
)

// Permission is a grantable capability, addressed either by
// resource and action or by its unique name
type Permission struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Resource    string    `json:"resource" db:"resource"`
	Action      string    `json:"action" db:"action"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the Permission model
func (Permission) TableName() string {
	return "permissions"
}

// NewPermission creates a new Permission instance. An empty name
// defaults to "resource:action".
func NewPermission(name, resource, action, description string) *Permission {
	if name == "" {
		name = resource + ":" + action
	}
	return &Permission{
		ID:          uuid.New(),
		Name:        name,
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}
