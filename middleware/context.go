package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/rbac"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the authenticated principal
	PrincipalKey contextKey = "principal"
)

// Principal is the authenticated caller of a request
type Principal struct {
	SubjectID    uuid.UUID
	Email        string
	IsSuperAdmin bool

	// Token is the raw access token, kept so logout can deny it
	Token     string
	ExpiresAt time.Time
}

// Subject returns the principal as an authorization subject
func (p *Principal) Subject() rbac.Subject {
	return rbac.Subject{ID: p.SubjectID, Email: p.Email}
}

// WithPrincipal adds the principal to the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext retrieves the principal from context
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*Principal)
	return p, ok && p != nil
}
