package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/rbac"
	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/middleware"
	"github.com/upb/authz-gateway/services"
)

// PermissionResolver resolves the effective permissions of a subject
type PermissionResolver interface {
	ResolvePermissions(ctx context.Context, subjectID uuid.UUID) (*rbac.PermissionSet, error)
}

// ProfileResponse describes the caller
type ProfileResponse struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	IsSuperAdmin bool      `json:"isSuperAdmin"`
	Roles        []string  `json:"roles"`
}

// ProfileController serves the caller's own identity and permissions
type ProfileController struct {
	resolver PermissionResolver
}

// NewProfileController creates a new ProfileController
func NewProfileController(resolver PermissionResolver) *ProfileController {
	return &ProfileController{resolver: resolver}
}

// Declare registers the /profile routes
func (h *ProfileController) Declare(b *registry.Builder) {
	c := b.Controller("profile", "/profile")
	c.Get("/", "profile", h.profile)
	c.Get("/permissions", "permissions", h.permissions)
}

func (h *ProfileController) resolve(c *registry.Call) (*middleware.Principal, *rbac.PermissionSet, error) {
	p, ok := middleware.PrincipalFromContext(c.Context())
	if !ok {
		return nil, nil, services.NewUnauthorizedError("")
	}
	set, err := h.resolver.ResolvePermissions(c.Context(), p.SubjectID)
	if err != nil {
		return nil, nil, services.WrapInternal("failed to resolve permissions", err)
	}
	return p, set, nil
}

func (h *ProfileController) profile(c *registry.Call) (any, error) {
	p, set, err := h.resolve(c)
	if err != nil {
		return nil, err
	}
	return ProfileResponse{
		ID:           p.SubjectID,
		Email:        p.Email,
		IsSuperAdmin: p.IsSuperAdmin,
		Roles:        set.Roles,
	}, nil
}

func (h *ProfileController) permissions(c *registry.Call) (any, error) {
	_, set, err := h.resolve(c)
	if err != nil {
		return nil, err
	}
	return set, nil
}
