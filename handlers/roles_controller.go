package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/rbac"
	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/services"
	"github.com/upb/authz-gateway/services/roles"
	"github.com/upb/authz-gateway/utils"
)

// Permissions guarding the management endpoints
var (
	PermRoleRead         = rbac.Require("role", "read")
	PermRoleCreate       = rbac.Require("role", "create")
	PermRoleUpdate       = rbac.Require("role", "update")
	PermPermissionRead   = rbac.Require("permission", "read")
	PermPermissionCreate = rbac.Require("permission", "create")
	PermUserUpdate       = rbac.Require("user", "update")
)

// RoleController manages roles and their grants
type RoleController struct {
	roles *roles.Service
}

// NewRoleController creates a new RoleController
func NewRoleController(svc *roles.Service) *RoleController {
	return &RoleController{roles: svc}
}

// Declare registers the /roles routes
func (h *RoleController) Declare(b *registry.Builder) {
	c := b.Controller("roles", "/roles")

	c.Get("/", "list", h.list).Require(PermRoleRead)

	c.Post("/", "create", h.create).
		Require(PermRoleCreate).
		Body(0, func() any { return new(roles.CreateRoleInput) }).
		Status(http.StatusCreated).
		Message("Role created")

	c.Post("/{id}/permissions", "grant", h.grant).
		Require(PermRoleUpdate).
		Path(0, "id").
		Body(1, func() any { return new(roles.GrantInput) }).
		Message("Permissions granted")

	c.Delete("/{id}/permissions/{permissionId}", "revoke", h.revoke).
		Require(PermRoleUpdate).
		Path(0, "id").
		Path(1, "permissionId").
		Message("Permission revoked")
}

func (h *RoleController) list(c *registry.Call) (any, error) {
	return h.roles.ListRoles(c.Context())
}

func (h *RoleController) create(c *registry.Call) (any, error) {
	in, _ := registry.Arg[*roles.CreateRoleInput](c, 0)
	return h.roles.CreateRole(c.Context(), *in)
}

func (h *RoleController) grant(c *registry.Call) (any, error) {
	roleID, err := pathID(c, 0, "id")
	if err != nil {
		return nil, err
	}
	in, _ := registry.Arg[*roles.GrantInput](c, 1)
	return nil, h.roles.GrantPermissions(c.Context(), roleID, *in)
}

func (h *RoleController) revoke(c *registry.Call) (any, error) {
	roleID, err := pathID(c, 0, "id")
	if err != nil {
		return nil, err
	}
	permID, err := pathID(c, 1, "permissionId")
	if err != nil {
		return nil, err
	}
	return nil, h.roles.RevokePermission(c.Context(), roleID, permID)
}

// PermissionController manages the permission catalogue
type PermissionController struct {
	roles *roles.Service
}

// NewPermissionController creates a new PermissionController
func NewPermissionController(svc *roles.Service) *PermissionController {
	return &PermissionController{roles: svc}
}

// Declare registers the /permissions routes
func (h *PermissionController) Declare(b *registry.Builder) {
	c := b.Controller("permissions", "/permissions")

	c.Get("/", "list", h.list).Require(PermPermissionRead)

	c.Post("/", "create", h.create).
		Require(PermPermissionCreate).
		Body(0, func() any { return new(roles.CreatePermissionInput) }).
		Status(http.StatusCreated).
		Message("Permission created")
}

func (h *PermissionController) list(c *registry.Call) (any, error) {
	return h.roles.ListPermissions(c.Context())
}

func (h *PermissionController) create(c *registry.Call) (any, error) {
	in, _ := registry.Arg[*roles.CreatePermissionInput](c, 0)
	return h.roles.CreatePermission(c.Context(), *in)
}

// UserRoleController manages role assignments
type UserRoleController struct {
	roles *roles.Service
}

// NewUserRoleController creates a new UserRoleController
func NewUserRoleController(svc *roles.Service) *UserRoleController {
	return &UserRoleController{roles: svc}
}

// Declare registers the /users routes
func (h *UserRoleController) Declare(b *registry.Builder) {
	c := b.Controller("users", "/users")

	c.Post("/{id}/roles", "assign", h.assign).
		Require(PermUserUpdate).
		Path(0, "id").
		Body(1, func() any { return new(roles.AssignInput) }).
		Message("Roles assigned")

	c.Delete("/{id}/roles/{roleId}", "remove", h.remove).
		Require(PermUserUpdate).
		Path(0, "id").
		Path(1, "roleId").
		Message("Role removed")
}

func (h *UserRoleController) assign(c *registry.Call) (any, error) {
	userID, err := pathID(c, 0, "id")
	if err != nil {
		return nil, err
	}
	in, _ := registry.Arg[*roles.AssignInput](c, 1)
	return nil, h.roles.AssignRoles(c.Context(), userID, *in)
}

func (h *UserRoleController) remove(c *registry.Call) (any, error) {
	userID, err := pathID(c, 0, "id")
	if err != nil {
		return nil, err
	}
	roleID, err := pathID(c, 1, "roleId")
	if err != nil {
		return nil, err
	}
	return nil, h.roles.RemoveRole(c.Context(), userID, roleID)
}

// pathID parses the path parameter bound at index i
func pathID(c *registry.Call, i int, name string) (uuid.UUID, error) {
	raw, _ := registry.Arg[string](c, i)
	id, err := utils.ParseUUID(raw)
	if err != nil {
		return uuid.Nil, services.NewValidationError("Invalid identifier", map[string]interface{}{name: err.Error()})
	}
	return id, nil
}
