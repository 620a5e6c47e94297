package registry

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authz-gateway/internal/rbac"
)

func noop(*Call) (any, error) { return nil, nil }

func passthrough(next http.Handler) http.Handler { return next }

func TestBuilder_MergesDeclarations(t *testing.T) {
	b := NewBuilder()
	c := b.Controller("roles", "roles/")

	c.Get("/", "list", noop).Require(rbac.Require("role", "read"))
	c.Post("", "create", noop).Status(http.StatusCreated).Message("Role created")
	c.Post("{id}/permissions/", "grant", noop).Path(0, "id").Body(1, func() any { return &struct{}{} })
	c.Use("grant", passthrough, passthrough)
	c.Param("grant", Binding{Index: 2, Source: SourceHeader, Name: "X-Trace"})

	reg, err := b.Build()
	require.NoError(t, err)

	routes, ok := reg.Routes("roles")
	require.True(t, ok)
	require.Len(t, routes, 3)

	assert.Equal(t, "", routes[0].SubPath)
	require.NotNil(t, routes[0].Requirement)
	assert.Equal(t, "role:read", routes[0].Requirement.String())

	assert.Equal(t, http.StatusCreated, routes[1].Status)
	assert.Equal(t, "Role created", routes[1].Message)

	grant := routes[2]
	assert.Equal(t, "/{id}/permissions", grant.SubPath)
	assert.Len(t, grant.Middleware, 2)
	require.Len(t, grant.Bindings, 3)
	assert.Equal(t, SourceHeader, grant.Bindings[2].Source)

	ctrls := reg.Controllers()
	require.Len(t, ctrls, 1)
	assert.Equal(t, "/roles", ctrls[0].BasePath)

	_, ok = reg.Routes("missing")
	assert.False(t, ok)
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		declare func(b *Builder)
		errMsg  string
	}{
		{
			name: "duplicate method and path",
			declare: func(b *Builder) {
				c := b.Controller("users", "/users")
				c.Get("/me", "a", noop)
				c.Get("me/", "b", noop)
			},
			errMsg: "duplicate route",
		},
		{
			name: "middleware for unknown handler",
			declare: func(b *Builder) {
				c := b.Controller("users", "/users")
				c.Get("/", "list", noop)
				c.Use("ghost", passthrough)
			},
			errMsg: "middleware declared for unknown handler",
		},
		{
			name: "parameter bound twice",
			declare: func(b *Builder) {
				b.Controller("users", "/users").Get("/{id}", "get", noop).Path(0, "id").Query(0, "q")
			},
			errMsg: "bound twice",
		},
		{
			name: "unsupported method",
			declare: func(b *Builder) {
				b.Controller("users", "/users").Route("TRACE", "/", "trace", noop)
			},
			errMsg: "unsupported method",
		},
		{
			name: "nil handler",
			declare: func(b *Builder) {
				b.Controller("users", "/users").Get("/", "list", nil)
			},
			errMsg: "nil handler",
		},
		{
			name: "controller declared twice",
			declare: func(b *Builder) {
				b.Controller("users", "/users")
				b.Controller("users", "/people")
			},
			errMsg: "declared twice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder()
			tt.declare(b)
			_, err := b.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestBuilder_SamePathDifferentMethods(t *testing.T) {
	b := NewBuilder()
	c := b.Controller("roles", "/roles")
	c.Get("/", "list", noop)
	c.Post("/", "create", noop)

	_, err := b.Build()
	assert.NoError(t, err)
}

func TestBuilder_BuildOnce(t *testing.T) {
	b := NewBuilder()
	_, err := b.Build()
	require.NoError(t, err)

	_, err = b.Build()
	assert.Error(t, err)
}

func TestNormalizeSubPath(t *testing.T) {
	assert.Equal(t, "", NormalizeSubPath(""))
	assert.Equal(t, "", NormalizeSubPath("/"))
	assert.Equal(t, "/a/b", NormalizeSubPath("a/b/"))
	assert.Equal(t, "/a", NormalizeSubPath("//a"))
}

func TestArg(t *testing.T) {
	c := &Call{Args: []any{"x", 3}}

	s, ok := Arg[string](c, 0)
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = Arg[string](c, 1)
	assert.False(t, ok)

	_, ok = Arg[int](c, 5)
	assert.False(t, ok)
}
