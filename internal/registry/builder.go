package registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/upb/authz-gateway/internal/rbac"
)

// Builder accumulates declarations until Build
type Builder struct {
	controllers []*ControllerBuilder
	errs        []error
	built       bool
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Controller opens a controller rooted at basePath
func (b *Builder) Controller(name, basePath string) *ControllerBuilder {
	for _, c := range b.controllers {
		if c.name == name {
			b.errs = append(b.errs, fmt.Errorf("controller %q declared twice", name))
		}
	}
	c := &ControllerBuilder{
		builder:    b,
		name:       name,
		basePath:   basePath,
		middleware: make(map[string][]Middleware),
		bindings:   make(map[string][]Binding),
		anonymous:  make(map[string]bool),
		require:    make(map[string]*rbac.Requirement),
		status:     make(map[string]int),
		message:    make(map[string]string),
	}
	b.controllers = append(b.controllers, c)
	return c
}

// Build merges every declaration and validates the result
func (b *Builder) Build() (*Registry, error) {
	if b.built {
		return nil, errors.New("registry: already built")
	}
	b.built = true

	errs := append([]error(nil), b.errs...)
	reg := &Registry{}

	for _, c := range b.controllers {
		ctrl, cErrs := c.merge()
		errs = append(errs, cErrs...)
		reg.controllers = append(reg.controllers, ctrl)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return reg, nil
}

type routeDecl struct {
	method  string
	subPath string
	name    string
	handler Handler
}

// ControllerBuilder records declarations for one controller. Routes,
// middleware and bindings are registered independently and joined by
// handler name.
type ControllerBuilder struct {
	builder  *Builder
	name     string
	basePath string

	routes     []routeDecl
	middleware map[string][]Middleware
	bindings   map[string][]Binding
	anonymous  map[string]bool
	require    map[string]*rbac.Requirement
	status     map[string]int
	message    map[string]string
}

// Route registers handler name at method and subPath
func (c *ControllerBuilder) Route(method, subPath, name string, h Handler) *RouteBuilder {
	c.routes = append(c.routes, routeDecl{
		method:  strings.ToUpper(method),
		subPath: NormalizeSubPath(subPath),
		name:    name,
		handler: h,
	})
	return &RouteBuilder{c: c, name: name}
}

func (c *ControllerBuilder) Get(subPath, name string, h Handler) *RouteBuilder {
	return c.Route(http.MethodGet, subPath, name, h)
}

func (c *ControllerBuilder) Post(subPath, name string, h Handler) *RouteBuilder {
	return c.Route(http.MethodPost, subPath, name, h)
}

func (c *ControllerBuilder) Put(subPath, name string, h Handler) *RouteBuilder {
	return c.Route(http.MethodPut, subPath, name, h)
}

func (c *ControllerBuilder) Patch(subPath, name string, h Handler) *RouteBuilder {
	return c.Route(http.MethodPatch, subPath, name, h)
}

func (c *ControllerBuilder) Delete(subPath, name string, h Handler) *RouteBuilder {
	return c.Route(http.MethodDelete, subPath, name, h)
}

// Use appends middleware to the named handler, in declaration order
func (c *ControllerBuilder) Use(name string, mw ...Middleware) {
	c.middleware[name] = append(c.middleware[name], mw...)
}

// Param binds argument index of the named handler
func (c *ControllerBuilder) Param(name string, b Binding) {
	c.bindings[name] = append(c.bindings[name], b)
}

func (c *ControllerBuilder) merge() (Controller, []error) {
	var errs []error
	ctrl := Controller{Name: c.name, BasePath: NormalizeSubPath(c.basePath)}

	seenRoute := make(map[string]string)
	declared := make(map[string]bool)

	for _, d := range c.routes {
		if !allowedMethods[d.method] {
			errs = append(errs, fmt.Errorf("%s.%s: unsupported method %q", c.name, d.name, d.method))
			continue
		}
		if d.handler == nil {
			errs = append(errs, fmt.Errorf("%s.%s: nil handler", c.name, d.name))
			continue
		}
		key := d.method + " " + d.subPath
		if other, dup := seenRoute[key]; dup {
			errs = append(errs, fmt.Errorf("%w: %s %s%s (%s.%s and %s.%s)",
				ErrDuplicateRoute, d.method, ctrl.BasePath, d.subPath, c.name, other, c.name, d.name))
			continue
		}
		seenRoute[key] = d.name
		declared[d.name] = true

		bindings, bErrs := c.checkBindings(d.name)
		errs = append(errs, bErrs...)

		ctrl.Routes = append(ctrl.Routes, Route{
			Method:      d.method,
			SubPath:     d.subPath,
			Name:        d.name,
			Handler:     d.handler,
			Middleware:  append([]Middleware(nil), c.middleware[d.name]...),
			Bindings:    bindings,
			Anonymous:   c.anonymous[d.name],
			Requirement: c.require[d.name],
			Status:      c.status[d.name],
			Message:     c.message[d.name],
		})
	}

	for name := range c.middleware {
		if !declared[name] {
			errs = append(errs, fmt.Errorf("%s.%s: middleware declared for unknown handler", c.name, name))
		}
	}
	for name := range c.bindings {
		if !declared[name] {
			errs = append(errs, fmt.Errorf("%s.%s: parameter declared for unknown handler", c.name, name))
		}
	}

	return ctrl, errs
}

func (c *ControllerBuilder) checkBindings(name string) ([]Binding, []error) {
	var errs []error
	seen := make(map[int]bool)
	bindings := append([]Binding(nil), c.bindings[name]...)

	for _, b := range bindings {
		if b.Index < 0 {
			errs = append(errs, fmt.Errorf("%s.%s: negative parameter index %d", c.name, name, b.Index))
		}
		if seen[b.Index] {
			errs = append(errs, fmt.Errorf("%s.%s: parameter %d bound twice", c.name, name, b.Index))
		}
		seen[b.Index] = true
		if b.Source < SourceBody || b.Source > SourceCookie {
			errs = append(errs, fmt.Errorf("%s.%s: unknown parameter source %s", c.name, name, b.Source))
		}
	}
	return bindings, errs
}

// RouteBuilder attaches metadata to the route just declared
type RouteBuilder struct {
	c    *ControllerBuilder
	name string
}

// Use appends middleware after authentication and authorization
func (r *RouteBuilder) Use(mw ...Middleware) *RouteBuilder {
	r.c.Use(r.name, mw...)
	return r
}

// Anonymous skips authentication and authorization
func (r *RouteBuilder) Anonymous() *RouteBuilder {
	r.c.anonymous[r.name] = true
	return r
}

// Require guards the route with req
func (r *RouteBuilder) Require(req rbac.Requirement) *RouteBuilder {
	r.c.require[r.name] = &req
	return r
}

// Status sets the success status code
func (r *RouteBuilder) Status(code int) *RouteBuilder {
	r.c.status[r.name] = code
	return r
}

// Message sets the success envelope message
func (r *RouteBuilder) Message(msg string) *RouteBuilder {
	r.c.message[r.name] = msg
	return r
}

// Body binds the decoded request body to argument index
func (r *RouteBuilder) Body(index int, newValue func() any) *RouteBuilder {
	r.c.Param(r.name, Binding{Index: index, Source: SourceBody, New: newValue})
	return r
}

// BodyField binds one top-level field of a JSON body to argument index
func (r *RouteBuilder) BodyField(index int, field string) *RouteBuilder {
	r.c.Param(r.name, Binding{Index: index, Source: SourceBody, Name: field})
	return r
}

// Query binds a query parameter, or all of them when name is empty
func (r *RouteBuilder) Query(index int, name string) *RouteBuilder {
	r.c.Param(r.name, Binding{Index: index, Source: SourceQuery, Name: name})
	return r
}

// Path binds a path parameter, or all of them when name is empty
func (r *RouteBuilder) Path(index int, name string) *RouteBuilder {
	r.c.Param(r.name, Binding{Index: index, Source: SourcePath, Name: name})
	return r
}

// Header binds a request header, or all of them when name is empty
func (r *RouteBuilder) Header(index int, name string) *RouteBuilder {
	r.c.Param(r.name, Binding{Index: index, Source: SourceHeader, Name: name})
	return r
}

// Cookie binds a cookie value, or all cookies when name is empty
func (r *RouteBuilder) Cookie(index int, name string) *RouteBuilder {
	r.c.Param(r.name, Binding{Index: index, Source: SourceCookie, Name: name})
	return r
}
