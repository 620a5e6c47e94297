// Package registry collects route metadata declared by controllers.
//
// Controllers declare routes, per-handler middleware and parameter bindings
// against a Builder at startup. Build merges those declarations into an
// immutable Registry and rejects conflicting ones, so mistakes surface
// before the server accepts traffic.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/upb/authz-gateway/internal/rbac"
)

// Middleware is the standard net/http middleware shape
type Middleware = func(http.Handler) http.Handler

// Source selects where a bound parameter is read from
type Source int

const (
	SourceBody Source = iota
	SourceQuery
	SourcePath
	SourceHeader
	SourceCookie
)

func (s Source) String() string {
	switch s {
	case SourceBody:
		return "body"
	case SourceQuery:
		return "query"
	case SourcePath:
		return "path"
	case SourceHeader:
		return "header"
	case SourceCookie:
		return "cookie"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Binding fills argument Index from Source. An empty Name binds the whole
// source. For body bindings, New returns the value to decode into.
type Binding struct {
	Index  int
	Source Source
	Name   string
	New    func() any
}

// Handler is a controller method. A non-nil result is written as the
// success envelope unless the handler already wrote a response.
type Handler func(c *Call) (any, error)

// Call is the invocation of one handler
type Call struct {
	Request *http.Request
	Writer  http.ResponseWriter
	Args    []any
}

// Context returns the request context
func (c *Call) Context() context.Context {
	return c.Request.Context()
}

// Arg returns argument i as T
func Arg[T any](c *Call, i int) (T, bool) {
	var zero T
	if i < 0 || i >= len(c.Args) {
		return zero, false
	}
	v, ok := c.Args[i].(T)
	return v, ok
}

// Response overrides the route's default status and message
type Response struct {
	Status  int
	Message string
	Data    any
}

// Respond builds a Response
func Respond(status int, message string, data any) Response {
	return Response{Status: status, Message: message, Data: data}
}

// Route is one merged route descriptor
type Route struct {
	Method      string
	SubPath     string
	Name        string
	Handler     Handler
	Middleware  []Middleware
	Bindings    []Binding
	Anonymous   bool
	Requirement *rbac.Requirement
	Status      int
	Message     string
}

// Controller groups routes under a base path
type Controller struct {
	Name     string
	BasePath string
	Routes   []Route
}

// Registry is the immutable result of Build
type Registry struct {
	controllers []Controller
}

// Controllers returns every controller in declaration order
func (r *Registry) Controllers() []Controller {
	out := make([]Controller, len(r.controllers))
	for i, c := range r.controllers {
		out[i] = c
		out[i].Routes = append([]Route(nil), c.Routes...)
	}
	return out
}

// Routes returns the merged routes of the named controller
func (r *Registry) Routes(controller string) ([]Route, bool) {
	for _, c := range r.controllers {
		if c.Name == controller {
			return append([]Route(nil), c.Routes...), true
		}
	}
	return nil, false
}

var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// NormalizeSubPath gives p exactly one leading slash and no trailing slash.
// The empty path stays empty.
func NormalizeSubPath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}

// ErrDuplicateRoute is returned by Build for two routes sharing method and path
var ErrDuplicateRoute = errors.New("duplicate route")
