// Package router mounts registry routes on an HTTP transport.
//
// Every non-anonymous route runs authentication first, then authorization
// when the route declares a requirement, then its own middleware. Handler
// results are written as the success envelope; errors, binding failures
// and panics go to the shared error writer.
package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/authz-gateway/internal/rbac"
	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/services"
	"github.com/upb/authz-gateway/utils"
	"go.uber.org/zap"
)

// ErrorWriter renders a failure as the error envelope
type ErrorWriter interface {
	WriteError(w http.ResponseWriter, r *http.Request, err error)
}

// Guards supplies the authentication and authorization middleware
type Guards struct {
	Authenticate registry.Middleware
	Authorize    func(rbac.Requirement) registry.Middleware
}

// Declarer is implemented by controllers
type Declarer interface {
	Declare(b *registry.Builder)
}

// Descriptor is the compiled, read-only view of one mounted route
type Descriptor struct {
	Method      string
	Path        string
	Controller  string
	Handler     string
	Anonymous   bool
	Requirement string
	Middleware  int
}

// Router compiles controllers into routes on a Transport
type Router struct {
	transport Transport
	guards    Guards
	errors    ErrorWriter
	logger    *zap.Logger

	mounted bool
	routes  []Descriptor
}

// New creates a new router
func New(transport Transport, guards Guards, errs ErrorWriter, logger *zap.Logger) *Router {
	return &Router{
		transport: transport,
		guards:    guards,
		errors:    errs,
		logger:    logger,
	}
}

type compiled struct {
	desc    Descriptor
	chain   []registry.Middleware
	handler http.Handler
}

// Mount declares, validates and registers every controller. It may be called
// once; nothing is registered unless every route is valid.
func (r *Router) Mount(controllers ...Declarer) error {
	if r.mounted {
		return errors.New("router: already mounted")
	}

	b := registry.NewBuilder()
	for _, c := range controllers {
		c.Declare(b)
	}
	reg, err := b.Build()
	if err != nil {
		return fmt.Errorf("router: invalid route declarations: %w", err)
	}

	var out []compiled
	seen := make(map[string]string)

	for _, ctrl := range reg.Controllers() {
		for _, route := range ctrl.Routes {
			path := FullPath(ctrl.BasePath, route.SubPath)
			key := route.Method + " " + path
			if other, dup := seen[key]; dup {
				return fmt.Errorf("router: %w: %s (%s and %s.%s)", registry.ErrDuplicateRoute, key, other, ctrl.Name, route.Name)
			}
			seen[key] = ctrl.Name + "." + route.Name

			chain, err := r.chain(route)
			if err != nil {
				return fmt.Errorf("router: %s.%s: %w", ctrl.Name, route.Name, err)
			}

			desc := Descriptor{
				Method:     route.Method,
				Path:       path,
				Controller: ctrl.Name,
				Handler:    route.Name,
				Anonymous:  route.Anonymous,
				Middleware: len(chain),
			}
			if route.Requirement != nil {
				desc.Requirement = route.Requirement.String()
			}

			out = append(out, compiled{
				desc:    desc,
				chain:   append([]registry.Middleware{r.recoverer(desc)}, chain...),
				handler: r.dispatcher(desc, route),
			})
		}
	}

	for _, c := range out {
		r.transport.Handle(c.desc.Method, c.desc.Path, c.chain, c.handler)
		r.routes = append(r.routes, c.desc)
		r.logger.Debug("route registered",
			zap.String("method", c.desc.Method),
			zap.String("path", c.desc.Path),
			zap.Bool("anonymous", c.desc.Anonymous),
		)
	}
	r.mounted = true

	r.logger.Info("routes mounted", zap.Int("count", len(r.routes)))
	return nil
}

// Routes returns the mounted route table
func (r *Router) Routes() []Descriptor {
	return append([]Descriptor(nil), r.routes...)
}

func (r *Router) chain(route registry.Route) ([]registry.Middleware, error) {
	var chain []registry.Middleware
	if !route.Anonymous {
		if r.guards.Authenticate == nil {
			return nil, errors.New("authenticated route without an authentication guard")
		}
		chain = append(chain, r.guards.Authenticate)

		if route.Requirement != nil {
			if r.guards.Authorize == nil {
				return nil, errors.New("guarded route without an authorization guard")
			}
			chain = append(chain, r.guards.Authorize(*route.Requirement))
		}
	}
	return append(chain, route.Middleware...), nil
}

// recoverer is the outermost layer of every route. A panic in the guards,
// the declared middleware, the binder or the handler becomes an internal
// error on the shared writer unless a response has already started.
func (r *Router) recoverer(desc Descriptor) registry.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				r.logger.Error("route panicked",
					zap.String("handler", desc.Controller+"."+desc.Handler),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				if ww.Status() == 0 {
					r.errors.WriteError(ww, req, services.NewInternalError("Internal server error", fmt.Errorf("panic: %v", rec)))
				}
			}()

			next.ServeHTTP(ww, req)
		})
	}
}

// FullPath joins a base and sub path with exactly one leading slash
func FullPath(base, sub string) string {
	p := registry.NormalizeSubPath(base) + registry.NormalizeSubPath(sub)
	if p == "" {
		return "/"
	}
	return p
}

func (r *Router) dispatcher(desc Descriptor, route registry.Route) http.Handler {
	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	b := &binder{bindings: route.Bindings, transport: r.transport}

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

		args, err := b.bind(ww, req)
		if err != nil {
			r.errors.WriteError(ww, req, err)
			return
		}

		result, err := route.Handler(&registry.Call{Request: req, Writer: ww, Args: args})
		if err != nil {
			if ww.Status() != 0 {
				r.logger.Warn("handler failed after writing a response",
					zap.String("handler", desc.Controller+"."+desc.Handler),
					zap.Error(err),
				)
				return
			}
			r.errors.WriteError(ww, req, err)
			return
		}

		if ww.Status() != 0 {
			return
		}
		r.writeResult(ww, req, status, route.Message, result)
	})
}

func (r *Router) writeResult(w http.ResponseWriter, req *http.Request, status int, message string, result any) {
	if resp, ok := result.(registry.Response); ok {
		if resp.Status != 0 {
			status = resp.Status
		}
		if resp.Message != "" {
			message = resp.Message
		}
		result = resp.Data
	}
	if message == "" {
		message = http.StatusText(status)
	}

	body, err := utils.Marshal(utils.SuccessResponse{Message: message, Data: result})
	if err != nil {
		r.errors.WriteError(w, req, services.NewInternalError("Failed to encode response", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(body, '\n')); err != nil {
		r.logger.Debug("failed to write response body", zap.Error(err))
	}
}
