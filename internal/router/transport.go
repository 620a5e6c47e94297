package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/authz-gateway/internal/registry"
)

// Transport is the registration surface the router mounts onto
type Transport interface {
	Handle(method, path string, middleware []registry.Middleware, final http.Handler)
	PathParam(r *http.Request, name string) string
	PathParams(r *http.Request) map[string]string
}

// ChiTransport registers routes on a chi router
type ChiTransport struct {
	mux chi.Router
}

// NewChiTransport wraps mux
func NewChiTransport(mux chi.Router) *ChiTransport {
	return &ChiTransport{mux: mux}
}

// Handle registers final behind middleware, outermost first
func (t *ChiTransport) Handle(method, path string, middleware []registry.Middleware, final http.Handler) {
	t.mux.With(middleware...).Method(method, path, final)
}

// PathParam returns a named URL parameter
func (t *ChiTransport) PathParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// PathParams returns every URL parameter of the matched route
func (t *ChiTransport) PathParams(r *http.Request) map[string]string {
	out := make(map[string]string)
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return out
	}
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		out[key] = rctx.URLParams.Values[i]
	}
	return out
}
