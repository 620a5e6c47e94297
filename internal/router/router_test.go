package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authz-gateway/internal/rbac"
	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/services"
	"github.com/upb/authz-gateway/utils"
	"go.uber.org/zap"
)

// recordingErrors writes a minimal envelope and remembers the last error
type recordingErrors struct {
	mu   sync.Mutex
	last error
}

func (e *recordingErrors) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e.mu.Lock()
	e.last = err
	e.mu.Unlock()

	status, code := http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"
	if de, ok := services.AsDomainError(err); ok {
		status, code = de.Status(), de.Code()
	} else if utils.IsValidationError(err) {
		status, code = http.StatusBadRequest, "VALIDATION_ERROR"
	}
	_ = utils.WriteError(w, r, status, code, err.Error(), nil)
}

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(s string) {
	t.mu.Lock()
	t.steps = append(t.steps, s)
	t.mu.Unlock()
}

func (t *trace) mw(name string) registry.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.add(name)
			next.ServeHTTP(w, r)
		})
	}
}

func testGuards(tr *trace) Guards {
	return Guards{
		Authenticate: func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tr.add("authn")
				if r.Header.Get("Authorization") == "" {
					_ = utils.WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "No token provided", nil)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		Authorize: func(req rbac.Requirement) registry.Middleware {
			return tr.mw("authz:" + req.String())
		},
	}
}

type declareFunc func(b *registry.Builder)

func (f declareFunc) Declare(b *registry.Builder) { f(b) }

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func newTestRouter(t *testing.T, controllers ...Declarer) (*chi.Mux, *Router, *trace, *recordingErrors) {
	t.Helper()
	mux := chi.NewRouter()
	tr := &trace{}
	errs := &recordingErrors{}
	r := New(NewChiTransport(mux), testGuards(tr), errs, zap.NewNop())
	require.NoError(t, r.Mount(controllers...))
	return mux, r, tr, errs
}

func do(mux http.Handler, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRouter_ChainOrderAndEnvelope(t *testing.T) {
	tr := &trace{}
	ctrl := declareFunc(func(b *registry.Builder) {
		c := b.Controller("docs", "docs")
		c.Get("/{id}", "get", func(call *registry.Call) (any, error) {
			tr.add("handler")
			id, _ := registry.Arg[string](call, 0)
			return map[string]string{"id": id}, nil
		}).Path(0, "id").Require(rbac.Require("doc", "read")).Use(tr.mw("declared"))
	})

	mux := chi.NewRouter()
	r := New(NewChiTransport(mux), testGuards(tr), &recordingErrors{}, zap.NewNop())
	require.NoError(t, r.Mount(ctrl))

	w := do(mux, http.MethodGet, "/docs/42", "", map[string]string{"Authorization": "Bearer x"})
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "OK", body["message"])
	assert.Equal(t, "42", body["data"].(map[string]any)["id"])
	assert.Equal(t, []string{"authn", "authz:doc:read", "declared", "handler"}, tr.steps)

	routes := r.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "/docs/{id}", routes[0].Path)
	assert.Equal(t, "doc:read", routes[0].Requirement)
	assert.Equal(t, 3, routes[0].Middleware)
}

func TestRouter_AnonymousSkipsGuards(t *testing.T) {
	ctrl := declareFunc(func(b *registry.Builder) {
		b.Controller("auth", "/auth").Post("/login", "login", func(call *registry.Call) (any, error) {
			body, ok := registry.Arg[*loginBody](call, 0)
			if !ok {
				return nil, errors.New("unbound body")
			}
			return registry.Respond(http.StatusCreated, "Logged in", body.Email), nil
		}).Anonymous().Body(0, func() any { return &loginBody{} })
	})
	mux, _, tr, _ := newTestRouter(t, ctrl)

	w := do(mux, http.MethodPost, "/auth/login", `{"email":"a@example.com","password":"p"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Logged in", body["message"])
	assert.Equal(t, "a@example.com", body["data"])
	assert.Empty(t, tr.steps)
}

func TestRouter_AuthenticationRunsBeforeHandler(t *testing.T) {
	called := false
	ctrl := declareFunc(func(b *registry.Builder) {
		b.Controller("profile", "/profile").Get("", "me", func(*registry.Call) (any, error) {
			called = true
			return nil, nil
		})
	})
	mux, _, _, _ := newTestRouter(t, ctrl)

	w := do(mux, http.MethodGet, "/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestRouter_Binding(t *testing.T) {
	var got []any
	ctrl := declareFunc(func(b *registry.Builder) {
		c := b.Controller("bind", "/bind")
		c.Post("/{a}/{b}", "all", func(call *registry.Call) (any, error) {
			got = call.Args
			return nil, nil
		}).Anonymous().
			Path(3, "").
			Path(4, "a").
			Query(5, "q").
			Header(6, "X-Trace").
			Cookie(7, "session").
			BodyField(8, "name").
			Cookie(9, "missing")
	})
	mux, _, _, _ := newTestRouter(t, ctrl)

	req := httptest.NewRequest(http.MethodPost, "/bind/x/y?q=search", strings.NewReader(`{"name":"n","n":1}`))
	req.Header.Set("X-Trace", "abc")
	req.AddCookie(&http.Cookie{Name: "session", Value: "s1"})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, got, 10)

	_, isReq := got[0].(*http.Request)
	assert.True(t, isReq, "position 0 defaults to the request")
	_, isWriter := got[1].(http.ResponseWriter)
	assert.True(t, isWriter, "position 1 defaults to the writer")
	_, isCtx := got[2].(context.Context)
	assert.True(t, isCtx, "position 2 defaults to the context")

	assert.Equal(t, map[string]string{"a": "x", "b": "y"}, got[3])
	assert.Equal(t, "x", got[4])
	assert.Equal(t, "search", got[5])
	assert.Equal(t, "abc", got[6])
	assert.Equal(t, "s1", got[7])
	assert.Equal(t, "n", got[8])
	assert.Equal(t, "", got[9])
}

func TestRouter_Failures(t *testing.T) {
	ctrl := declareFunc(func(b *registry.Builder) {
		c := b.Controller("f", "/f")
		c.Get("/error", "error", func(*registry.Call) (any, error) {
			return nil, services.NewNotFoundError("Role not found")
		}).Anonymous()
		c.Get("/panic", "panic", func(*registry.Call) (any, error) {
			panic("boom")
		}).Anonymous()
		c.Get("/written", "written", func(call *registry.Call) (any, error) {
			call.Writer.WriteHeader(http.StatusAccepted)
			return "ignored", errors.New("late failure")
		}).Anonymous()
		c.Post("/json", "json", func(*registry.Call) (any, error) {
			return nil, nil
		}).Anonymous().Body(0, func() any { return &loginBody{} })
		c.Get("/unencodable", "unencodable", func(*registry.Call) (any, error) {
			return make(chan int), nil
		}).Anonymous()
	})
	mux, _, _, errs := newTestRouter(t, ctrl)

	t.Run("handler error", func(t *testing.T) {
		w := do(mux, http.MethodGet, "/f/error", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.True(t, services.IsNotFoundError(errs.last))
	})

	t.Run("panic becomes 500", func(t *testing.T) {
		w := do(mux, http.MethodGet, "/f/panic", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.True(t, services.IsInternalError(errs.last))
	})

	t.Run("already written response is kept", func(t *testing.T) {
		w := do(mux, http.MethodGet, "/f/written", "", nil)
		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("malformed body", func(t *testing.T) {
		w := do(mux, http.MethodPost, "/f/json", `{"email":`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_JSON", decode(t, w)["error"].(map[string]any)["code"])
	})

	t.Run("empty body", func(t *testing.T) {
		w := do(mux, http.MethodPost, "/f/json", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		w := do(mux, http.MethodPost, "/f/json", `{"email":"nope"}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.True(t, utils.IsValidationError(errs.last))
	})

	t.Run("unencodable result", func(t *testing.T) {
		w := do(mux, http.MethodGet, "/f/unencodable", "", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRouter_MiddlewarePanicUsesErrorWriter(t *testing.T) {
	exploding := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("middleware exploded")
		})
	}
	ctrl := declareFunc(func(b *registry.Builder) {
		c := b.Controller("m", "/m")
		c.Get("/declared", "declared", func(*registry.Call) (any, error) {
			return "unreachable", nil
		}).Anonymous().Use(exploding)
		c.Get("/guarded", "guarded", func(*registry.Call) (any, error) {
			return "unreachable", nil
		})
	})

	mux := chi.NewRouter()
	errs := &recordingErrors{}
	guards := Guards{
		Authenticate: exploding,
		Authorize:    func(rbac.Requirement) registry.Middleware { return exploding },
	}
	require.NoError(t, New(NewChiTransport(mux), guards, errs, zap.NewNop()).Mount(ctrl))

	for _, path := range []string{"/m/declared", "/m/guarded"} {
		t.Run(path, func(t *testing.T) {
			w := do(mux, http.MethodGet, path, "", nil)

			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			body := decode(t, w)["error"].(map[string]any)
			assert.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
			assert.True(t, services.IsInternalError(errs.last))
		})
	}
}

func TestRouter_MountErrors(t *testing.T) {
	t.Run("duplicate full path across controllers", func(t *testing.T) {
		a := declareFunc(func(b *registry.Builder) {
			b.Controller("a", "/x").Get("/y", "get", func(*registry.Call) (any, error) { return nil, nil })
		})
		c := declareFunc(func(b *registry.Builder) {
			b.Controller("c", "/x/y").Get("", "get", func(*registry.Call) (any, error) { return nil, nil })
		})
		r := New(NewChiTransport(chi.NewRouter()), testGuards(&trace{}), &recordingErrors{}, zap.NewNop())
		err := r.Mount(a, c)
		require.Error(t, err)
		assert.ErrorIs(t, err, registry.ErrDuplicateRoute)
		assert.Empty(t, r.Routes())
	})

	t.Run("mount twice", func(t *testing.T) {
		r := New(NewChiTransport(chi.NewRouter()), testGuards(&trace{}), &recordingErrors{}, zap.NewNop())
		require.NoError(t, r.Mount())
		assert.Error(t, r.Mount())
	})

	t.Run("protected route without guards", func(t *testing.T) {
		ctrl := declareFunc(func(b *registry.Builder) {
			b.Controller("p", "/p").Get("", "get", func(*registry.Call) (any, error) { return nil, nil })
		})
		r := New(NewChiTransport(chi.NewRouter()), Guards{}, &recordingErrors{}, zap.NewNop())
		assert.Error(t, r.Mount(ctrl))
	})
}

func TestFullPath(t *testing.T) {
	assert.Equal(t, "/", FullPath("", ""))
	assert.Equal(t, "/auth/login", FullPath("/auth/", "/login"))
	assert.Equal(t, "/roles", FullPath("roles", ""))
}
