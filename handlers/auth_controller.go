package handlers

import (
	"net/http"

	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/middleware"
	"github.com/upb/authz-gateway/services"
	"github.com/upb/authz-gateway/services/auth"
	"go.uber.org/zap"
)

// AuthController serves registration and the session lifecycle
type AuthController struct {
	auth    *auth.Service
	limiter registry.Middleware
	logger  *zap.Logger
}

// NewAuthController creates a new AuthController. limiter guards register
// and login; nil disables rate limiting.
func NewAuthController(svc *auth.Service, limiter registry.Middleware, logger *zap.Logger) *AuthController {
	return &AuthController{auth: svc, limiter: limiter, logger: logger}
}

// Declare registers the /auth routes
func (h *AuthController) Declare(b *registry.Builder) {
	c := b.Controller("auth", "/auth")

	register := c.Post("/register", "register", h.register).
		Anonymous().
		Body(0, func() any { return new(auth.RegisterInput) }).
		Status(http.StatusCreated).
		Message("User registered")

	login := c.Post("/login", "login", h.login).
		Anonymous().
		Body(0, func() any { return new(auth.LoginInput) }).
		Message("Login successful")

	if h.limiter != nil {
		register.Use(h.limiter)
		login.Use(h.limiter)
	}

	c.Post("/refresh", "refresh", h.refresh).
		Anonymous().
		Body(0, func() any { return new(auth.RefreshInput) }).
		Message("Token refreshed")

	c.Post("/logout", "logout", h.logout).
		Message("Logged out")
}

func (h *AuthController) register(c *registry.Call) (any, error) {
	in, _ := registry.Arg[*auth.RegisterInput](c, 0)
	user, err := h.auth.Register(c.Context(), *in)
	if err != nil {
		return nil, err
	}
	return user.Profile(), nil
}

func (h *AuthController) login(c *registry.Call) (any, error) {
	in, _ := registry.Arg[*auth.LoginInput](c, 0)
	return h.auth.Login(c.Context(), *in)
}

func (h *AuthController) refresh(c *registry.Call) (any, error) {
	in, _ := registry.Arg[*auth.RefreshInput](c, 0)
	return h.auth.Refresh(c.Context(), *in)
}

func (h *AuthController) logout(c *registry.Call) (any, error) {
	p, ok := middleware.PrincipalFromContext(c.Context())
	if !ok {
		return nil, services.NewUnauthorizedError("")
	}
	if err := h.auth.Logout(c.Context(), p.SubjectID, p.Token, p.ExpiresAt); err != nil {
		return nil, err
	}
	return nil, nil
}
