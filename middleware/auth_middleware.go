package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/observability"
	"github.com/upb/authz-gateway/internal/rbac"
	"github.com/upb/authz-gateway/internal/token"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"github.com/upb/authz-gateway/services"
	"go.uber.org/zap"
)

// AccessVerifier verifies access tokens
type AccessVerifier interface {
	VerifyAccess(raw string) (*token.Claims, error)
}

// RevocationChecker reports denylisted access tokens
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) bool
}

// UserLookup loads the user behind a verified token
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Authorizer evaluates permission requirements for a subject
type Authorizer interface {
	IsSuperAdmin(ctx context.Context, subject rbac.Subject) (bool, error)
	Check(ctx context.Context, subject rbac.Subject, req rbac.Requirement) (bool, error)
}

// ErrorWriter renders a failure as the error envelope
type ErrorWriter interface {
	WriteError(w http.ResponseWriter, r *http.Request, err error)
}

// AuthMiddleware provides the authentication and authorization middleware
type AuthMiddleware struct {
	verifier AccessVerifier
	denylist RevocationChecker
	users    UserLookup
	authz    Authorizer
	errors   ErrorWriter
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(
	verifier AccessVerifier,
	denylist RevocationChecker,
	users UserLookup,
	authz Authorizer,
	errs ErrorWriter,
	logger *zap.Logger,
) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		denylist: denylist,
		users:    users,
		authz:    authz,
		errors:   errs,
		logger:   logger,
	}
}

// RequireAuth rejects requests without a valid, unrevoked access token for
// an existing user, and stores the Principal in the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		fields := observability.RequestFields(ctx)

		raw := extractBearerToken(r)
		if raw == "" {
			m.logger.Debug("missing token", fields...)
			m.errors.WriteError(w, r, services.NewUnauthorizedError("No token provided"))
			return
		}

		claims, err := m.verifier.VerifyAccess(raw)
		if err != nil {
			m.logger.Debug("token validation failed", append(fields, zap.Error(err))...)
			m.errors.WriteError(w, r, services.NewUnauthorizedError("Invalid or expired token"))
			return
		}

		if m.denylist.IsRevoked(ctx, raw) {
			m.logger.Info("revoked token presented", append(fields, zap.String("user_id", claims.UserID))...)
			m.errors.WriteError(w, r, services.NewUnauthorizedError("Token has been revoked"))
			return
		}

		subjectID, err := claims.SubjectID()
		if err != nil {
			m.errors.WriteError(w, r, services.NewUnauthorizedError("Invalid or expired token"))
			return
		}

		user, err := m.users.GetByID(ctx, subjectID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				m.errors.WriteError(w, r, services.NewUnauthorizedError("User does not exist"))
				return
			}
			m.errors.WriteError(w, r, services.WrapDatabase("failed to load user", err))
			return
		}

		principal := &Principal{
			SubjectID: user.ID,
			Email:     user.Email,
			Token:     raw,
			ExpiresAt: claims.ExpiresAtTime(),
		}

		superAdmin, err := m.authz.IsSuperAdmin(ctx, principal.Subject())
		if err != nil {
			m.errors.WriteError(w, r, services.WrapInternal("failed to resolve roles", err))
			return
		}
		principal.IsSuperAdmin = user.IsSuperAdmin || superAdmin

		m.logger.Debug("authentication successful",
			append(fields,
				zap.String("user_id", user.ID.String()),
				zap.Bool("super_admin", principal.IsSuperAdmin),
			)...)

		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
	})
}

// RequirePermission checks req against the authenticated principal.
// It must run after RequireAuth.
func (m *AuthMiddleware) RequirePermission(req rbac.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			fields := observability.RequestFields(ctx)

			principal, ok := PrincipalFromContext(ctx)
			if !ok {
				m.logger.Error("principal not found in context", fields...)
				m.errors.WriteError(w, r, services.NewUnauthorizedError("Authentication required"))
				return
			}

			allowed := principal.IsSuperAdmin
			if !allowed {
				var err error
				allowed, err = m.authz.Check(ctx, principal.Subject(), req)
				if err != nil {
					m.errors.WriteError(w, r, services.WrapInternal("failed to evaluate permissions", err))
					return
				}
			}
			observability.RecordDecision(allowed)

			if !allowed {
				m.logger.Info("permission denied",
					append(fields,
						zap.String("user_id", principal.SubjectID.String()),
						zap.String("required", req.String()),
					)...)
				m.errors.WriteError(w, r,
					services.NewForbiddenError("Missing required permission: "+req.String()).
						WithDetail("required", req.Names()))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits requests per client IP; rejected requests get the
// 429 error envelope.
func RateLimit(requests int, window time.Duration, errs ErrorWriter) func(http.Handler) http.Handler {
	return httprate.Limit(requests, window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			errs.WriteError(w, r, services.NewDomainError(services.ErrorTypeRateLimit, "Too many requests, please try again later", nil))
		}),
	)
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
