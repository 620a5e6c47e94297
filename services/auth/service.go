// Package auth implements account registration and the session lifecycle:
// login, refresh-token rotation and logout.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/password"
	"github.com/upb/authz-gateway/internal/token"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"github.com/upb/authz-gateway/services"
	"go.uber.org/zap"
)

// Tokens is the token lifecycle the service drives
type Tokens interface {
	Issue(ctx context.Context, subjectID uuid.UUID, email string) (token.Pair, error)
	Rotate(ctx context.Context, subjectID uuid.UUID, email, presented string) (token.Pair, error)
	VerifyRefresh(raw string) (*token.Claims, error)
	RevokeRefresh(ctx context.Context, subjectID uuid.UUID) error
}

// Revoker denylists access tokens until they expire
type Revoker interface {
	Revoke(ctx context.Context, token string, expiresAt time.Time)
}

// Hasher hashes and checks passwords
type Hasher interface {
	Hash(plain string) (string, error)
	Compare(hash, plain string) error
}

// RegisterInput is the body of a registration request
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=1"`
}

// LoginInput is the body of a login request
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshInput is the body of a refresh request
type RefreshInput struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// Session is returned by a successful login
type Session struct {
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
	User         models.Profile `json:"user"`
}

// Service handles account and session operations
type Service struct {
	users    repositories.UserRepository
	tokens   Tokens
	denylist Revoker
	hasher   Hasher
	logger   *zap.Logger
}

// NewService creates a new auth service
func NewService(users repositories.UserRepository, tokens Tokens, denylist Revoker, hasher Hasher, logger *zap.Logger) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		denylist: denylist,
		hasher:   hasher,
		logger:   logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account with a hashed password
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, services.WrapInternal("failed to hash password", err)
	}

	user := models.NewUser(normalizeEmail(in.Email), hash)
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.NewConflictError("Email already registered")
		}
		return nil, services.WrapDatabase("failed to create user", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

// Login checks credentials and starts a session. Any previous refresh
// token of the user stops being valid.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.NewUnauthorizedError("Invalid email or password")
		}
		return nil, services.WrapDatabase("failed to load user", err)
	}

	if err := s.hasher.Compare(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, services.NewUnauthorizedError("Invalid email or password")
		}
		return nil, services.WrapInternal("failed to verify password", err)
	}

	pair, err := s.tokens.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return nil, services.WrapInternal("failed to issue tokens", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID.String()))
	return &Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         user.Profile(),
	}, nil
}

// Refresh exchanges the user's live refresh token for a new pair
func (s *Service) Refresh(ctx context.Context, in RefreshInput) (token.Pair, error) {
	claims, err := s.tokens.VerifyRefresh(in.RefreshToken)
	if err != nil {
		return token.Pair{}, services.NewUnauthorizedError("Invalid refresh token")
	}
	subjectID, err := claims.SubjectID()
	if err != nil {
		return token.Pair{}, services.NewUnauthorizedError("Invalid refresh token")
	}

	user, err := s.users.GetByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return token.Pair{}, services.NewUnauthorizedError("User does not exist")
		}
		return token.Pair{}, services.WrapDatabase("failed to load user", err)
	}

	pair, err := s.tokens.Rotate(ctx, user.ID, user.Email, in.RefreshToken)
	if err != nil {
		if errors.Is(err, token.ErrRefreshRejected) {
			return token.Pair{}, services.NewUnauthorizedError("Invalid refresh token")
		}
		return token.Pair{}, services.WrapInternal("failed to rotate tokens", err)
	}
	return pair, nil
}

// Logout denylists the presented access token until its expiry and
// revokes the user's refresh token
func (s *Service) Logout(ctx context.Context, subjectID uuid.UUID, accessToken string, expiresAt time.Time) error {
	s.denylist.Revoke(ctx, accessToken, expiresAt)

	if err := s.tokens.RevokeRefresh(ctx, subjectID); err != nil {
		return services.WrapInternal("failed to revoke refresh token", err)
	}

	s.logger.Info("user logged out", zap.String("user_id", subjectID.String()))
	return nil
}
