package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for tokens with a bad signature, a bad shape or a past expiry
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload carried by both token kinds
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// SubjectID parses the subject carried by the token
func (c *Claims) SubjectID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed subject", ErrInvalidToken)
	}
	return id, nil
}

// ExpiresAtTime returns the expiry, or the zero time when absent
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Pair is an access token with its matching refresh token
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// IssuerConfig holds signing material and lifetimes for both token kinds
type IssuerConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Issuer signs and verifies HS256 tokens
type Issuer struct {
	cfg IssuerConfig
	now func() time.Time
}

// NewIssuer validates cfg and returns an issuer
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token: access and refresh secrets are required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: ttls must be positive")
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// RefreshTTL returns the configured refresh lifetime
func (i *Issuer) RefreshTTL() time.Duration {
	return i.cfg.RefreshTTL
}

// IssuePair signs a new access and refresh token for the subject.
// Every token carries a random jti, so two pairs never collide.
func (i *Issuer) IssuePair(subjectID uuid.UUID, email string) (Pair, error) {
	access, err := i.sign(subjectID, email, i.cfg.AccessSecret, i.cfg.AccessTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	refresh, err := i.sign(subjectID, email, i.cfg.RefreshSecret, i.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks signature and expiry of an access token
func (i *Issuer) VerifyAccess(raw string) (*Claims, error) {
	return i.verify(raw, i.cfg.AccessSecret)
}

// VerifyRefresh checks signature and expiry of a refresh token
func (i *Issuer) VerifyRefresh(raw string) (*Claims, error) {
	return i.verify(raw, i.cfg.RefreshSecret)
}

func (i *Issuer) sign(subjectID uuid.UUID, email string, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: subjectID.String(),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subjectID.String(),
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (i *Issuer) verify(raw string, secret []byte) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.NewParser(options...).ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.SubjectID(); err != nil {
		return nil, err
	}
	return claims, nil
}
