package token

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRefreshRejected is returned when a refresh token is not the subject's live one
var ErrRefreshRejected = errors.New("refresh token is not valid for this subject")

// Service is the token lifecycle used by authentication and the auth endpoints
type Service struct {
	issuer *Issuer
	store  *RefreshStore
	locks  *subjectLocks
	logger *zap.Logger
}

// NewService creates a new token service
func NewService(issuer *Issuer, store *RefreshStore, logger *zap.Logger) *Service {
	return &Service{
		issuer: issuer,
		store:  store,
		locks:  newSubjectLocks(),
		logger: logger,
	}
}

// IssuePair signs a new pair without touching storage
func (s *Service) IssuePair(subjectID uuid.UUID, email string) (Pair, error) {
	return s.issuer.IssuePair(subjectID, email)
}

// VerifyAccess checks an access token; storage is not consulted
func (s *Service) VerifyAccess(raw string) (*Claims, error) {
	return s.issuer.VerifyAccess(raw)
}

// VerifyRefresh checks a refresh token; storage is not consulted
func (s *Service) VerifyRefresh(raw string) (*Claims, error) {
	return s.issuer.VerifyRefresh(raw)
}

// StoreRefresh makes token the subject's only live refresh token
func (s *Service) StoreRefresh(ctx context.Context, subjectID uuid.UUID, token string) error {
	_, err := s.store.Store(ctx, subjectID, token)
	return err
}

// ValidateRefresh reports whether token is the subject's live refresh token.
// It holds the subject's lock because validation may repair the cache entry.
func (s *Service) ValidateRefresh(ctx context.Context, subjectID uuid.UUID, token string) (bool, error) {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	ok, _, err := s.store.Validate(ctx, subjectID, token)
	return ok, err
}

// RevokeRefresh drops the subject's refresh token
func (s *Service) RevokeRefresh(ctx context.Context, subjectID uuid.UUID) error {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	_, err := s.store.Revoke(ctx, subjectID)
	return err
}

// Issue signs a pair and stores its refresh token, replacing any previous one
func (s *Service) Issue(ctx context.Context, subjectID uuid.UUID, email string) (Pair, error) {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	return s.issueLocked(ctx, subjectID, email)
}

// Rotate exchanges the subject's live refresh token for a new pair.
// Concurrent rotations of one subject are serialized, so only the first
// caller presenting a given token succeeds.
func (s *Service) Rotate(ctx context.Context, subjectID uuid.UUID, email, presented string) (Pair, error) {
	unlock := s.locks.lock(subjectID)
	defer unlock()

	valid, _, err := s.store.Validate(ctx, subjectID, presented)
	if err != nil {
		return Pair{}, err
	}
	if !valid {
		return Pair{}, ErrRefreshRejected
	}

	return s.issueLocked(ctx, subjectID, email)
}

func (s *Service) issueLocked(ctx context.Context, subjectID uuid.UUID, email string) (Pair, error) {
	pair, err := s.issuer.IssuePair(subjectID, email)
	if err != nil {
		return Pair{}, err
	}
	if err := s.StoreRefresh(ctx, subjectID, pair.RefreshToken); err != nil {
		return Pair{}, err
	}
	return pair, nil
}

// RunPurge deletes expired durable refresh tokens every interval until ctx ends
func (s *Service) RunPurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn("failed to purge expired refresh tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired refresh tokens", zap.Int64("count", n))
			}
		}
	}
}

// subjectLocks hands out one mutex per subject and forgets it once unused
type subjectLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*subjectLock
}

type subjectLock struct {
	sync.Mutex
	refs int
}

func newSubjectLocks() *subjectLocks {
	return &subjectLocks{locks: make(map[uuid.UUID]*subjectLock)}
}

func (l *subjectLocks) lock(id uuid.UUID) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &subjectLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
