package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/authz-gateway/internal/cache"
	"github.com/upb/authz-gateway/internal/observability"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"go.uber.org/zap"
)

const refreshKeyPrefix = "refresh:token:"

// Outcome names the storage path that served a refresh store operation
type Outcome string

const (
	OutcomeCache           Outcome = observability.PathCache
	OutcomeDurable         Outcome = observability.PathDurable
	OutcomeCacheAndDurable Outcome = observability.PathCacheAndDurable
)

// RefreshStore is the cache-first, durable-backed home of refresh tokens.
// The durable record is authoritative. Subjects whose cache entry could not
// be replaced or removed are marked unsynced and validated against the
// durable store until a later cache write succeeds.
type RefreshStore struct {
	cache   cache.Cache
	durable repositories.RefreshTokenRepository
	ttl     time.Duration
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	unsynced map[uuid.UUID]struct{}
}

// NewRefreshStore creates a store whose entries live for ttl
func NewRefreshStore(c cache.Cache, durable repositories.RefreshTokenRepository, ttl time.Duration, logger *zap.Logger) *RefreshStore {
	return &RefreshStore{
		cache:    c,
		durable:  durable,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		unsynced: make(map[uuid.UUID]struct{}),
	}
}

func refreshKey(subjectID uuid.UUID) string {
	return refreshKeyPrefix + subjectID.String()
}

func (s *RefreshStore) markUnsynced(subjectID uuid.UUID) {
	s.mu.Lock()
	s.unsynced[subjectID] = struct{}{}
	s.mu.Unlock()
}

func (s *RefreshStore) markSynced(subjectID uuid.UUID) {
	s.mu.Lock()
	delete(s.unsynced, subjectID)
	s.mu.Unlock()
}

func (s *RefreshStore) isUnsynced(subjectID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unsynced[subjectID]
	return ok
}

// Store replaces the subject's refresh token. The durable record is written
// first; a cache failure afterwards is reported only through the outcome.
func (s *RefreshStore) Store(ctx context.Context, subjectID uuid.UUID, token string) (Outcome, error) {
	record := models.NewRefreshToken(subjectID, token, s.now().Add(s.ttl))
	if err := s.durable.Replace(ctx, record); err != nil {
		return OutcomeDurable, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	outcome := OutcomeCacheAndDurable
	if !s.syncCache(ctx, subjectID, token) {
		outcome = OutcomeDurable
	}

	observability.RecordTokenStore("store", string(outcome))
	return outcome, nil
}

// syncCache copies token into the cache. When the write fails the old entry
// is dropped, and if that fails too the subject is marked unsynced.
func (s *RefreshStore) syncCache(ctx context.Context, subjectID uuid.UUID, token string) bool {
	err := s.cache.Set(ctx, refreshKey(subjectID), []byte(token), s.ttl)
	if err == nil {
		s.markSynced(subjectID)
		return true
	}
	s.logger.Warn("refresh token cache write failed, storing durably only",
		zap.String("user_id", subjectID.String()),
		zap.Error(err),
	)

	if err := s.cache.Delete(ctx, refreshKey(subjectID)); err != nil {
		s.logger.Warn("refresh token cache entry may be stale",
			zap.String("user_id", subjectID.String()),
			zap.Error(err),
		)
	}
	// a successful delete can race with a recovering cache, so the subject
	// stays on the durable path until a write lands
	s.markUnsynced(subjectID)
	return false
}

// Validate reports whether token is the subject's live refresh token.
// A cache hit that disagrees with token is confirmed against the durable
// store before the token is rejected, and the cache is repaired when the
// durable record wins. Callers serialize Validate per subject with Store.
func (s *RefreshStore) Validate(ctx context.Context, subjectID uuid.UUID, token string) (bool, Outcome, error) {
	repair := s.isUnsynced(subjectID)
	if !repair {
		stored, err := s.cache.Get(ctx, refreshKey(subjectID))
		switch {
		case err == nil && string(stored) == token:
			observability.RecordTokenStore("validate", string(OutcomeCache))
			return true, OutcomeCache, nil
		case err == nil:
			repair = true
		case errors.Is(err, cache.ErrMiss):
		default:
			s.logger.Warn("refresh token cache read failed, using durable store",
				zap.String("user_id", subjectID.String()),
				zap.Error(err),
			)
		}
	}

	observability.RecordTokenStore("validate", string(OutcomeDurable))
	ok, err := s.validateDurable(ctx, subjectID, token)
	if err != nil || !ok {
		return false, OutcomeDurable, err
	}

	if repair {
		s.syncCache(ctx, subjectID, token)
	}
	return true, OutcomeDurable, nil
}

func (s *RefreshStore) validateDurable(ctx context.Context, subjectID uuid.UUID, token string) (bool, error) {
	record, err := s.durable.FindByUserAndToken(ctx, subjectID, token)
	if errors.Is(err, repositories.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read refresh token: %w", err)
	}

	if record.IsExpired(s.now()) {
		if err := s.durable.DeleteByUser(ctx, subjectID); err != nil {
			s.logger.Warn("failed to remove expired refresh token",
				zap.String("user_id", subjectID.String()),
				zap.Error(err),
			)
		}
		return false, nil
	}
	return true, nil
}

// Revoke removes the subject's refresh token from both stores
func (s *RefreshStore) Revoke(ctx context.Context, subjectID uuid.UUID) (Outcome, error) {
	if err := s.durable.DeleteByUser(ctx, subjectID); err != nil {
		return OutcomeDurable, fmt.Errorf("failed to delete refresh token: %w", err)
	}

	outcome := OutcomeCacheAndDurable
	if err := s.cache.Delete(ctx, refreshKey(subjectID)); err != nil {
		s.logger.Warn("refresh token cache delete failed",
			zap.String("user_id", subjectID.String()),
			zap.Error(err),
		)
		s.markUnsynced(subjectID)
		outcome = OutcomeDurable
	}

	observability.RecordTokenStore("revoke", string(outcome))
	return outcome, nil
}

// PurgeExpired drops durable records past their expiry
func (s *RefreshStore) PurgeExpired(ctx context.Context) (int64, error) {
	return s.durable.DeleteExpired(ctx, s.now())
}
