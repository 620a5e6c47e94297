// Package denylist tracks access tokens revoked before their natural expiry.
//
// Every revocation is written to the cache with the token's remaining
// lifetime and to an in-process fallback. The fallback is a map plus a
// min-heap ordered by expiry, so a sweep touches only expired entries.
package denylist

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/upb/authz-gateway/internal/cache"
	"github.com/upb/authz-gateway/internal/observability"
	"go.uber.org/zap"
)

const keyPrefix = "denylist:"

// Denylist is safe for concurrent use
type Denylist struct {
	cache  cache.Cache
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
	index   expiryHeap
}

// New creates a denylist over c
func New(c cache.Cache, logger *zap.Logger) *Denylist {
	return &Denylist{
		cache:   c,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Key derives the storage key for a raw token
func Key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Revoke denies token until expiresAt. Tokens already expired are ignored.
func (d *Denylist) Revoke(ctx context.Context, token string, expiresAt time.Time) {
	now := d.now()
	if !expiresAt.After(now) {
		return
	}
	key := Key(token)

	if err := d.cache.Set(ctx, key, []byte("1"), expiresAt.Sub(now)); err != nil {
		d.logger.Warn("denylist cache write failed, relying on in-process fallback", zap.Error(err))
		observability.RecordDenylistFallback("revoke")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.entries[key]; ok && !expiresAt.After(current) {
		return
	}
	d.entries[key] = expiresAt
	heap.Push(&d.index, expiryItem{key: key, expiresAt: expiresAt})
}

// IsRevoked reports whether token was revoked and has not yet expired.
// A negative cache answer is confirmed against the fallback.
func (d *Denylist) IsRevoked(ctx context.Context, token string) bool {
	key := Key(token)

	exists, err := d.cache.Exists(ctx, key)
	if err != nil {
		d.logger.Warn("denylist cache read failed, checking in-process fallback", zap.Error(err))
		observability.RecordDenylistFallback("check")
	} else if exists {
		return true
	}

	d.mu.Lock()
	expiresAt, ok := d.entries[key]
	d.mu.Unlock()

	if ok && expiresAt.After(d.now()) {
		if err == nil {
			observability.RecordDenylistFallback("hit")
		}
		return true
	}
	return false
}

// Sweep drops fallback entries whose expiry has passed and returns how many
func (d *Denylist) Sweep() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for d.index.Len() > 0 && !d.index[0].expiresAt.After(now) {
		item := heap.Pop(&d.index).(expiryItem)
		// a later revocation of the same token pushed a newer item
		if current, ok := d.entries[item.key]; ok && current.Equal(item.expiresAt) {
			delete(d.entries, item.key)
			removed++
		}
	}

	if removed > 0 {
		observability.DenylistSweptTotal.Add(float64(removed))
	}
	return removed
}

// Len returns the number of fallback entries
func (d *Denylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Run sweeps every interval until ctx is cancelled
func (d *Denylist) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Sweep(); n > 0 {
				d.logger.Debug("denylist sweep", zap.Int("removed", n), zap.Int("remaining", d.Len()))
			}
		}
	}
}

type expiryItem struct {
	key       string
	expiresAt time.Time
}

// expiryHeap implements heap.Interface ordered by soonest expiry
type expiryHeap []expiryItem

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *expiryHeap) Push(x any) {
	*h = append(*h, x.(expiryItem))
}

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
