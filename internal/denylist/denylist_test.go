package denylist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/authz-gateway/internal/cache"
	"go.uber.org/zap"
)

// forgetfulCache answers "not found" for everything once amnesia is set,
// and fails every call once down is set.
type forgetfulCache struct {
	cache.Cache
	mu      sync.Mutex
	amnesia bool
	down    bool
}

func (c *forgetfulCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	down := c.down
	c.mu.Unlock()
	if down {
		return errors.New("cache unavailable")
	}
	return c.Cache.Set(ctx, key, value, ttl)
}

func (c *forgetfulCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	amnesia, down := c.amnesia, c.down
	c.mu.Unlock()
	if down {
		return false, errors.New("cache unavailable")
	}
	if amnesia {
		return false, nil
	}
	return c.Cache.Exists(ctx, key)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newDenylist(t *testing.T) (*Denylist, *forgetfulCache, *clock) {
	t.Helper()
	clk := &clock{t: time.Now()}
	c := &forgetfulCache{Cache: cache.NewMemory(100, cache.WithClock(clk.now))}
	d := New(c, zap.NewNop())
	d.now = clk.now
	return d, c, clk
}

func TestDenylist_RevokeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d, _, clk := newDenylist(t)
	exp := clk.t.Add(time.Hour)

	d.Revoke(ctx, "tok", exp)
	assert.True(t, d.IsRevoked(ctx, "tok"))

	d.Revoke(ctx, "tok", exp)
	assert.True(t, d.IsRevoked(ctx, "tok"))
	assert.Equal(t, 1, d.Len())
	assert.Equal(t, 1, d.index.Len())

	assert.False(t, d.IsRevoked(ctx, "other"))
}

func TestDenylist_AlreadyExpiredIsNoop(t *testing.T) {
	ctx := context.Background()
	d, c, clk := newDenylist(t)

	d.Revoke(ctx, "tok", clk.t)
	d.Revoke(ctx, "tok2", clk.t.Add(-time.Minute))

	assert.False(t, d.IsRevoked(ctx, "tok"))
	assert.Equal(t, 0, d.Len())

	exists, err := c.Cache.Exists(ctx, Key("tok"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDenylist_FallbackHoldsWhenCacheForgets(t *testing.T) {
	ctx := context.Background()
	d, c, clk := newDenylist(t)

	d.Revoke(ctx, "tok", clk.t.Add(time.Hour))

	c.mu.Lock()
	c.amnesia = true
	c.mu.Unlock()

	assert.True(t, d.IsRevoked(ctx, "tok"))
}

func TestDenylist_CacheDown(t *testing.T) {
	ctx := context.Background()
	d, c, clk := newDenylist(t)

	c.mu.Lock()
	c.down = true
	c.mu.Unlock()

	d.Revoke(ctx, "tok", clk.t.Add(time.Hour))
	assert.True(t, d.IsRevoked(ctx, "tok"))
	assert.False(t, d.IsRevoked(ctx, "other"))
}

func TestDenylist_EntryLapsesAtExpiry(t *testing.T) {
	ctx := context.Background()
	d, _, clk := newDenylist(t)

	d.Revoke(ctx, "tok", clk.t.Add(time.Minute))
	clk.t = clk.t.Add(time.Minute)

	assert.False(t, d.IsRevoked(ctx, "tok"))
}

func TestDenylist_SweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	d, _, clk := newDenylist(t)

	d.Revoke(ctx, "a", clk.t.Add(time.Minute))
	d.Revoke(ctx, "b", clk.t.Add(2*time.Minute))
	d.Revoke(ctx, "c", clk.t.Add(time.Hour))

	clk.t = clk.t.Add(2 * time.Minute)
	assert.Equal(t, 2, d.Sweep())
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.IsRevoked(ctx, "c"))

	assert.Equal(t, 0, d.Sweep())
}

func TestDenylist_ExtendedRevocationSurvivesSweep(t *testing.T) {
	ctx := context.Background()
	d, _, clk := newDenylist(t)

	d.Revoke(ctx, "tok", clk.t.Add(time.Minute))
	d.Revoke(ctx, "tok", clk.t.Add(time.Hour))

	clk.t = clk.t.Add(5 * time.Minute)
	assert.Equal(t, 0, d.Sweep())
	assert.True(t, d.IsRevoked(ctx, "tok"))
}

func TestKey_HidesToken(t *testing.T) {
	k := Key("secret-token")
	assert.NotContains(t, k, "secret-token")
	assert.Equal(t, k, Key("secret-token"))
	assert.NotEqual(t, k, Key("secret-token2"))
}
