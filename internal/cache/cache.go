// Package cache defines the key/value backend shared by the token store,
// the denylist and the permission resolver, with Redis and in-process
// implementations.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache: miss")

// Cache is a key/value store with per-entry TTL. Implementations must be
// safe for concurrent use. Any error other than ErrMiss means the backend
// could not answer and callers should fall back.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
}
