package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry is a single cache entry with its own expiry
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// Memory is an in-process LRU cache with per-entry TTL.
// Thread-safe implementation using sync.Mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List
	maxSize int
	now     func() time.Time
	hits    uint64
	misses  uint64
}

// MemoryOption configures a Memory cache
type MemoryOption func(*Memory)

// WithClock overrides the time source
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates a Memory cache bounded to maxSize entries
func NewMemory(maxSize int, opts ...MemoryOption) *Memory {
	if maxSize <= 0 {
		maxSize = 10000
	}
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the value or ErrMiss
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.lookup(key)
	if !ok {
		m.misses++
		return nil, ErrMiss
	}
	m.hits++
	m.lruList.MoveToFront(entry.element)

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// Set stores value until ttl elapses. ttl <= 0 means no expiry.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	if entry, exists := m.entries[key]; exists {
		entry.value = stored
		entry.expiresAt = expiresAt
		m.lruList.MoveToFront(entry.element)
		return nil
	}

	if m.lruList.Len() >= m.maxSize {
		m.evictLRU()
	}

	entry := &memoryEntry{key: key, value: stored, expiresAt: expiresAt}
	entry.element = m.lruList.PushFront(key)
	m.entries[key] = entry
	return nil
}

// Delete removes keys; absent keys are ignored
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		m.removeEntry(key)
	}
	return nil
}

// Exists reports whether key holds a live entry
func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.lookup(key)
	return ok, nil
}

// Ping always succeeds
func (m *Memory) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lruList.Len()
}

// HitRate returns hits / (hits + misses)
func (m *Memory) HitRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.hits + m.misses
	if total == 0 {
		return 0
	}
	return float64(m.hits) / float64(total)
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var expired []string
	for key, entry := range m.entries {
		if entry.expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		m.removeEntry(key)
	}
	return len(expired)
}

// StartCleanupWorker periodically drops expired entries until ctx is done
func (m *Memory) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}

// lookup returns a live entry, dropping it if expired (lock held)
func (m *Memory) lookup(key string) (*memoryEntry, bool) {
	entry, exists := m.entries[key]
	if !exists {
		return nil, false
	}
	if entry.expired(m.now()) {
		m.removeEntry(key)
		return nil, false
	}
	return entry, true
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// removeEntry removes an entry from the cache (lock held)
func (m *Memory) removeEntry(key string) {
	if entry, exists := m.entries[key]; exists {
		m.lruList.Remove(entry.element)
		delete(m.entries, key)
	}
}

// evictLRU evicts the least recently used entry (lock held)
func (m *Memory) evictLRU() {
	back := m.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	m.lruList.Remove(back)
	delete(m.entries, key)
}
