package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Adapter is the storage primitive for one layer. Get reports absence with
// ok == false rather than an error. Errors are transport failures that the
// Coordinator downgrades to a miss or a per-layer failure.
type Adapter interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// KeyLister is implemented by adapters that can enumerate their keys.
type KeyLister interface {
	Keys(ctx context.Context) ([]string, error)
}

// TTLSetter is implemented by adapters that support per-entry expiry.
type TTLSetter interface {
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Sweeper is implemented by adapters that purge expired entries on demand.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Pinger is implemented by adapters backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Closer is implemented by adapters holding resources.
type Closer interface {
	Close() error
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAdapter is an in-process map with optional per-entry expiry. It
// backs the memory and session layers.
type MemoryAdapter struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	defaultTTL time.Duration
	clock      clockwork.Clock
}

// NewMemoryAdapter creates a MemoryAdapter. A zero defaultTTL keeps entries
// until removed.
func NewMemoryAdapter(defaultTTL time.Duration, clock clockwork.Clock) *MemoryAdapter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryAdapter{
		entries:    make(map[string]memoryEntry),
		defaultTTL: defaultTTL,
		clock:      clock,
	}
}

// NewSessionAdapter creates the session layer: a MemoryAdapter without
// expiry whose contents live as long as the process.
func NewSessionAdapter() *MemoryAdapter {
	return NewMemoryAdapter(0, nil)
}

// Get returns a live entry.
func (m *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e, m.clock.Now()) {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores value with the default TTL.
func (m *MemoryAdapter) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.defaultTTL)
}

// SetWithTTL stores value expiring after ttl; zero means never.
func (m *MemoryAdapter) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

// Remove deletes key.
func (m *MemoryAdapter) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear deletes everything.
func (m *MemoryAdapter) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Keys lists live keys in sorted order.
func (m *MemoryAdapter) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !m.expired(e, now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep purges expired entries and returns how many were removed.
func (m *MemoryAdapter) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for k, e := range m.entries {
		if m.expired(e, now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryAdapter) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

var (
	_ Adapter   = (*MemoryAdapter)(nil)
	_ KeyLister = (*MemoryAdapter)(nil)
	_ TTLSetter = (*MemoryAdapter)(nil)
	_ Sweeper   = (*MemoryAdapter)(nil)
)
