package draft

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is an in-memory Backend with optional TTL. Suitable for
// testing and single-instance deployments.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	ttl     time.Duration
	now     func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBackend creates a memory backend. A zero ttl keeps drafts until
// they are deleted.
func NewMemoryBackend(ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the stored payload.
func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && b.now().After(entry.expiresAt) {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Put stores a copy of value.
func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	entry := memEntry{value: append([]byte(nil), value...)}
	if b.ttl > 0 {
		entry.expiresAt = b.now().Add(b.ttl)
	}

	b.mu.Lock()
	b.entries[key] = entry
	b.mu.Unlock()
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.entries, key)
	b.mu.Unlock()
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
