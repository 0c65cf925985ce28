package caching

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	exists    bool
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Reads take no lock; concurrent
// writers for the same name race and the last write wins. Expired entries
// are ignored on read and removed by Sweep.
type MemoryStore struct {
	entries sync.Map
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, name string) (bool, error) {
	v, ok := m.entries.Load(name)
	if !ok {
		return false, ErrCacheMiss
	}
	entry := v.(memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		return false, ErrCacheMiss
	}
	return entry.exists, nil
}

func (m *MemoryStore) Set(_ context.Context, name string, exists bool, ttl time.Duration) error {
	m.entries.Store(name, memoryEntry{exists: exists, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.entries.Delete(name)
	return nil
}

// Sweep removes entries that expired before now and reports how many.
func (m *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	m.entries.Range(func(key, value interface{}) bool {
		entry := value.(memoryEntry)
		if !now.Before(entry.expiresAt) {
			// only delete the entry we inspected, not a fresh replacement
			if m.entries.CompareAndDelete(key, entry) {
				removed++
			}
		}
		return true
	})
	return removed
}

// Len counts stored entries, expired or not.
func (m *MemoryStore) Len() int {
	n := 0
	m.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
