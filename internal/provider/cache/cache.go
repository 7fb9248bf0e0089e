package cache

import (
    "context"
    "sync"
    "time"
)

// Cache is a freshness-checked lookaside store. Freshness is decided at
// lookup time against the caller's maxAge, so one stored entry can be fresh
// for a short-TTL caller and stale for none. Absence or failure of the cache
// never blocks the main resolution path.
type Cache interface {
    Lookup(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool)
    Store(ctx context.Context, key string, payload []byte)
}

// entry stores one cached payload with its fetch time.
type entry struct {
    payload   []byte
    fetchedAt time.Time
}

// Memory is the in-process cache. Stores overwrite; entries expire passively
// at read time, with a best-effort size cap instead of a background sweep.
type Memory struct {
    MaxItems int

    mu    sync.RWMutex
    items map[string]entry
    now   func() time.Time
}

func NewMemory(maxItems int) *Memory {
    return &Memory{MaxItems: maxItems, items: make(map[string]entry), now: time.Now}
}

func (m *Memory) Lookup(_ context.Context, key string, maxAge time.Duration) ([]byte, bool) {
    if maxAge <= 0 {
        return nil, false
    }
    m.mu.RLock()
    e, ok := m.items[key]
    m.mu.RUnlock()
    if !ok || m.now().Sub(e.fetchedAt) >= maxAge {
        return nil, false
    }
    return e.payload, true
}

func (m *Memory) Store(_ context.Context, key string, payload []byte) {
    if key == "" || len(payload) == 0 {
        return
    }
    now := m.now()
    m.mu.Lock()
    m.items[key] = entry{payload: payload, fetchedAt: now}
    if m.MaxItems > 0 && len(m.items) > m.MaxItems {
        // Evict oldest-first until under the cap.
        for len(m.items) > m.MaxItems {
            oldestKey := ""
            var oldest time.Time
            for k, v := range m.items {
                if oldestKey == "" || v.fetchedAt.Before(oldest) {
                    oldestKey = k
                    oldest = v.fetchedAt
                }
            }
            delete(m.items, oldestKey)
        }
    }
    m.mu.Unlock()
}

// Len reports the current entry count.
func (m *Memory) Len() int {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return len(m.items)
}
