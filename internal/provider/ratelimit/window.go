package ratelimit

import (
    "sync"
    "time"

    "quotehub/internal/provider"
)

// window is the per-provider sliding-window quota state. The timestamp slice
// holds only calls inside the current window after purge.
type window struct {
    max   int
    dur   time.Duration
    tier  provider.Tier
    calls []time.Time
}

func (w *window) purge(now time.Time) {
    cutoff := now.Add(-w.dur)
    i := 0
    for i < len(w.calls) && !w.calls[i].After(cutoff) {
        i++
    }
    if i > 0 {
        w.calls = append(w.calls[:0], w.calls[i:]...)
    }
}

// Limiter tracks sliding-window call quotas, one window per provider.
// Acquisition never waits: a denial means "skip this provider this cycle".
type Limiter struct {
    mu      sync.Mutex
    windows map[string]*window
    now     func() time.Time
}

func NewLimiter() *Limiter {
    return &Limiter{windows: make(map[string]*window), now: time.Now}
}

// Configure installs or replaces a provider's quota window.
// maxCalls <= 0 disables quota checks for the provider.
func (l *Limiter) Configure(id string, maxCalls int, dur time.Duration) {
    l.mu.Lock()
    defer l.mu.Unlock()
    if dur <= 0 {
        dur = time.Hour
    }
    w := l.windows[id]
    if w == nil {
        w = &window{tier: provider.TierUnknown}
        l.windows[id] = w
    }
    w.max = maxCalls
    w.dur = dur
}

// SetTier overrides a provider's detected tier. TierUnlimited bypasses
// quota checks entirely.
func (l *Limiter) SetTier(id string, t provider.Tier) {
    l.mu.Lock()
    defer l.mu.Unlock()
    w := l.windows[id]
    if w == nil {
        w = &window{dur: time.Hour}
        l.windows[id] = w
    }
    w.tier = t
}

// Tier returns a provider's current tier classification.
func (l *Limiter) Tier(id string) provider.Tier {
    l.mu.Lock()
    defer l.mu.Unlock()
    if w := l.windows[id]; w != nil {
        return w.tier
    }
    return provider.TierUnknown
}

// TryAcquire reports whether a call to the provider is currently within
// quota. It purges expired timestamps first, so len(calls) <= max holds
// before any permission is granted. It does not wait and does not record.
func (l *Limiter) TryAcquire(id string) bool {
    l.mu.Lock()
    defer l.mu.Unlock()
    w := l.windows[id]
    if w == nil || w.max <= 0 || w.tier == provider.TierUnlimited {
        return true
    }
    w.purge(l.now())
    return len(w.calls) < w.max
}

// RecordCall appends a call timestamp. Callers invoke it only after a real
// network attempt was made, never on early aborts.
func (l *Limiter) RecordCall(id string) {
    l.mu.Lock()
    defer l.mu.Unlock()
    w := l.windows[id]
    if w == nil || w.max <= 0 || w.tier == provider.TierUnlimited {
        return
    }
    now := l.now()
    w.purge(now)
    w.calls = append(w.calls, now)
}

// Remaining returns how many calls are left in the provider's window.
// Unlimited or unconfigured providers report -1.
func (l *Limiter) Remaining(id string) int {
    l.mu.Lock()
    defer l.mu.Unlock()
    w := l.windows[id]
    if w == nil || w.max <= 0 || w.tier == provider.TierUnlimited {
        return -1
    }
    w.purge(l.now())
    n := w.max - len(w.calls)
    if n < 0 {
        n = 0
    }
    return n
}
