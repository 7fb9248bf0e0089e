package ratelimit

import (
    "context"
    "errors"
    "sync"

    "go.uber.org/zap"

    "quotehub/internal/provider"
)

// Detector classifies a provider's subscription tier with a one-shot probe
// against a premium-only capability. The classification is cached for the
// process lifetime; a mid-run subscription change is not picked up.
type Detector struct {
    limiter *Limiter
    log     *zap.Logger

    mu      sync.Mutex
    checked map[string]provider.Tier
}

func NewDetector(limiter *Limiter, log *zap.Logger) *Detector {
    if log == nil {
        log = zap.NewNop()
    }
    return &Detector{
        limiter: limiter,
        log:     log,
        checked: make(map[string]provider.Tier),
    }
}

// Detect probes the adapter once and returns the resulting tier. Repeat
// calls return the cached classification without touching the network.
//
// A clean probe response marks the provider unlimited. A permission-denied
// signature, an unsupported probe, or any degraded response marks it
// quota-limited with the configured cap.
func (d *Detector) Detect(ctx context.Context, id string, a provider.Adapter) provider.Tier {
    d.mu.Lock()
    if t, ok := d.checked[id]; ok {
        d.mu.Unlock()
        return t
    }
    d.mu.Unlock()

    tier := d.probe(ctx, id, a)

    d.mu.Lock()
    d.checked[id] = tier
    d.mu.Unlock()
    d.limiter.SetTier(id, tier)
    return tier
}

func (d *Detector) probe(ctx context.Context, id string, a provider.Adapter) provider.Tier {
    prober, ok := a.(provider.PremiumProber)
    if !ok {
        d.log.Debug("provider has no premium probe, assuming quota-limited",
            zap.String("provider", id))
        return provider.TierLimited
    }

    err := prober.ProbePremium(ctx)
    switch {
    case err == nil:
        d.log.Info("premium probe succeeded, quota checks bypassed",
            zap.String("provider", id))
        return provider.TierUnlimited
    case errors.Is(err, provider.ErrPermissionDenied):
        d.log.Info("premium probe denied, provider is quota-limited",
            zap.String("provider", id))
        return provider.TierLimited
    case errors.Is(err, provider.ErrUnsupported):
        return provider.TierLimited
    default:
        d.log.Warn("premium probe failed, assuming quota-limited",
            zap.String("provider", id), zap.Error(err))
        return provider.TierLimited
    }
}
