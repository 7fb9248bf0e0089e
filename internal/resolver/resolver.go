package resolver

import (
    "context"
    "sort"

    "go.uber.org/zap"

    "quotehub/internal/provider"
)

// ConfigSource yields the current provider descriptor snapshot. The snapshot
// is replaced whole on reload, never patched in place.
type ConfigSource interface {
    ProviderConfigs(ctx context.Context) ([]provider.Descriptor, error)
}

// Resolver builds ordered candidate lists from persisted provider
// configuration. It holds no mutable state of its own; ordering is a pure
// function of the descriptor snapshot.
type Resolver struct {
    source   ConfigSource
    adapters map[string]provider.Adapter
    // fallback is the hardcoded default order used when the configuration
    // store is unreachable. The same filters still apply.
    fallback []provider.Descriptor
    log      *zap.Logger
}

func New(source ConfigSource, adapters map[string]provider.Adapter, fallback []provider.Descriptor, log *zap.Logger) *Resolver {
    if log == nil {
        log = zap.NewNop()
    }
    return &Resolver{source: source, adapters: adapters, fallback: fallback, log: log}
}

// Order returns provider ids qualified for the capability and market
// category, highest priority first. An empty list means "no data source"
// and is not an error.
func (r *Resolver) Order(ctx context.Context, cap provider.Capability, market string) []string {
    descs, err := r.source.ProviderConfigs(ctx)
    if err != nil {
        r.log.Warn("provider config unavailable, using default order", zap.Error(err))
        descs = r.fallback
    }
    return r.orderFrom(descs, cap, market)
}

func (r *Resolver) orderFrom(descs []provider.Descriptor, cap provider.Capability, market string) []string {
    type ranked struct {
        id       string
        priority int
    }
    qualified := make([]ranked, 0, len(descs))
    for _, d := range descs {
        if !d.Enabled || !d.Supports(cap) || !d.InScope(market) {
            continue
        }
        a, ok := r.adapters[d.ID]
        if !ok || !a.IsAvailable() {
            continue
        }
        qualified = append(qualified, ranked{id: d.ID, priority: d.Priority})
    }
    // Priority descending; the stable sort keeps configuration order as the
    // tie-break, which is deterministic because the snapshot is an ordered
    // slice rebuilt identically on every reload.
    sort.SliceStable(qualified, func(i, j int) bool {
        return qualified[i].priority > qualified[j].priority
    })
    out := make([]string, 0, len(qualified))
    for _, q := range qualified {
        out = append(out, q.id)
    }
    return out
}
