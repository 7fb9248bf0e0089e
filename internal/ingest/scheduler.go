package ingest

import (
    "context"
    "fmt"
    "sync"
    "time"

    "go.uber.org/zap"

    "quotehub/internal/provider"
    "quotehub/internal/provider/ratelimit"
    "quotehub/internal/resolver"
    "quotehub/internal/store"
)

// Config holds the ingestion loop settings.
type Config struct {
    // Interval between ticks when driven by Start.
    Interval time.Duration
    // Rotation is the fixed ordered candidate list cycled across ticks.
    Rotation []string
    // RotationEnabled switches between round-robin and the single default.
    RotationEnabled bool
    // DefaultProvider is used when rotation is disabled and as the backfill
    // chain's market scope anchor.
    DefaultProvider string
    // BackfillOffHours runs a backfill check on off-hours ticks.
    BackfillOffHours bool
    // Market scopes the resolver chains used for backfill and trade dates.
    Market string
    // FetchTimeout bounds one snapshot fetch.
    FetchTimeout time.Duration
}

func (c *Config) applyDefaults() {
    if c.Interval <= 0 {
        c.Interval = 6 * time.Minute
    }
    if c.FetchTimeout <= 0 {
        c.FetchTimeout = 30 * time.Second
    }
}

// TickResult reports what one ingestion tick did, mostly for logging and
// tests. Ticks are independent: one tick's failure never halts the loop.
type TickResult struct {
    SkippedNonTradingTime bool
    SkippedQuota          bool
    BackfillChecked       bool
    Provider              string
    Upserted              int
    Empty                 bool
    Err                   error
}

// Scheduler drives quota-aware, market-hours-aware snapshot ingestion.
// Round-robin rotation is deliberate: priority-first selection would burn the
// top provider's quota every cycle and starve the rest, defeating the point
// of spreading load across independent quota pools.
type Scheduler struct {
    cfg      Config
    adapters map[string]provider.Adapter
    limiter  *ratelimit.Limiter
    detector *ratelimit.Detector
    st       store.Store
    exec     *resolver.Executor
    res      *resolver.Resolver
    cal      *Calendar
    log      *zap.Logger
    now      func() time.Time

    mu            sync.Mutex
    rotationIndex int

    runCtx context.Context
    cancel context.CancelFunc
    wg     sync.WaitGroup
}

func NewScheduler(cfg Config, adapters map[string]provider.Adapter, limiter *ratelimit.Limiter,
    detector *ratelimit.Detector, st store.Store, exec *resolver.Executor, res *resolver.Resolver,
    cal *Calendar, log *zap.Logger) *Scheduler {
    cfg.applyDefaults()
    if log == nil {
        log = zap.NewNop()
    }
    return &Scheduler{
        cfg:      cfg,
        adapters: adapters,
        limiter:  limiter,
        detector: detector,
        st:       st,
        exec:     exec,
        res:      res,
        cal:      cal,
        log:      log,
        now:      time.Now,
    }
}

// Start runs the backfill check once and then ticks on the configured
// interval until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
    s.runCtx, s.cancel = context.WithCancel(ctx)
    s.wg.Add(1)
    go s.run()
    s.log.Info("ingestion scheduler started",
        zap.Duration("interval", s.cfg.Interval),
        zap.Bool("rotation", s.cfg.RotationEnabled),
        zap.Strings("candidates", s.cfg.Rotation))
    return nil
}

// Stop shuts the loop down, waiting up to the context's deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
    if s.cancel != nil {
        s.cancel()
    }
    done := make(chan struct{})
    go func() {
        s.wg.Wait()
        close(done)
    }()
    select {
    case <-done:
        s.log.Info("ingestion scheduler stopped")
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (s *Scheduler) run() {
    defer s.wg.Done()

    if err := s.BackfillIfNeeded(s.runCtx); err != nil {
        s.log.Warn("startup backfill failed", zap.Error(err))
    }

    ticker := time.NewTicker(s.cfg.Interval)
    defer ticker.Stop()
    for {
        select {
        case <-s.runCtx.Done():
            return
        case <-ticker.C:
            s.RunTick(s.runCtx)
        }
    }
}

// RunTick executes one ingestion cycle. All provider failures are recovered
// here; the only caller-visible faults are carried in the result.
func (s *Scheduler) RunTick(ctx context.Context) TickResult {
    now := s.now()
    if !s.cal.InSession(now) {
        res := TickResult{SkippedNonTradingTime: true}
        if s.cfg.BackfillOffHours {
            res.BackfillChecked = true
            if err := s.BackfillIfNeeded(ctx); err != nil {
                s.log.Warn("off-hours backfill failed", zap.Error(err))
            }
        } else {
            s.log.Debug("outside trading hours, skipping tick")
        }
        return res
    }

    candidate := s.nextCandidate()
    res := TickResult{Provider: candidate}
    if candidate == "" {
        res.Err = fmt.Errorf("no ingestion candidate configured")
        return res
    }
    a, ok := s.adapters[candidate]
    if !ok {
        res.Err = fmt.Errorf("adapter %q not registered", candidate)
        s.log.Error("tick aborted", zap.Error(res.Err))
        return res
    }

    // Tier detection happens on first need, before the quota check, so an
    // unlimited provider is never denied by its provisional cap.
    s.detector.Detect(ctx, candidate, a)

    if !s.limiter.TryAcquire(candidate) {
        res.SkippedQuota = true
        s.log.Info("quota window exhausted, skipping tick",
            zap.String("provider", candidate))
        return res
    }

    fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
    recs, err := a.FetchSnapshot(fctx)
    cancel()
    if ctx.Err() != nil {
        // Cancelled mid-flight: no bookkeeping writes from this attempt.
        res.Err = ctx.Err()
        return res
    }
    // A real network attempt was made; it counts against the window whether
    // or not it produced data.
    s.limiter.RecordCall(candidate)

    if err != nil {
        res.Err = err
        s.log.Warn("snapshot fetch failed",
            zap.String("provider", candidate), zap.Error(err))
        return res
    }
    if len(recs) == 0 {
        res.Empty = true
        s.log.Warn("snapshot fetch returned no rows",
            zap.String("provider", candidate))
        return res
    }

    tradeDate := s.tradeDateLabel(ctx)
    rows := s.toRows(recs, candidate, tradeDate)
    if err := s.st.UpsertMany(ctx, rows); err != nil {
        res.Err = fmt.Errorf("persist snapshot: %w", err)
        s.log.Error("snapshot persist failed",
            zap.String("provider", candidate), zap.Int("rows", len(rows)), zap.Error(err))
        return res
    }
    res.Upserted = len(rows)
    s.log.Info("snapshot ingested",
        zap.String("provider", candidate),
        zap.String("trade_date", tradeDate),
        zap.Int("rows", len(rows)))
    return res
}

// nextCandidate advances the rotation index every tick regardless of the
// tick's outcome, guaranteeing fairness across candidates over time.
func (s *Scheduler) nextCandidate() string {
    if !s.cfg.RotationEnabled || len(s.cfg.Rotation) == 0 {
        return s.cfg.DefaultProvider
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    id := s.cfg.Rotation[s.rotationIndex%len(s.cfg.Rotation)]
    s.rotationIndex = (s.rotationIndex + 1) % len(s.cfg.Rotation)
    return id
}

// RotationIndex exposes the current index position.
func (s *Scheduler) RotationIndex() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.rotationIndex
}

// BackfillIfNeeded runs one catch-up fetch when the store is empty or its
// most recent trade date lags the externally resolved latest trading date.
// It is allowed outside trading hours and never touches the rotation index.
func (s *Scheduler) BackfillIfNeeded(ctx context.Context) error {
    candidates := s.res.Order(ctx, provider.CapSnapshot, s.cfg.Market)
    latest, _, _ := s.exec.TradeDate(ctx, candidates)

    needed, err := s.backfillNeeded(ctx, latest)
    if err != nil {
        s.log.Warn("backfill staleness check failed, assuming needed", zap.Error(err))
        needed = true
    }
    if !needed {
        return nil
    }
    s.log.Info("store empty or stale, running backfill",
        zap.String("latest_trade_date", latest))
    return s.backfill(ctx, candidates, latest)
}

func (s *Scheduler) backfillNeeded(ctx context.Context, latest string) (bool, error) {
    count, err := s.st.CountAll(ctx)
    if err != nil {
        return true, err
    }
    if count == 0 {
        return true, nil
    }
    if latest == "" {
        return false, nil
    }
    stored, err := s.st.FindMostRecentTradeDate(ctx)
    if err != nil {
        return true, err
    }
    return stored < latest, nil
}

// backfill fetches once through the full resolver+fallback chain, not the
// rotation.
func (s *Scheduler) backfill(ctx context.Context, candidates []string, latest string) error {
    recs, source, attempts := s.exec.Snapshot(ctx, candidates)
    if len(recs) == 0 {
        s.log.Warn("backfill produced no data",
            zap.Int("attempts", len(attempts)))
        return nil
    }
    tradeDate := latest
    if tradeDate == "" {
        tradeDate = s.now().In(s.cal.Location()).Format("20060102")
    }
    rows := s.toRows(recs, source, tradeDate)
    if err := s.st.UpsertMany(ctx, rows); err != nil {
        return fmt.Errorf("persist backfill: %w", err)
    }
    s.log.Info("backfill complete",
        zap.String("provider", source),
        zap.String("trade_date", tradeDate),
        zap.Int("rows", len(rows)))
    return nil
}

// tradeDateLabel resolves the trading-date stamp via its own fallback chain
// and falls back to the current calendar date.
func (s *Scheduler) tradeDateLabel(ctx context.Context) string {
    candidates := s.res.Order(ctx, provider.CapSnapshot, s.cfg.Market)
    if d, _, _ := s.exec.TradeDate(ctx, candidates); d != "" {
        return d
    }
    return s.now().In(s.cal.Location()).Format("20060102")
}

func (s *Scheduler) toRows(recs []provider.QuoteRecord, source, tradeDate string) []store.Snapshot {
    now := s.now()
    collapsed := CollapseBySymbol(recs, now)
    rows := make([]store.Snapshot, 0, len(collapsed))
    for _, q := range collapsed {
        rows = append(rows, store.Snapshot{
            Symbol:         q.Symbol,
            Open:           q.Open,
            High:           q.High,
            Low:            q.Low,
            Close:          q.Close,
            Volume:         q.Volume,
            Amount:         q.Amount,
            PrevClose:      q.PrevClose,
            PctChange:      q.PctChange,
            TradeDate:      tradeDate,
            SourceProvider: source,
            UpdatedAt:      now,
        })
    }
    return rows
}
