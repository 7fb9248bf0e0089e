package main

import (
    "context"
    "flag"
    "os"
    "time"

    "go.uber.org/zap"

    "quotehub/internal/config"
    "quotehub/internal/httpx"
    "quotehub/internal/ingest"
    "quotehub/internal/provider"
    "quotehub/internal/provider/eastmoney"
    "quotehub/internal/provider/ratelimit"
    "quotehub/internal/provider/sina"
    "quotehub/internal/provider/tushare"
    "quotehub/internal/resolver"
    "quotehub/internal/store"
    "quotehub/internal/store/postgres"
)

// backfill is the one-shot catch-up: it checks the store against the latest
// trading date and runs a single snapshot fetch through the fallback chain if
// the store is empty or stale. Meant for cron and for seeding a fresh
// database before the server starts.
func main() {
    var (
        cfgPath    string
        timeoutSec int
    )
    flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
    flag.IntVar(&timeoutSec, "timeout", 120, "overall run timeout in seconds")
    flag.Parse()

    cfg, err := config.Load(cfgPath)
    if err != nil {
        zap.NewExample().Fatal("config", zap.Error(err))
    }
    log, err := zap.NewProduction()
    if err != nil {
        zap.NewExample().Fatal("logger", zap.Error(err))
    }
    defer log.Sync()

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
    defer cancel()

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
    adapters := make(map[string]provider.Adapter)
    for _, p := range cfg.Providers {
        switch p.Name {
        case "tushare":
            client, err := tushare.NewClient(p.Token, tushare.WithHTTPClient(httpClient.HTTP))
            if err != nil {
                log.Warn("tushare client", zap.Error(err))
                continue
            }
            adapters[p.Name] = tushare.NewAdapter(client, log)
        case "eastmoney":
            adapters[p.Name] = eastmoney.New(eastmoney.Config{}, httpClient)
        case "sina":
            adapters[p.Name] = sina.New(sina.Config{}, httpClient)
        }
    }

    var st store.Store = store.NewMemory()
    if cfg.Database.Backend == "postgres" {
        pool, err := postgres.Connect(ctx, cfg.Database.URL, cfg.Database.MinConns, cfg.Database.MaxConns)
        if err != nil {
            log.Fatal("postgres", zap.Error(err))
        }
        pg := postgres.New(pool, log)
        if err := pg.EnsureSchema(ctx); err != nil {
            log.Fatal("schema", zap.Error(err))
        }
        st = pg
        defer pool.Close()
    } else {
        log.Warn("database.backend is memory, backfill results will not persist")
    }

    cal, err := ingest.NewCalendar(cfg.Ingest.Timezone, nil)
    if err != nil {
        log.Fatal("calendar", zap.Error(err))
    }

    limiter := ratelimit.NewLimiter()
    res := resolver.New(config.NewSource(cfg), adapters, nil, log)
    exec := resolver.NewExecutor(adapters, nil,
        time.Duration(cfg.Server.RequestTimeoutSec)*time.Second, log)
    _, fetchTimeout := cfg.IngestConfig()
    sched := ingest.NewScheduler(ingest.Config{
        Market:          cfg.Ingest.Market,
        DefaultProvider: cfg.Ingest.DefaultProvider,
        FetchTimeout:    fetchTimeout,
    }, adapters, limiter, ratelimit.NewDetector(limiter, log), st, exec, res, cal, log)

    if err := sched.BackfillIfNeeded(ctx); err != nil {
        log.Fatal("backfill", zap.Error(err))
    }

    count, err := st.CountAll(ctx)
    if err != nil {
        log.Fatal("count", zap.Error(err))
    }
    date, _ := st.FindMostRecentTradeDate(ctx)
    log.Info("backfill done", zap.Int64("rows", count), zap.String("trade_date", date))
}
