package main

import (
    "context"
    "encoding/json"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"

    "quotehub/internal/config"
    "quotehub/internal/httpx"
    "quotehub/internal/ingest"
    "quotehub/internal/marketdata"
    "quotehub/internal/provider"
    "quotehub/internal/provider/cache"
    "quotehub/internal/provider/eastmoney"
    "quotehub/internal/provider/ratelimit"
    "quotehub/internal/provider/sina"
    "quotehub/internal/provider/tushare"
    "quotehub/internal/resolver"
    "quotehub/internal/store"
    "quotehub/internal/store/postgres"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil {
        zap.NewExample().Fatal("config", zap.Error(err))
    }
    log, err := newLogger(cfg.Log)
    if err != nil {
        zap.NewExample().Fatal("logger", zap.Error(err))
    }
    defer log.Sync()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    adapters := buildAdapters(cfg, httpClient, log)
    if len(adapters) == 0 {
        log.Warn("no providers configured, lookups will only hit the store")
    }

    limiter := ratelimit.NewLimiter()
    for _, d := range cfg.Descriptors() {
        limiter.Configure(d.ID, d.MaxCallsPerWindow, d.WindowDuration)
    }
    detector := ratelimit.NewDetector(limiter, log)

    c, err := buildCache(ctx, cfg.Cache, log)
    if err != nil {
        log.Fatal("cache", zap.Error(err))
    }
    st, err := buildStore(ctx, cfg.Database, log)
    if err != nil {
        log.Fatal("store", zap.Error(err))
    }

    res := resolver.New(config.NewSource(cfg), adapters, nil, log)
    exec := resolver.NewExecutor(adapters, c,
        time.Duration(cfg.Server.RequestTimeoutSec)*time.Second, log)
    svc := marketdata.New(res, exec, c, st, marketdata.TTLs{
        Quote:        time.Duration(cfg.Cache.QuoteTTLSec) * time.Second,
        History:      time.Duration(cfg.Cache.HistoryTTLSec) * time.Second,
        Fundamentals: time.Duration(cfg.Cache.FundamentalsTTLSec) * time.Second,
        News:         time.Duration(cfg.Cache.NewsTTLSec) * time.Second,
    }, log)

    var sched *ingest.Scheduler
    if cfg.Ingest.Enabled {
        cal, err := ingest.NewCalendar(cfg.Ingest.Timezone, sessions(cfg.Ingest.Sessions))
        if err != nil {
            log.Fatal("calendar", zap.Error(err))
        }
        interval, fetchTimeout := cfg.IngestConfig()
        sched = ingest.NewScheduler(ingest.Config{
            Interval:         interval,
            Rotation:         cfg.Ingest.Rotation,
            RotationEnabled:  cfg.Ingest.RotationEnabled,
            DefaultProvider:  cfg.Ingest.DefaultProvider,
            BackfillOffHours: cfg.Ingest.BackfillOffHours,
            Market:           cfg.Ingest.Market,
            FetchTimeout:     fetchTimeout,
        }, adapters, limiter, detector, st, exec, res, cal, log)
        if err := sched.Start(ctx); err != nil {
            log.Fatal("scheduler", zap.Error(err))
        }
    }

    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/api/quote", lookupHandler(svc, provider.CapQuote))
    mux.HandleFunc("/api/history", lookupHandler(svc, provider.CapHistory))
    mux.HandleFunc("/api/fundamentals", lookupHandler(svc, provider.CapFundamentals))
    mux.HandleFunc("/api/news", lookupHandler(svc, provider.CapNews))
    mux.HandleFunc("/api/snapshot", snapshotHandler(st))

    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           withJSONHeaders(recoverPanic(mux, log)),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      20 * time.Second,
        IdleTimeout:       60 * time.Second,
    }

    go func() {
        log.Info("server listening", zap.String("port", cfg.Server.Port))
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatal("server", zap.Error(err))
        }
    }()

    <-ctx.Done()

    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if sched != nil {
        _ = sched.Stop(shutdownCtx)
    }
    _ = srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
    var zc zap.Config
    if cfg.Format == "console" {
        zc = zap.NewDevelopmentConfig()
    } else {
        zc = zap.NewProductionConfig()
    }
    level, err := zapcore.ParseLevel(cfg.Level)
    if err != nil {
        return nil, err
    }
    zc.Level = zap.NewAtomicLevelAt(level)
    return zc.Build()
}

// buildAdapters instantiates one adapter per configured provider block.
func buildAdapters(cfg config.Config, hc *httpx.Client, log *zap.Logger) map[string]provider.Adapter {
    adapters := make(map[string]provider.Adapter)
    for _, p := range cfg.Providers {
        switch p.Name {
        case "tushare":
            if p.Token == "" {
                log.Warn("tushare configured without TUSHARE_TOKEN, it will be skipped by availability checks")
            }
            opts := []tushare.ClientOption{tushare.WithHTTPClient(hc.HTTP)}
            if p.Endpoint != "" {
                opts = append(opts, tushare.WithBaseURL(p.Endpoint))
            }
            client, err := tushare.NewClient(p.Token, opts...)
            if err != nil {
                log.Error("tushare client", zap.Error(err))
                continue
            }
            adapters[p.Name] = tushare.NewAdapter(client, log)
        case "eastmoney":
            adapters[p.Name] = eastmoney.New(eastmoney.Config{BaseURL: p.Endpoint}, hc)
        case "sina":
            adapters[p.Name] = sina.New(sina.Config{QuoteBaseURL: p.Endpoint}, hc)
        default:
            log.Warn("unknown provider in config, skipping", zap.String("name", p.Name))
        }
    }
    return adapters
}

func buildCache(ctx context.Context, cfg config.Cache, log *zap.Logger) (cache.Cache, error) {
    if cfg.Backend != "redis" {
        return cache.NewMemory(cfg.MaxItems), nil
    }
    client := redis.NewClient(&redis.Options{
        Addr:     cfg.RedisAddr,
        Password: cfg.RedisPassword,
        DB:       cfg.RedisDB,
    })
    r := cache.NewRedis(client, log)
    if err := r.Ping(ctx); err != nil {
        return nil, err
    }
    return r, nil
}

func buildStore(ctx context.Context, cfg config.Database, log *zap.Logger) (store.Store, error) {
    if cfg.Backend != "postgres" {
        return store.NewMemory(), nil
    }
    pool, err := postgres.Connect(ctx, cfg.URL, cfg.MinConns, cfg.MaxConns)
    if err != nil {
        return nil, err
    }
    st := postgres.New(pool, log)
    if err := st.EnsureSchema(ctx); err != nil {
        return nil, err
    }
    return st, nil
}

func sessions(in []config.Session) []ingest.Session {
    out := make([]ingest.Session, 0, len(in))
    for _, s := range in {
        out = append(out, ingest.Session{Open: s.Open, Close: s.Close})
    }
    return out
}

// lookupHandler serves one capability. An exhausted chain returns 404 with
// the attempt trace so callers can see what was tried.
func lookupHandler(svc *marketdata.Service, cap provider.Capability) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
        if symbol == "" && cap != provider.CapNews {
            http.Error(w, "missing symbol query param", http.StatusBadRequest)
            return
        }
        req := marketdata.Request{
            Capability: cap,
            Symbol:     symbol,
            Market:     r.URL.Query().Get("market"),
        }
        if cap == provider.CapHistory {
            req.Range = provider.Range{
                Start: r.URL.Query().Get("start"),
                End:   r.URL.Query().Get("end"),
            }
        }
        if cap == provider.CapNews {
            req.NewsWindow = 24 * time.Hour
            if v := r.URL.Query().Get("window"); v != "" {
                d, err := time.ParseDuration(v)
                if err != nil {
                    http.Error(w, "invalid window duration", http.StatusBadRequest)
                    return
                }
                req.NewsWindow = d
            }
        }

        res, err := svc.Get(r.Context(), req)
        if err != nil {
            http.Error(w, err.Error(), http.StatusGatewayTimeout)
            return
        }
        if !res.Found() {
            w.WriteHeader(http.StatusNotFound)
        }
        writeJSON(w, res)
    }
}

// snapshotHandler reads the last ingested row straight from the store.
func snapshotHandler(st store.Store) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
        if symbol == "" {
            http.Error(w, "missing symbol query param", http.StatusBadRequest)
            return
        }
        snap, err := st.FindLatest(r.Context(), symbol)
        if err != nil {
            http.Error(w, err.Error(), http.StatusInternalServerError)
            return
        }
        if snap == nil {
            http.Error(w, "symbol not ingested", http.StatusNotFound)
            return
        }
        writeJSON(w, snap)
    }
}

func writeJSON(w http.ResponseWriter, v any) {
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        next.ServeHTTP(w, r)
    })
}

func recoverPanic(next http.Handler, log *zap.Logger) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                log.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
                http.Error(w, "internal error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}
