package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "os"
    "time"

    "go.uber.org/zap"

    "quotehub/internal/config"
    "quotehub/internal/httpx"
    "quotehub/internal/provider"
    "quotehub/internal/provider/eastmoney"
    "quotehub/internal/provider/ratelimit"
    "quotehub/internal/provider/sina"
    "quotehub/internal/provider/tushare"
)

// probe is a diagnostic tool: it detects one provider's subscription tier
// and dumps the head of its snapshot batch so a new deployment can be
// checked without starting the server.
func main() {
    var (
        name       string
        head       int
        cfgPath    string
        timeoutSec int
    )
    flag.StringVar(&name, "provider", "eastmoney", "provider to probe (tushare, eastmoney, sina)")
    flag.IntVar(&head, "n", 5, "number of snapshot rows to print")
    flag.StringVar(&cfgPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
    flag.IntVar(&timeoutSec, "timeout", 60, "overall timeout seconds")
    flag.Parse()

    cfg, err := config.Load(cfgPath)
    if err != nil {
        log.Fatalf("config: %v", err)
    }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
    defer cancel()

    httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    var a provider.Adapter
    switch name {
    case "tushare":
        token := os.Getenv("TUSHARE_TOKEN")
        for _, p := range cfg.Providers {
            if p.Name == "tushare" && p.Token != "" {
                token = p.Token
            }
        }
        client, err := tushare.NewClient(token, tushare.WithHTTPClient(httpClient.HTTP))
        if err != nil {
            log.Fatalf("tushare client: %v", err)
        }
        a = tushare.NewAdapter(client, zap.NewNop())
    case "eastmoney":
        a = eastmoney.New(eastmoney.Config{}, httpClient)
    case "sina":
        a = sina.New(sina.Config{}, httpClient)
    default:
        log.Fatalf("unknown provider %q", name)
    }

    if !a.IsAvailable() {
        log.Fatalf("%s is not available (missing token?)", name)
    }

    limiter := ratelimit.NewLimiter()
    tier := ratelimit.NewDetector(limiter, zap.NewNop()).Detect(ctx, name, a)
    fmt.Printf("provider: %s\ntier: %s\n", name, tier)

    if date, err := a.LatestTradeDate(ctx); err == nil {
        fmt.Printf("latest trade date: %s\n", date)
    } else {
        fmt.Printf("latest trade date: error: %v\n", err)
    }

    recs, err := a.FetchSnapshot(ctx)
    if err != nil {
        log.Fatalf("snapshot: %v", err)
    }
    fmt.Printf("snapshot rows: %d\n", len(recs))
    if head > len(recs) {
        head = len(recs)
    }
    enc := json.NewEncoder(os.Stdout)
    for _, r := range recs[:head] {
        if err := enc.Encode(r); err != nil {
            log.Fatalf("encode: %v", err)
        }
    }
}
