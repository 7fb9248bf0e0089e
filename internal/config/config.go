package config

import (
    "context"
    "errors"
    "fmt"
    "os"
    "strings"
    "time"

    "github.com/spf13/viper"

    "quotehub/internal/provider"
)

type Server struct {
    Port              string `mapstructure:"port"`
    RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
}

type Log struct {
    Level  string `mapstructure:"level"`
    Format string `mapstructure:"format"` // json or console
}

type Cache struct {
    Backend       string `mapstructure:"backend"` // memory or redis
    RedisAddr     string `mapstructure:"redis_addr"`
    RedisPassword string `mapstructure:"redis_password"`
    RedisDB       int    `mapstructure:"redis_db"`
    MaxItems      int    `mapstructure:"max_items"`

    QuoteTTLSec        int `mapstructure:"quote_ttl_sec"`
    HistoryTTLSec      int `mapstructure:"history_ttl_sec"`
    FundamentalsTTLSec int `mapstructure:"fundamentals_ttl_sec"`
    NewsTTLSec         int `mapstructure:"news_ttl_sec"`
}

type Database struct {
    Backend  string `mapstructure:"backend"` // memory or postgres
    URL      string `mapstructure:"url"`
    MinConns int32  `mapstructure:"min_conns"`
    MaxConns int32  `mapstructure:"max_conns"`
}

type Session struct {
    Open  string `mapstructure:"open"`
    Close string `mapstructure:"close"`
}

type Ingest struct {
    Enabled          bool      `mapstructure:"enabled"`
    IntervalSec      int       `mapstructure:"interval_sec"`
    RotationEnabled  bool      `mapstructure:"rotation_enabled"`
    Rotation         []string  `mapstructure:"rotation"`
    DefaultProvider  string    `mapstructure:"default_provider"`
    BackfillOffHours bool      `mapstructure:"backfill_off_hours"`
    Market           string    `mapstructure:"market"`
    Timezone         string    `mapstructure:"timezone"`
    Sessions         []Session `mapstructure:"sessions"`
    FetchTimeoutSec  int       `mapstructure:"fetch_timeout_sec"`
}

type Provider struct {
    Name              string   `mapstructure:"name"`
    Enabled           bool     `mapstructure:"enabled"`
    Priority          int      `mapstructure:"priority"`
    Token             string   `mapstructure:"token"`
    Endpoint          string   `mapstructure:"endpoint"`
    Capabilities      []string `mapstructure:"capabilities"`
    Markets           []string `mapstructure:"markets"`
    MaxCallsPerWindow int      `mapstructure:"max_calls_per_window"`
    WindowMinutes     int      `mapstructure:"window_minutes"`
}

type Config struct {
    Server    Server     `mapstructure:"server"`
    Log       Log        `mapstructure:"log"`
    Cache     Cache      `mapstructure:"cache"`
    Database  Database   `mapstructure:"database"`
    Ingest    Ingest     `mapstructure:"ingest"`
    Providers []Provider `mapstructure:"providers"`
}

// Load reads YAML config from path (or ./config.yaml when empty) and applies
// QUOTEHUB_* environment overrides. A missing file is not an error: defaults
// plus environment are enough to run with the in-memory backends.
func Load(path string) (Config, error) {
    v := viper.New()
    setDefaults(v)

    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("config")
        v.SetConfigType("yaml")
        v.AddConfigPath(".")
    }
    v.SetEnvPrefix("QUOTEHUB")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
    v.AutomaticEnv()

    if err := v.ReadInConfig(); err != nil {
        var notFound viper.ConfigFileNotFoundError
        if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
            return Config{}, fmt.Errorf("read config: %w", err)
        }
    }

    var cfg Config
    if err := v.Unmarshal(&cfg); err != nil {
        return Config{}, fmt.Errorf("parse config: %w", err)
    }
    applyTokenEnv(&cfg)
    if err := cfg.Validate(); err != nil {
        return Config{}, err
    }
    return cfg, nil
}

func setDefaults(v *viper.Viper) {
    v.SetDefault("server.port", "8080")
    v.SetDefault("server.request_timeout_sec", 10)

    v.SetDefault("log.level", "info")
    v.SetDefault("log.format", "json")

    v.SetDefault("cache.backend", "memory")
    v.SetDefault("cache.max_items", 50000)
    v.SetDefault("cache.quote_ttl_sec", 10)
    v.SetDefault("cache.history_ttl_sec", 3600)
    v.SetDefault("cache.fundamentals_ttl_sec", 3600)
    v.SetDefault("cache.news_ttl_sec", 600)

    v.SetDefault("database.backend", "memory")
    v.SetDefault("database.min_conns", 2)
    v.SetDefault("database.max_conns", 8)

    v.SetDefault("ingest.enabled", true)
    v.SetDefault("ingest.interval_sec", 360)
    v.SetDefault("ingest.rotation_enabled", true)
    v.SetDefault("ingest.rotation", []string{"tushare", "eastmoney", "sina"})
    v.SetDefault("ingest.default_provider", "eastmoney")
    v.SetDefault("ingest.backfill_off_hours", true)
    v.SetDefault("ingest.market", "cn")
    v.SetDefault("ingest.timezone", "Asia/Shanghai")
    v.SetDefault("ingest.fetch_timeout_sec", 30)
}

// applyTokenEnv fills blank provider tokens from <NAME>_TOKEN, keeping
// secrets out of config files.
func applyTokenEnv(cfg *Config) {
    for i := range cfg.Providers {
        if cfg.Providers[i].Token != "" {
            continue
        }
        key := strings.ToUpper(cfg.Providers[i].Name) + "_TOKEN"
        if v := os.Getenv(key); v != "" {
            cfg.Providers[i].Token = v
        }
    }
}

var validCapabilities = map[string]provider.Capability{
    "quote":        provider.CapQuote,
    "history":      provider.CapHistory,
    "fundamentals": provider.CapFundamentals,
    "news":         provider.CapNews,
    "snapshot":     provider.CapSnapshot,
}

func (c Config) Validate() error {
    switch c.Cache.Backend {
    case "memory", "redis":
    default:
        return fmt.Errorf("cache.backend %q: want memory or redis", c.Cache.Backend)
    }
    if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
        return errors.New("cache.redis_addr required for the redis backend")
    }
    switch c.Database.Backend {
    case "memory", "postgres":
    default:
        return fmt.Errorf("database.backend %q: want memory or postgres", c.Database.Backend)
    }
    if c.Database.Backend == "postgres" && c.Database.URL == "" {
        return errors.New("database.url required for the postgres backend")
    }
    if c.Ingest.Enabled && !c.Ingest.RotationEnabled && c.Ingest.DefaultProvider == "" {
        return errors.New("ingest.default_provider required when rotation is disabled")
    }
    seen := make(map[string]bool, len(c.Providers))
    for _, p := range c.Providers {
        if p.Name == "" {
            return errors.New("providers[].name must not be empty")
        }
        if seen[p.Name] {
            return fmt.Errorf("provider %q configured twice", p.Name)
        }
        seen[p.Name] = true
        for _, cap := range p.Capabilities {
            if _, ok := validCapabilities[cap]; !ok {
                return fmt.Errorf("provider %q: unknown capability %q", p.Name, cap)
            }
        }
    }
    return nil
}

// Descriptors converts the provider block into resolver descriptors. Config
// order is preserved so equal priorities keep a deterministic order downstream.
func (c Config) Descriptors() []provider.Descriptor {
    out := make([]provider.Descriptor, 0, len(c.Providers))
    for _, p := range c.Providers {
        caps := make([]provider.Capability, 0, len(p.Capabilities))
        for _, name := range p.Capabilities {
            if cap, ok := validCapabilities[name]; ok {
                caps = append(caps, cap)
            }
        }
        out = append(out, provider.Descriptor{
            ID:                p.Name,
            Tier:              provider.TierUnknown,
            Priority:          p.Priority,
            Enabled:           p.Enabled,
            Capabilities:      caps,
            MarketScopes:      p.Markets,
            MaxCallsPerWindow: p.MaxCallsPerWindow,
            WindowDuration:    time.Duration(p.WindowMinutes) * time.Minute,
        })
    }
    return out
}

// Source adapts a loaded Config to the resolver's configuration lookup. The
// descriptor set is a point-in-time snapshot of the file.
type Source struct {
    descs []provider.Descriptor
}

func NewSource(cfg Config) *Source {
    return &Source{descs: cfg.Descriptors()}
}

func (s *Source) ProviderConfigs(ctx context.Context) ([]provider.Descriptor, error) {
    out := make([]provider.Descriptor, len(s.descs))
    copy(out, s.descs)
    return out, nil
}

// IngestConfig maps the ingest block onto scheduler settings.
func (c Config) IngestConfig() (interval, fetchTimeout time.Duration) {
    return time.Duration(c.Ingest.IntervalSec) * time.Second,
        time.Duration(c.Ingest.FetchTimeoutSec) * time.Second
}
