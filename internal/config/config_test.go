package config

import (
    "context"
    "os"
    "path/filepath"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "quotehub/internal/provider"
)

const sampleYAML = `
server:
  port: "9090"
cache:
  backend: memory
  quote_ttl_sec: 5
database:
  backend: memory
ingest:
  rotation_enabled: true
  rotation: [tushare, eastmoney]
  market: cn
providers:
  - name: tushare
    enabled: true
    priority: 30
    capabilities: [quote, history, snapshot]
    markets: [cn]
    max_calls_per_window: 60
    window_minutes: 60
  - name: eastmoney
    enabled: true
    priority: 20
    capabilities: [quote, snapshot, news]
`

func writeConfig(t *testing.T, body string) string {
    t.Helper()
    path := filepath.Join(t.TempDir(), "config.yaml")
    require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
    return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
    cfg, err := Load(writeConfig(t, sampleYAML))
    require.NoError(t, err)

    require.Equal(t, "9090", cfg.Server.Port)
    require.Equal(t, 10, cfg.Server.RequestTimeoutSec, "untouched fields keep defaults")
    require.Equal(t, 5, cfg.Cache.QuoteTTLSec)
    require.Equal(t, 360, cfg.Ingest.IntervalSec)
    require.Len(t, cfg.Providers, 2)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
    cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
    require.NoError(t, err)
    require.Equal(t, "8080", cfg.Server.Port)
    require.Equal(t, "memory", cfg.Cache.Backend)
    require.Equal(t, []string{"tushare", "eastmoney", "sina"}, cfg.Ingest.Rotation)
}

func TestLoad_TokenFromEnvironment(t *testing.T) {
    t.Setenv("TUSHARE_TOKEN", "sekrit")
    cfg, err := Load(writeConfig(t, sampleYAML))
    require.NoError(t, err)
    require.Equal(t, "sekrit", cfg.Providers[0].Token)
    require.Empty(t, cfg.Providers[1].Token)
}

func TestLoad_RejectsBadConfig(t *testing.T) {
    _, err := Load(writeConfig(t, "cache:\n  backend: memcached\n"))
    require.Error(t, err)

    _, err = Load(writeConfig(t, "cache:\n  backend: redis\n"))
    require.Error(t, err, "redis backend needs an address")

    _, err = Load(writeConfig(t, `
providers:
  - name: tushare
    capabilities: [teleport]
`))
    require.Error(t, err)

    _, err = Load(writeConfig(t, `
providers:
  - name: tushare
  - name: tushare
`))
    require.Error(t, err)

    _, err = Load(writeConfig(t, `
ingest:
  enabled: true
  rotation_enabled: false
  default_provider: ""
`))
    require.Error(t, err)
}

func TestDescriptors_MapsProviderBlock(t *testing.T) {
    cfg, err := Load(writeConfig(t, sampleYAML))
    require.NoError(t, err)

    descs := cfg.Descriptors()
    require.Len(t, descs, 2)
    require.Equal(t, "tushare", descs[0].ID)
    require.Equal(t, 30, descs[0].Priority)
    require.True(t, descs[0].Supports(provider.CapHistory))
    require.False(t, descs[0].Supports(provider.CapNews))
    require.Equal(t, []string{"cn"}, descs[0].MarketScopes)
    require.Equal(t, 60, descs[0].MaxCallsPerWindow)
    require.Equal(t, time.Hour, descs[0].WindowDuration)

    require.True(t, descs[1].Supports(provider.CapNews))
    require.Empty(t, descs[1].MarketScopes)
}

func TestSource_ReturnsSnapshotCopy(t *testing.T) {
    cfg, err := Load(writeConfig(t, sampleYAML))
    require.NoError(t, err)

    src := NewSource(cfg)
    a, err := src.ProviderConfigs(context.Background())
    require.NoError(t, err)
    a[0].Enabled = false

    b, err := src.ProviderConfigs(context.Background())
    require.NoError(t, err)
    require.True(t, b[0].Enabled, "callers get an isolated copy")
}
