package cache

import (
    "context"
    "encoding/json"
    "time"

    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

// redisEnvelope wraps a payload with its fetch time so freshness can still be
// evaluated per caller at lookup time.
type redisEnvelope struct {
    FetchedAt int64           `json:"fetched_at"` // unix nanos
    Payload   json.RawMessage `json:"payload"`
}

// Redis backs the cache with a shared Redis instance so multiple processes
// see the same entries. Keys carry a hard server-side TTL only to bound
// growth; the caller's maxAge still decides freshness at read time.
type Redis struct {
    client *redis.Client
    log    *zap.Logger
    prefix string
    // HardTTL is the server-side expiry applied on store.
    HardTTL time.Duration

    now func() time.Time
}

func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
    if log == nil {
        log = zap.NewNop()
    }
    return &Redis{
        client:  client,
        log:     log,
        prefix:  "quotehub:cache:",
        HardTTL: 24 * time.Hour,
        now:     time.Now,
    }
}

// Ping checks the connection to the Redis server.
func (r *Redis) Ping(ctx context.Context) error {
    return r.client.Ping(ctx).Err()
}

func (r *Redis) Lookup(ctx context.Context, key string, maxAge time.Duration) ([]byte, bool) {
    if maxAge <= 0 {
        return nil, false
    }
    raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
    if err != nil {
        if err != redis.Nil {
            r.log.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
        }
        return nil, false
    }
    var env redisEnvelope
    if err := json.Unmarshal(raw, &env); err != nil {
        r.log.Warn("cache entry corrupt, ignoring", zap.String("key", key), zap.Error(err))
        return nil, false
    }
    if r.now().Sub(time.Unix(0, env.FetchedAt)) >= maxAge {
        return nil, false
    }
    return env.Payload, true
}

func (r *Redis) Store(ctx context.Context, key string, payload []byte) {
    if key == "" || len(payload) == 0 {
        return
    }
    raw, err := json.Marshal(redisEnvelope{FetchedAt: r.now().UnixNano(), Payload: payload})
    if err != nil {
        return
    }
    if err := r.client.Set(ctx, r.prefix+key, raw, r.HardTTL).Err(); err != nil {
        // Best effort: a failed store must never block the main path.
        r.log.Warn("cache store failed", zap.String("key", key), zap.Error(err))
    }
}
