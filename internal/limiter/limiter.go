package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/xscopehub/modelmcp/internal/config"
)

// ErrRateLimited indicates a client exceeded its request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter enforces per-client limits using local token buckets and an
// optional Redis sliding window shared between replicas.
type Limiter struct {
	enabled bool

	perMinute int
	burst     int
	window    time.Duration

	localMu    sync.Mutex
	local      map[string]*bucket
	maxClients int
	now        func() time.Time

	redis redis.UniversalClient
}

// Config contains parameters for limiter construction.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	Window            time.Duration
	MaxClients        int
	Redis             redis.UniversalClient
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// New creates a Limiter from the supplied configuration.
func New(cfg Config) *Limiter {
	if !cfg.Enabled {
		return &Limiter{enabled: false}
	}

	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute / 6
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}

	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}

	return &Limiter{
		enabled:    true,
		perMinute:  cfg.RequestsPerMinute,
		burst:      cfg.Burst,
		window:     cfg.Window,
		local:      make(map[string]*bucket),
		maxClients: cfg.MaxClients,
		now:        time.Now,
		redis:      cfg.Redis,
	}
}

// Allow verifies whether the client may perform the next request.
func (l *Limiter) Allow(ctx context.Context, client string) error {
	if l == nil || !l.enabled || client == "" {
		return nil
	}

	if !l.allowLocal(client) {
		return ErrRateLimited
	}

	if l.redis != nil {
		allowed, err := l.allowRedis(ctx, client)
		if err != nil {
			return err
		}
		if !allowed {
			return ErrRateLimited
		}
	}

	return nil
}

func (l *Limiter) allowLocal(client string) bool {
	l.localMu.Lock()
	defer l.localMu.Unlock()
	now := l.now()
	b := l.local[client]
	if b == nil {
		if len(l.local) >= l.maxClients {
			l.evictLocked(now)
		}
		limit := rate.Inf
		if l.perMinute > 0 {
			limit = rate.Every(time.Minute / time.Duration(l.perMinute))
		}
		b = &bucket{limiter: rate.NewLimiter(limit, l.burst)}
		l.local[client] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// evictLocked makes room for a new client. Buckets that have refilled are
// indistinguishable from new ones and are dropped first; otherwise the least
// recently seen client goes.
func (l *Limiter) evictLocked(now time.Time) {
	var (
		oldest     string
		oldestSeen time.Time
	)
	for client, b := range l.local {
		if b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.local, client)
			continue
		}
		if oldest == "" || b.seen.Before(oldestSeen) {
			oldest, oldestSeen = client, b.seen
		}
	}
	if len(l.local) >= l.maxClients && oldest != "" {
		delete(l.local, oldest)
	}
}

var redisScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return 0
end
redis.call('ZADD', key, now, now)
redis.call('PEXPIRE', key, window)
return 1
`)

func (l *Limiter) allowRedis(ctx context.Context, client string) (bool, error) {
	limit := l.perMinute
	if limit <= 0 {
		return true, nil
	}

	now := time.Now().UnixMilli()
	window := l.window.Milliseconds()
	if window <= 0 {
		window = time.Minute.Milliseconds()
	}

	res, err := redisScript.Run(ctx, l.redis, []string{"modelmcp:rate:" + client}, now, window, limit).Int()
	if err != nil {
		return false, fmt.Errorf("redis rate window: %w", err)
	}

	return res == 1, nil
}

// BuildRedisClient connects to the shared window store when one is configured.
// It returns nil when the limiter is disabled or no address is set.
func BuildRedisClient(ctx context.Context, cfg config.RateLimiterConfig) (redis.UniversalClient, error) {
	if !cfg.Enabled || cfg.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
