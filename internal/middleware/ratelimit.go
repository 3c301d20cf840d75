package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/multibuzz/attribution-engine/internal/config"
	"github.com/multibuzz/attribution-engine/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware limits requests per API key. With Redis available it
// uses a fixed window (INCR + EXPIRE) shared across instances; without it
// each instance falls back to a local token bucket per key.
type RateLimitMiddleware struct {
	cfg     config.RateLimitConfig
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	keyLimiters map[string]*rate.Limiter
}

// NewRateLimitMiddleware creates the rate limiter. client may be nil.
func NewRateLimitMiddleware(cfg config.RateLimitConfig, client *redis.Client, logger *zap.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		cfg:         cfg,
		client:      client,
		logger:      logger,
		keyLimiters: make(map[string]*rate.Limiter),
	}
}

func (rl *RateLimitMiddleware) SetMetrics(m *metrics.Metrics) {
	rl.metrics = m
}

func (rl *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		account, ok := AccountFromContext(r.Context())
		if !ok {
			// Unauthenticated paths are not rate limited per key.
			next.ServeHTTP(w, r)
			return
		}

		if !rl.allow(r.Context(), account.APIKey) {
			rl.logger.Warn("rate limit exceeded",
				zap.String("account_id", account.ID),
				zap.String("path", r.URL.Path),
			)
			rl.metrics.RecordRateLimitHit(r.URL.Path)
			rl.tooManyRequests(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimitMiddleware) allow(ctx context.Context, apiKey string) bool {
	if rl.client != nil {
		allowed, err := rl.allowRedis(ctx, apiKey)
		if err == nil {
			return allowed
		}
		rl.logger.Warn("redis rate limit check failed, using local limiter", zap.Error(err))
	}
	return rl.keyLimiter(apiKey).Allow()
}

// allowRedis counts requests in fixed windows keyed by (api key, window
// start). The first hit of a window sets the key's expiry.
func (rl *RateLimitMiddleware) allowRedis(ctx context.Context, apiKey string) (bool, error) {
	window := time.Now().Unix() / int64(rl.cfg.Window.Seconds())
	key := fmt.Sprintf("ratelimit:%s:%d", apiKey, window)

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		rl.client.Expire(ctx, key, rl.cfg.Window+time.Second)
	}
	return count <= int64(rl.cfg.WindowRequests), nil
}

func (rl *RateLimitMiddleware) keyLimiter(apiKey string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.keyLimiters[apiKey]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists = rl.keyLimiters[apiKey]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)
	rl.keyLimiters[apiKey] = limiter
	return limiter
}

func (rl *RateLimitMiddleware) tooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

// CleanupKeyLimiters drops the local limiter map so idle keys do not
// accumulate. Called periodically from the server loop.
func (rl *RateLimitMiddleware) CleanupKeyLimiters() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.keyLimiters = make(map[string]*rate.Limiter)
	rl.logger.Debug("cleaned up rate limiters")
}
