package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"uploadhook/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitKeyPrefix = "uploadhook:ratelimit:"

// tokenBucketScript refills KEYS[1] at ARGV[1] tokens/s up to ARGV[2] and
// takes ARGV[4] tokens at time ARGV[3]. KEYS[2] holds the last refill time.
// Returns {allowed, remaining, reset_after_seconds}.
var tokenBucketScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = math.ceil(capacity / rate * 2)

local tokens = tonumber(redis.call("get", KEYS[1])) or capacity
local last = tonumber(redis.call("get", KEYS[2])) or now
tokens = math.min(capacity, tokens + math.max(0, now - last) * rate)

if tokens < requested then
    return { 0, tostring(tokens), tostring((requested - tokens) / rate) }
end

tokens = tokens - requested
redis.call("set", KEYS[1], tokens, "EX", ttl)
redis.call("set", KEYS[2], now, "EX", ttl)
return { 1, tostring(tokens), "0" }
`)

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// fallbackLimiter is the per-client in-memory limiter used while Redis is unreachable.
type fallbackLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	rps     rate.Limit
	burst   int
	sweptAt time.Time
}

func newFallbackLimiter(rps, burst int) *fallbackLimiter {
	return &fallbackLimiter{
		buckets: make(map[string]*localBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		sweptAt: time.Now(),
	}
}

func (f *fallbackLimiter) get(key string) *rate.Limiter {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.sweptAt) > 10*time.Minute {
		for k, b := range f.buckets {
			if now.Sub(b.lastSeen) > 10*time.Minute {
				delete(f.buckets, k)
			}
		}
		f.sweptAt = now
	}

	b, ok := f.buckets[key]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(f.rps, f.burst)}
		f.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// RateLimitMiddleware enforces a per-client token bucket in Redis and falls
// back to an in-memory bucket when Redis fails.
func RateLimitMiddleware(rdb redis.Scripter, requestsPerSecond int) gin.HandlerFunc {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	burst := requestsPerSecond
	limit := strconv.Itoa(requestsPerSecond)
	fallback := newFallbackLimiter(requestsPerSecond, burst)

	tooMany := func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too Many Requests"})
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		prefix := rateLimitKeyPrefix + clientIP
		now := float64(time.Now().UnixMicro()) / 1e6
		c.Header("X-RateLimit-Limit", limit)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 100*time.Millisecond)
		defer cancel()
		result, err := tokenBucketScript.Run(ctx, rdb,
			[]string{prefix + ":tokens", prefix + ":ts"},
			requestsPerSecond, burst, now, 1).Slice()

		if err != nil {
			logger.Warn("redis rate limit failed, using local fallback", zap.Error(err), zap.String("ip", clientIP))
			l := fallback.get(clientIP)
			if !l.Allow() {
				c.Header("X-RateLimit-Remaining", "0")
				c.Header("X-RateLimit-Reset", "1")
				tooMany(c)
				return
			}
			c.Header("X-RateLimit-Remaining", strconv.Itoa(int(l.Tokens())))
			c.Next()
			return
		}
		if len(result) != 3 {
			logger.Error("unexpected rate limit reply", zap.Any("reply", result))
			c.Next()
			return
		}

		remaining := toFloat(result[1])
		resetAt := time.Now().Add(time.Duration(toFloat(result[2]) * float64(time.Second)))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(remaining)))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if toFloat(result[0]) != 1 {
			tooMany(c)
			return
		}
		c.Next()
	}
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case int64:
		return float64(val)
	case float64:
		return val
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	default:
		return 0
	}
}
