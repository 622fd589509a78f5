package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/metrics"
)

type bucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiter is a per-client token bucket. Idle buckets are swept lazily
// on the request path so no goroutine outlives the limiter.
type RateLimiter struct {
	buckets    map[string]*bucket
	mu         sync.Mutex
	maxTokens  int
	refillRate time.Duration
	idleTTL    time.Duration
	lastSweep  time.Time
	now        func() time.Time
	keyFunc    func(c *fiber.Ctx) string
	logger     *zap.Logger
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc func(c *fiber.Ctx) string
	Logger  *zap.Logger
	Now     func() time.Time
}

func New(cfg Config) *RateLimiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *fiber.Ctx) string { return c.IP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &RateLimiter{
		buckets:    make(map[string]*bucket),
		maxTokens:  cfg.MaxRequestsPerMinute,
		refillRate: cfg.WindowDuration / time.Duration(cfg.MaxRequestsPerMinute),
		idleTTL:    10 * cfg.WindowDuration,
		lastSweep:  cfg.Now(),
		now:        cfg.Now,
		keyFunc:    cfg.KeyFunc,
		logger:     cfg.Logger,
	}
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := rl.keyFunc(c)

		if !rl.Allow(key) {
			metrics.RateLimited.Inc()
			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", c.Path()),
			)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(rl.refillRate.Seconds()+0.5)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) > rl.idleTTL {
		rl.sweep(now)
	}
	b, exists := rl.buckets[key]
	if !exists {
		b = &bucket{tokens: rl.maxTokens, lastRefill: now}
		rl.buckets[key] = b
	}
	rl.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if added := int(now.Sub(b.lastRefill) / rl.refillRate); added > 0 {
		b.tokens = min(rl.maxTokens, b.tokens+added)
		b.lastRefill = b.lastRefill.Add(time.Duration(added) * rl.refillRate)
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Len reports the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// sweep must be called with rl.mu held.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > rl.idleTTL {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
	rl.lastSweep = now
}
