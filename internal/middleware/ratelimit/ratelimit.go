package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter throttles the endpoints that spend LLM tokens or CPU per call
// (labeling, retraining). Limits are per client IP.
type RateLimiter struct {
	clients *lru.Cache[string, *rate.Limiter]
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	perMin  int
	logger  *zap.Logger
}

type Config struct {
	MaxRequestsPerMinute int
	Burst                int
	// MaxClients bounds memory; the least recently seen client is forgotten.
	MaxClients int
	Logger     *zap.Logger
}

func New(cfg Config) (*RateLimiter, error) {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.MaxRequestsPerMinute
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 10000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	clients, err := lru.New[string, *rate.Limiter](cfg.MaxClients)
	if err != nil {
		return nil, err
	}

	return &RateLimiter{
		clients: clients,
		limit:   rate.Every(time.Minute / time.Duration(cfg.MaxRequestsPerMinute)),
		burst:   cfg.Burst,
		perMin:  cfg.MaxRequestsPerMinute,
		logger:  cfg.Logger,
	}, nil
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.IP()

		if !rl.limiter(key).Allow() {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("ip", key),
				zap.String("path", c.Path()),
			)
			c.Set("X-RateLimit-Limit", strconv.Itoa(rl.perMin))
			c.Set("Retry-After", "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"message": "Rate limit exceeded. Please try again later.",
			})
		}

		return c.Next()
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if l, ok := rl.clients.Get(key); ok {
		return l
	}
	l := rate.NewLimiter(rl.limit, rl.burst)
	rl.clients.Add(key, l)
	return l
}
