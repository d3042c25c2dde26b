// Package ratelimit bounds per-client request rates. Analysis requests
// are expensive (OCR and sampling-based explainers), so the default
// budget is deliberately small.
package ratelimit

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/pkg/logger"
)

type window struct {
	count int
	start time.Time
}

type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	limit    int
	interval time.Duration
}

type Config struct {
	// RequestsPerWindow is the budget per client per interval.
	RequestsPerWindow int
	Interval          time.Duration
}

func New(cfg Config) *Limiter {
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 30
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	l := &Limiter{
		windows:  make(map[string]*window),
		limit:    cfg.RequestsPerWindow,
		interval: cfg.Interval,
	}
	go l.sweep()
	return l
}

// Middleware enforces the limit keyed by user id when the client sends
// one, falling back to the source IP.
func (l *Limiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-User-ID")
		if key == "" {
			key = c.IP()
		}

		if !l.allow(key) {
			logger.Warn("Rate limit exceeded", zap.String("client", key))
			c.Set("Retry-After", l.interval.String())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests",
			})
		}
		return c.Next()
	}
}

func (l *Limiter) allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.interval {
		l.windows[key] = &window{count: 1, start: now}
		return true
	}
	if w.count >= l.limit {
		return false
	}
	w.count++
	return true
}

// sweep drops idle windows so the map does not grow with client churn.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-2 * l.interval)
		l.mu.Lock()
		for key, w := range l.windows {
			if w.start.Before(cutoff) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}
