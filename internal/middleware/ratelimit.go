package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/config"
	"github.com/jag18729/guard-quote-sub000/internal/monitoring"
)

// Tier selects the per-route rate limit bucket
type Tier string

const (
	TierStandard Tier = "standard"
	TierAuth     Tier = "auth"
	TierPricing  Tier = "pricing"
	TierAdmin    Tier = "admin"
)

// Counter store operations must stay short; pricing availability takes
// precedence over strict enforcement when Redis is slow or down.
const counterTimeout = 500 * time.Millisecond

// RateLimiter implements sliding-window admission control backed by a
// shared Redis counter store. On store unavailability it fails open
// and marks the response as degraded. Repeated violations escalate to
// a temporary full block of the client identifier.
type RateLimiter struct {
	rdb    *redis.Client
	cfg    config.RateLimitConfig
	logger *zap.Logger

	mu           sync.Mutex
	violations   map[string]int
	blockedUntil map[string]time.Time

	now func() time.Time
}

// NewRateLimiter creates the admission controller
func NewRateLimiter(rdb *redis.Client, cfg config.RateLimitConfig, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:          rdb,
		cfg:          cfg,
		logger:       logger,
		violations:   make(map[string]int),
		blockedUntil: make(map[string]time.Time),
		now:          time.Now,
	}
}

func (l *RateLimiter) limitFor(tier Tier) int {
	switch tier {
	case TierAuth:
		return l.cfg.AuthLimit
	case TierPricing:
		return l.cfg.PricingLimit
	case TierAdmin:
		return l.cfg.AdminLimit
	default:
		return l.cfg.StandardLimit
	}
}

// Limit returns gin middleware enforcing the tier's window limit
func (l *RateLimiter) Limit(tier Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.cfg.Enabled {
			c.Next()
			return
		}

		id := ClientIdentifier(c)

		if until, blocked := l.isBlocked(id); blocked {
			c.Header("Retry-After", strconv.Itoa(int(time.Until(until).Seconds())+1))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "client temporarily blocked",
				"code":  "IP_BLOCKED",
			})
			return
		}

		windowSec := l.cfg.WindowSec
		limit := l.limitFor(tier)
		window := int64(windowSec)
		bucket := l.now().Unix() / window
		key := fmt.Sprintf("rl:%s:%s:%d", tier, id, bucket)

		ctx, cancel := context.WithTimeout(c.Request.Context(), counterTimeout)
		defer cancel()

		count, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			// Counter store down: allow the request, flag degradation.
			c.Header("X-RateLimit-Status", "disabled")
			l.logger.Warn("rate limit counter store unavailable, failing open",
				zap.String("tier", string(tier)), zap.Error(err))
			c.Next()
			return
		}
		if count == 1 {
			if err := l.rdb.Expire(ctx, key, time.Duration(windowSec)*time.Second).Err(); err != nil {
				l.logger.Warn("failed to set rate limit window expiry", zap.Error(err))
			}
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		reset := (bucket + 1) * window
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if count > int64(limit) {
			monitoring.RateLimitRejections.WithLabelValues(string(tier)).Inc()
			l.recordViolation(id)
			c.Header("Retry-After", strconv.Itoa(windowSec))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too many requests",
				"code":       "RATE_LIMIT_EXCEEDED",
				"retryAfter": windowSec,
			})
			return
		}

		c.Next()
	}
}

func (l *RateLimiter) isBlocked(id string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.blockedUntil[id]
	if !ok {
		return time.Time{}, false
	}
	if l.now().After(until) {
		delete(l.blockedUntil, id)
		delete(l.violations, id)
		return time.Time{}, false
	}
	return until, true
}

func (l *RateLimiter) recordViolation(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.violations[id]++
	if l.violations[id] >= l.cfg.ViolationThreshold {
		until := l.now().Add(time.Duration(l.cfg.BlockDurationSec) * time.Second)
		l.blockedUntil[id] = until
		l.logger.Warn("client blocked for repeated rate limit violations",
			zap.String("client", id),
			zap.Time("until", until))
	}
}

// ClientIdentifier derives the rate limit identity from the trusted
// forwarded-for header set by the edge proxy. Requests without one
// share a fixed bucket.
func ClientIdentifier(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return "unknown"
}
