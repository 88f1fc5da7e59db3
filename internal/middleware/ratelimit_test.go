package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jag18729/guard-quote-sub000/internal/config"
)

func limiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:            true,
		WindowSec:          60,
		StandardLimit:      100,
		AuthLimit:          10,
		PricingLimit:       5,
		AdminLimit:         200,
		ViolationThreshold: 3,
		BlockDurationSec:   3600,
	}
}

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRateLimiter(rdb, cfg, zap.NewNop()), mr
}

func limitedRouter(l *RateLimiter, tier Tier) *gin.Engine {
	router := gin.New()
	router.GET("/probe", l.Limit(tier), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doRequest(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	if ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}
	router.ServeHTTP(w, req)
	return w
}

// pinClock fixes the limiter's bucket clock so a test can never
// straddle a window boundary.
func pinClock(l *RateLimiter) time.Time {
	base := time.Now()
	l.now = func() time.Time { return base }
	return base
}

func TestLimit_BoundaryAtTierLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, limiterConfig())
	pinClock(limiter)
	router := limitedRouter(limiter, TierPricing)

	for i := 1; i <= 5; i++ {
		w := doRequest(router, "203.0.113.9")
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i)
		assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	}

	w := doRequest(router, "203.0.113.9")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestLimit_RemainingCountsDown(t *testing.T) {
	limiter, _ := newTestLimiter(t, limiterConfig())
	pinClock(limiter)
	router := limitedRouter(limiter, TierPricing)

	w := doRequest(router, "203.0.113.1")
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Remaining"))
	w = doRequest(router, "203.0.113.1")
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Remaining"))
}

func TestLimit_IdentifiersAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, limiterConfig())
	pinClock(limiter)
	router := limitedRouter(limiter, TierPricing)

	for i := 0; i < 6; i++ {
		doRequest(router, "203.0.113.9")
	}
	w := doRequest(router, "203.0.113.10")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimit_WindowExpiryResets(t *testing.T) {
	limiter, mr := newTestLimiter(t, limiterConfig())
	router := limitedRouter(limiter, TierPricing)

	base := pinClock(limiter)

	for i := 0; i < 6; i++ {
		doRequest(router, "203.0.113.9")
	}
	require.Equal(t, http.StatusTooManyRequests, doRequest(router, "203.0.113.9").Code)

	// advance past the window: new bucket key, counter starts fresh
	limiter.now = func() time.Time { return base.Add(61 * time.Second) }
	mr.FastForward(61 * time.Second)

	w := doRequest(router, "203.0.113.9")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLimit_FailsOpenWhenStoreDown(t *testing.T) {
	limiter, mr := newTestLimiter(t, limiterConfig())
	router := limitedRouter(limiter, TierPricing)
	mr.Close()

	for i := 0; i < 20; i++ {
		w := doRequest(router, "203.0.113.9")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "disabled", w.Header().Get("X-RateLimit-Status"))
	}
}

func TestLimit_DisabledSkipsEnforcement(t *testing.T) {
	cfg := limiterConfig()
	cfg.Enabled = false
	limiter, _ := newTestLimiter(t, cfg)
	router := limitedRouter(limiter, TierPricing)

	for i := 0; i < 20; i++ {
		w := doRequest(router, "203.0.113.9")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestLimit_RepeatedViolationsEscalateToBlock(t *testing.T) {
	limiter, _ := newTestLimiter(t, limiterConfig())
	pinClock(limiter)
	router := limitedRouter(limiter, TierPricing)

	// 5 allowed, then 3 violations reach the threshold
	for i := 0; i < 8; i++ {
		doRequest(router, "203.0.113.9")
	}

	w := doRequest(router, "203.0.113.9")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "IP_BLOCKED")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestLimit_BlockExpires(t *testing.T) {
	limiter, mr := newTestLimiter(t, limiterConfig())
	router := limitedRouter(limiter, TierPricing)

	base := pinClock(limiter)

	for i := 0; i < 9; i++ {
		doRequest(router, "203.0.113.9")
	}
	require.Equal(t, http.StatusForbidden, doRequest(router, "203.0.113.9").Code)

	limiter.now = func() time.Time { return base.Add(3601 * time.Second) }
	mr.FastForward(3601 * time.Second)

	w := doRequest(router, "203.0.113.9")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIdentifier(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "198.51.100.7"}, "198.51.100.7"},
		{"forwarded chain takes first hop", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "198.51.100.7", "X-Real-IP": "198.51.100.8"}, "198.51.100.7"},
		{"no headers", nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIdentifier(c))
		})
	}
}
