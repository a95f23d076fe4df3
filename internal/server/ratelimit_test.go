package server

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/watzon/vine/internal/config"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 3})
	defer rl.Stop()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i+1)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")

	now = now.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 5, Burst: 5})
	defer rl.Stop()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	now = now.Add(limiterIdleTTL / 2)
	rl.Allow("b")
	assert.Equal(t, 2, rl.Clients())

	now = now.Add(limiterIdleTTL/2 + time.Second)
	rl.evictIdle()
	assert.Equal(t, 1, rl.Clients())
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 50})
	defer rl.Stop()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Middleware(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, TrustProxy: true})
	defer rl.Stop()

	do := limitedRequester(rl)

	assert.Equal(t, http.StatusOK, do("192.0.2.1:4000", ""))
	assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.1:4001", ""), "port must not split the bucket")
	assert.Equal(t, http.StatusOK, do("192.0.2.1:4002", "203.0.113.9, 192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.7:4002", "203.0.113.9"))
}

func TestRateLimiter_IgnoresForwardedHeadersByDefault(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})
	defer rl.Stop()

	do := limitedRequester(rl)

	assert.Equal(t, http.StatusOK, do("192.0.2.1:4000", "203.0.113.1"))
	for _, spoofed := range []string{"203.0.113.2", "203.0.113.3, 10.0.0.1", "198.51.100.9"} {
		assert.Equal(t, http.StatusTooManyRequests, do("192.0.2.1:4000", spoofed), spoofed)
	}
	assert.Equal(t, http.StatusOK, do("192.0.2.7:4000", "203.0.113.1"))
}

// limitedRequester sends a POST through rl from remote, optionally with an
// X-Forwarded-For header, and returns the status code.
func limitedRequester(rl *RateLimiter) func(remote, forwarded string) int {
	handler := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	return func(remote, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scheduler/start", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(req, true))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(req, true))
	assert.Equal(t, "192.0.2.1", clientIP(req, false))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req, true))
	assert.Equal(t, "192.0.2.1", clientIP(req, false))
}
