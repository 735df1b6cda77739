package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})

	return mr, client
}

func TestRateLimitByIP(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()

	middleware := NewRateLimit(rdb, RateLimitConfig{
		ByIP: RateBucket{
			RefillPerSec: 2,
			Burst:        3,
			TTL:          time.Minute,
		},
	})

	nextCalls := 0
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "192.168.1.100:12345"
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i)
	}
	assert.Equal(t, 3, nextCalls)

	// burst exhausted
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, 3, nextCalls, "next handler should not be called")
}

func TestRateLimitDifferentIPsIndependent(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()

	middleware := NewRateLimit(rdb, RateLimitConfig{
		ByIP: RateBucket{
			RefillPerSec: 1,
			Burst:        1,
			TTL:          time.Minute,
		},
	})

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("192.168.1.1:12345"))
	assert.Equal(t, http.StatusOK, send("192.168.1.2:12345"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.168.1.1:12345"))
}

func TestRateLimitXForwardedFor(t *testing.T) {
	mr, rdb := setupTestRedis(t)
	defer mr.Close()

	middleware := NewRateLimit(rdb, RateLimitConfig{
		ByIP: RateBucket{
			RefillPerSec: 1,
			Burst:        1,
			TTL:          time.Minute,
		},
	})

	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// the first hop of XFF identifies the client, not the proxy addr
	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1, 203.0.113.2"))
	assert.Equal(t, http.StatusOK, send("203.0.113.9"))
}

func TestRateLimitFailsOpenOnRedisError(t *testing.T) {
	mr, rdb := setupTestRedis(t)

	middleware := NewRateLimit(rdb, RateLimitConfig{
		ByIP: RateBucket{
			RefillPerSec: 1,
			Burst:        1,
			TTL:          time.Minute,
		},
	})

	nextCalled := false
	handler := middleware.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = "192.168.1.100:12345"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.True(t, nextCalled, "should allow request when Redis fails")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	testCases := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expected   string
	}{
		{
			name:       "remote_addr_with_port",
			remoteAddr: "192.168.1.100:12345",
			expected:   "192.168.1.100",
		},
		{
			name:       "x_forwarded_for_single",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			expected:   "203.0.113.1",
		},
		{
			name:       "x_forwarded_for_chain",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 203.0.113.2"},
			expected:   "203.0.113.1",
		},
		{
			name:       "x_real_ip",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": "203.0.113.50"},
			expected:   "203.0.113.50",
		},
		{
			name:       "remote_addr_without_port",
			remoteAddr: "192.168.1.100",
			expected:   "192.168.1.100",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.RemoteAddr = tc.remoteAddr
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tc.expected, clientIP(req))
		})
	}
}
