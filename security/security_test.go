package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newLimiter(t *testing.T, limit int) (*ClientRateLimiter, *clock.Mock) {
	mockClock := clock.NewMock()
	mockClock.Set(time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC))
	return NewClientRateLimiterWithClock(limit, time.Minute, mockClock, zaptest.NewLogger(t).Sugar()), mockClock
}

func TestClientRateLimiter_Allow(t *testing.T) {
	limiter, mockClock := newLimiter(t, 2)

	allowed, resetAt := limiter.Allow("1.1.1.1")
	assert.True(t, allowed)
	assert.Equal(t, mockClock.Now().Add(time.Minute), resetAt)

	allowed, _ = limiter.Allow("1.1.1.1")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("1.1.1.1")
	assert.False(t, allowed)

	// Other clients have their own window.
	allowed, _ = limiter.Allow("2.2.2.2")
	assert.True(t, allowed)

	// Still within the window at exactly ResetAt.
	mockClock.Add(time.Minute)
	allowed, _ = limiter.Allow("1.1.1.1")
	assert.False(t, allowed)

	mockClock.Add(time.Millisecond)
	allowed, _ = limiter.Allow("1.1.1.1")
	assert.True(t, allowed)
}

func TestClientRateLimiter_Prune(t *testing.T) {
	limiter, mockClock := newLimiter(t, 1)

	limiter.Allow("1.1.1.1")
	mockClock.Add(30 * time.Second)
	limiter.Allow("2.2.2.2")
	require.Equal(t, 2, limiter.Len())

	mockClock.Add(31 * time.Second)
	assert.Equal(t, 1, limiter.Prune())
	assert.Equal(t, 1, limiter.Len())
}

func TestClientRateLimiter_Run(t *testing.T) {
	limiter, mockClock := newLimiter(t, 1)
	limiter.Allow("1.1.1.1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		limiter.Run(ctx, time.Minute)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mockClock.Add(time.Minute)
		return limiter.Len() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestClientRateLimiter_Middleware(t *testing.T) {
	limiter, _ := newLimiter(t, 1)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	request := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/interpret", nil)
		req.Header.Set("CF-Connecting-IP", "9.9.9.9")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, request().Code)

	rec := request()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "61", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"RATE_LIMIT"`)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{name: "cloudflare header", headers: map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, want: "1.1.1.1"},
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1"}, want: "2.2.2.2"},
		{name: "socket address", remoteAddr: "3.3.3.3:1234", want: "3.3.3.3"},
		{name: "unknown", remoteAddr: "", want: "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for name, value := range tt.headers {
				req.Header.Set(name, value)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestHeaders(t *testing.T) {
	handler := Headers(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
}
