package security

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// RateLimitState is a fixed window of requests from one client.
type RateLimitState struct {
	Count   int
	ResetAt time.Time
}

// ClientRateLimiter limits requests per client IP in fixed windows. The state
// lives in process memory and is separate from the provider quota store.
type ClientRateLimiter struct {
	limit  int
	window time.Duration
	states map[string]*RateLimitState
	clock  clock.Clock
	logger *zap.SugaredLogger
	mutex  sync.Mutex
}

func NewClientRateLimiter(limit int, window time.Duration, logger *zap.SugaredLogger) *ClientRateLimiter {
	return NewClientRateLimiterWithClock(limit, window, clock.New(), logger)
}

func NewClientRateLimiterWithClock(limit int, window time.Duration, clock clock.Clock, logger *zap.SugaredLogger) *ClientRateLimiter {
	return &ClientRateLimiter{
		limit:  limit,
		window: window,
		states: make(map[string]*RateLimitState),
		clock:  clock,
		logger: logger,
	}
}

// Allow counts a request from the client and reports whether it is within the
// limit. The window starts at the first request and expires strictly after
// ResetAt.
func (r *ClientRateLimiter) Allow(client string) (bool, time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.clock.Now()
	state, ok := r.states[client]
	if !ok || now.After(state.ResetAt) {
		state = &RateLimitState{Count: 1, ResetAt: now.Add(r.window)}
		r.states[client] = state
		return true, state.ResetAt
	}
	if state.Count >= r.limit {
		return false, state.ResetAt
	}
	state.Count++
	return true, state.ResetAt
}

// Prune drops expired windows and returns how many were removed.
func (r *ClientRateLimiter) Prune() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.clock.Now()
	removed := 0
	for client, state := range r.states {
		if now.After(state.ResetAt) {
			delete(r.states, client)
			removed++
		}
	}
	return removed
}

// Run prunes expired windows periodically until ctx is done.
func (r *ClientRateLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := r.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Prune(); removed > 0 {
				r.logger.Debugw("Pruned client rate limit windows", "removed", removed)
			}
		}
	}
}

func (r *ClientRateLimiter) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.states)
}

// Middleware answers 429 once the client exceeds the limit.
func (r *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		client := ClientIP(req)
		allowed, resetAt := r.Allow(client)
		if !allowed {
			r.logger.Infow("Client rate limit exceeded", "client", client)
			retryAfter := int(resetAt.Sub(r.clock.Now()).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "Too many requests",
				"code":    "RATE_LIMIT",
				"details": "AI limit: " + strconv.Itoa(r.limit) + " req/min",
			})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// ClientIP identifies the caller, preferring proxy headers over the socket
// address. Unknown callers share one bucket.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
