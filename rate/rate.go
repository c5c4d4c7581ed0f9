package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope/state"
)

// Window is the length of a provider's rate window.
const Window = time.Minute

// MinuteWindow is the per-provider request counter for the current window.
type MinuteWindow struct {
	// Requests consumed since the window opened.
	Count int `json:"count"`

	// Time after which the window is replaced instead of incremented.
	ResetAt time.Time `json:"resetAt"`
}

// Limiter enforces per-minute request ceilings backed by a state.Store.
//
// It reads and writes without locking. Callers must guarantee that at most
// one TryConsume runs at a time for a given store, which the orchestrator's
// serializer does.
type Limiter struct {
	store  state.Store
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewLimiter(store state.Store, logger *zap.SugaredLogger) *Limiter {
	return NewLimiterWithClock(store, clock.New(), logger)
}

func NewLimiterWithClock(store state.Store, clk clock.Clock, logger *zap.SugaredLogger) *Limiter {
	return &Limiter{store: store, clock: clk, logger: logger}
}

// TryConsume returns true and counts the request if the provider still has
// room in its current window. An absent or expired window is replaced by a
// fresh one holding this request. When the ceiling is reached, it returns
// false without writing.
func (l *Limiter) TryConsume(ctx context.Context, provider string, limit int) (bool, error) {
	now := l.clock.Now()

	window, found, err := l.Window(ctx, provider)
	if err != nil {
		return false, err
	}

	if !found || now.After(window.ResetAt) {
		fresh := MinuteWindow{Count: 1, ResetAt: now.Add(Window)}
		if err := l.save(ctx, provider, fresh); err != nil {
			return false, err
		}
		return true, nil
	}

	if window.Count >= limit {
		l.logger.Debugw("Minute window exhausted", "provider", provider, "count", window.Count, "limit", limit, "reset_at", window.ResetAt)
		return false, nil
	}

	window.Count++
	if err := l.save(ctx, provider, window); err != nil {
		return false, err
	}
	return true, nil
}

// Window loads the provider's current window as stored.
func (l *Limiter) Window(ctx context.Context, provider string) (MinuteWindow, bool, error) {
	data, found, err := l.store.Get(ctx, state.RateKey(provider))
	if err != nil {
		return MinuteWindow{}, false, fmt.Errorf("failed to load rate window of %s: %w", provider, err)
	}
	if !found {
		return MinuteWindow{}, false, nil
	}

	var window MinuteWindow
	if err := json.Unmarshal(data, &window); err != nil {
		// A corrupt window is treated as absent and gets overwritten.
		l.logger.Warnw("Discarding unreadable rate window", "provider", provider, "error", err)
		return MinuteWindow{}, false, nil
	}
	return window, true, nil
}

func (l *Limiter) save(ctx context.Context, provider string, window MinuteWindow) error {
	data, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("failed to encode rate window: %w", err)
	}
	if err := l.store.Put(ctx, state.RateKey(provider), data); err != nil {
		return fmt.Errorf("failed to save rate window of %s: %w", provider, err)
	}
	return nil
}
