package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope/state"
)

// Longest error message kept in a usage record.
const MaxErrorMessageLength = 200

// Record accumulates one provider's activity for one UTC date. Counters only
// grow within a day; a new date starts a new record.
type Record struct {
	// Successful provider calls.
	Requests int64 `json:"requests"`

	// Tokens reported by successful calls.
	Tokens int64 `json:"tokens"`

	// Failed provider calls.
	Errors int64 `json:"errors"`

	// Sum of successful call latencies in milliseconds.
	LatencySum int64 `json:"latencySum"`

	// Failovers that preceded successful calls to this provider.
	Failovers int64 `json:"failovers"`

	// Most recent failure of the day.
	LastError *LastError `json:"lastError,omitempty"`
}

type LastError struct {
	Time    time.Time `json:"time"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// AverageLatency returns the mean latency of successful calls in
// milliseconds, or zero when there were none.
func (r *Record) AverageLatency() int64 {
	if r.Requests == 0 {
		return 0
	}
	return r.LatencySum / r.Requests
}

// Recorder reads and updates usage records in a state.Store. Updates are
// read-modify-write without locking and must be serialized by the caller.
type Recorder struct {
	store  state.Store
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewRecorder(store state.Store, logger *zap.SugaredLogger) *Recorder {
	return NewRecorderWithClock(store, clock.New(), logger)
}

func NewRecorderWithClock(store state.Store, clk clock.Clock, logger *zap.SugaredLogger) *Recorder {
	return &Recorder{store: store, clock: clk, logger: logger}
}

// Get returns the provider's record for the date, zero-valued if absent.
func (r *Recorder) Get(ctx context.Context, provider string, date string) (*Record, error) {
	data, found, err := r.store.Get(ctx, state.UsageKey(provider, date))
	if err != nil {
		return nil, fmt.Errorf("failed to load usage of %s on %s: %w", provider, date, err)
	}
	record := &Record{}
	if !found {
		return record, nil
	}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode usage of %s on %s: %w", provider, date, err)
	}
	return record, nil
}

func (r *Recorder) RecordSuccess(ctx context.Context, provider string, date string, tokens int, latencyMs int64, failovers int) error {
	return r.update(ctx, provider, date, func(record *Record) {
		record.Requests++
		record.Tokens += int64(tokens)
		record.LatencySum += latencyMs
		record.Failovers += int64(failovers)
	})
}

func (r *Recorder) RecordFailure(ctx context.Context, provider string, date string, code string, message string) error {
	r.logger.Debugw("Recording provider failure", "provider", provider, "date", date, "code", code)
	return r.update(ctx, provider, date, func(record *Record) {
		record.Errors++
		record.LastError = &LastError{
			Time:    r.clock.Now().UTC(),
			Code:    code,
			Message: Truncate(message, MaxErrorMessageLength),
		}
	})
}

// Summary returns the records of the given providers for one date, keyed by
// provider name.
func (r *Recorder) Summary(ctx context.Context, providers []string, date string) (map[string]*Record, error) {
	summary := make(map[string]*Record, len(providers))
	for _, provider := range providers {
		record, err := r.Get(ctx, provider, date)
		if err != nil {
			return nil, err
		}
		summary[provider] = record
	}
	return summary, nil
}

func (r *Recorder) update(ctx context.Context, provider string, date string, apply func(*Record)) error {
	record, err := r.Get(ctx, provider, date)
	if err != nil {
		return err
	}
	apply(record)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode usage: %w", err)
	}
	if err := r.store.Put(ctx, state.UsageKey(provider, date), data); err != nil {
		return fmt.Errorf("failed to save usage of %s on %s: %w", provider, date, err)
	}
	return nil
}

// Truncate cuts s to at most limit characters.
func Truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
