package testutils

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Noon on the last day of January, a few hours before a UTC day boundary
// that tests can cross with the mock clock.
var ReferenceTime = time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

// TestSugaredLogger creates a sugared test logger
func TestSugaredLogger(t *testing.T) *zap.SugaredLogger {
	return zaptest.NewLogger(t).Sugar()
}

// NewMockClock returns a mock clock set to ReferenceTime.
func NewMockClock() *clock.Mock {
	mockClock := clock.NewMock()
	mockClock.Set(ReferenceTime)
	return mockClock
}

// Reply is one scripted answer of a ChatCompletionServer.
type Reply struct {
	// Zero means 200.
	StatusCode int

	Content     string
	TotalTokens int

	// Raw body for error replies.
	Body string
}

// ChatCompletionServer emulates an OpenAI-compatible chat-completion
// endpoint. It answers with its replies in order and repeats the last one.
type ChatCompletionServer struct {
	*httptest.Server

	replies []Reply
	calls   atomic.Int32

	// Largest number of requests observed in flight at once.
	maxActive atomic.Int32
	active    atomic.Int32

	// Delay before answering.
	delay time.Duration

	mutex          sync.Mutex
	authorizations []string
}

func NewChatCompletionServer(t *testing.T, delay time.Duration, replies ...Reply) *ChatCompletionServer {
	if len(replies) == 0 {
		replies = []Reply{{Content: "ok", TotalTokens: 1}}
	}
	s := &ChatCompletionServer{replies: replies, delay: delay}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *ChatCompletionServer) handle(w http.ResponseWriter, r *http.Request) {
	active := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		previous := s.maxActive.Load()
		if active <= previous || s.maxActive.CompareAndSwap(previous, active) {
			break
		}
	}

	s.mutex.Lock()
	s.authorizations = append(s.authorizations, r.Header.Get("Authorization"))
	s.mutex.Unlock()

	index := int(s.calls.Add(1)) - 1
	if index >= len(s.replies) {
		index = len(s.replies) - 1
	}
	reply := s.replies[index]

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}
	if reply.StatusCode != 0 && reply.StatusCode != http.StatusOK {
		w.WriteHeader(reply.StatusCode)
		w.Write([]byte(reply.Body))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": reply.Content}},
		},
		"usage": map[string]int{"total_tokens": reply.TotalTokens},
	})
}

// Calls returns the number of requests served.
func (s *ChatCompletionServer) Calls() int {
	return int(s.calls.Load())
}

func (s *ChatCompletionServer) MaxActive() int {
	return int(s.maxActive.Load())
}

// Authorizations returns the Authorization headers received, in order.
func (s *ChatCompletionServer) Authorizations() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.authorizations...)
}
