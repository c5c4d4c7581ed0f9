package openaicompat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanolja/horoscope"
	"github.com/yanolja/horoscope/provider"
)

func testRequest() *horoscope.InterpretationRequest {
	return &horoscope.InterpretationRequest{
		ChartType: horoscope.ChartTypeWestern,
		ChartData: map[string]any{"sunSign": map[string]any{"name": "Leo"}},
		Language:  "en",
	}
}

func TestEndpoint_Interpret(t *testing.T) {
	t.Run("sends chat completion and parses result", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(body, &received))

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"A bold Leo."}}],"usage":{"total_tokens":42}}`))
		}))
		defer server.Close()

		endpoint, err := NewEndpoint("groq", Options{BaseUrl: server.URL + "/v1"}, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)

		result, err := endpoint.Interpret(context.Background(), "secret", "llama-3.3-70b", testRequest())
		require.NoError(t, err)
		assert.Equal(t, "A bold Leo.", result.Interpretation)
		assert.Equal(t, 42, result.TokensUsed)

		assert.Equal(t, "llama-3.3-70b", received["model"])
		assert.Equal(t, float64(DefaultMaxTokens), received["max_tokens"])
		assert.NotContains(t, received, "max_completion_tokens")
		messages := received["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Contains(t, messages[1].(map[string]any)["content"], "Sun: Leo")
	})

	t.Run("uses max_completion_tokens when configured", func(t *testing.T) {
		var received map[string]any
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			json.Unmarshal(body, &received)
			w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer server.Close()

		endpoint, err := NewEndpoint("cerebras", Options{BaseUrl: server.URL, UseMaxCompletionTokens: true, MaxTokens: 256}, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)

		result, err := endpoint.Interpret(context.Background(), "secret", "llama-3.3-70b", testRequest())
		require.NoError(t, err)
		assert.Equal(t, 0, result.TokensUsed)
		assert.Equal(t, float64(256), received["max_completion_tokens"])
		assert.NotContains(t, received, "max_tokens")
	})

	t.Run("non-2xx becomes a status error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"slow down"}`))
		}))
		defer server.Close()

		endpoint, err := NewEndpoint("iflow", Options{BaseUrl: server.URL}, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)

		_, err = endpoint.Interpret(context.Background(), "secret", "GLM-4.6", testRequest())
		var statusError *provider.StatusError
		require.True(t, errors.As(err, &statusError))
		assert.Equal(t, http.StatusTooManyRequests, statusError.StatusCode)
		assert.Equal(t, "iflow", statusError.Provider)
		assert.Contains(t, err.Error(), "429")
	})

	t.Run("malformed body is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}))
		defer server.Close()

		endpoint, err := NewEndpoint("groq", Options{BaseUrl: server.URL}, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)

		_, err = endpoint.Interpret(context.Background(), "secret", "m", testRequest())
		assert.Error(t, err)
	})
}

func TestNewVendorEndpoint(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()

	endpoint, err := NewVendorEndpoint("cerebras", "", logger)
	require.NoError(t, err)
	assert.Equal(t, "cerebras", endpoint.Provider())
	assert.Equal(t, "https://api.cerebras.ai/v1", endpoint.baseUrl.String())
	assert.True(t, endpoint.options.UseMaxCompletionTokens)

	endpoint, err = NewVendorEndpoint("groq", "http://localhost:9999/v1", logger)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/v1", endpoint.baseUrl.String())

	_, err = NewVendorEndpoint("unknown", "", logger)
	assert.Error(t, err)

	endpoint, err = NewVendorEndpoint("selfhost", "http://localhost:8000/v1", logger)
	require.NoError(t, err)
	assert.Equal(t, "selfhost", endpoint.Provider())
}
