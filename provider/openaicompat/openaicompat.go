package openaicompat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/yanolja/horoscope"
	"github.com/yanolja/horoscope/prompt"
	"github.com/yanolja/horoscope/provider"
)

const (
	DefaultMaxTokens   = 1024
	DefaultTemperature = float32(0.7)
)

// Known vendors and their defaults. All speak the OpenAI chat-completion
// protocol and differ only in base URL and the name of the token limit.
var vendors = map[string]Options{
	"iflow":    {BaseUrl: "https://apis.iflow.cn/v1"},
	"groq":     {BaseUrl: "https://api.groq.com/openai/v1"},
	"cerebras": {BaseUrl: "https://api.cerebras.ai/v1", UseMaxCompletionTokens: true},
}

type Options struct {
	// Base URL up to, but excluding, "/chat/completions".
	BaseUrl string

	// Sends "max_completion_tokens" instead of "max_tokens".
	UseMaxCompletionTokens bool

	// Zero uses DefaultMaxTokens.
	MaxTokens int32

	// Zero uses 30 seconds.
	Timeout time.Duration
}

type Endpoint struct {
	provider string
	baseUrl  *url.URL
	client   *http.Client
	options  Options
	logger   *zap.SugaredLogger
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	MaxTokens           *int32        `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int32        `json:"max_completion_tokens,omitempty"`
	Temperature         float32       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewVendorEndpoint creates an endpoint for a known vendor. A non-empty
// baseUrl overrides the vendor default.
func NewVendorEndpoint(name string, baseUrl string, logger *zap.SugaredLogger) (*Endpoint, error) {
	options, ok := vendors[name]
	if !ok {
		if baseUrl == "" {
			return nil, fmt.Errorf("unknown provider %s requires a base url", name)
		}
		options = Options{}
	}
	if baseUrl != "" {
		options.BaseUrl = baseUrl
	}
	return NewEndpoint(name, options, logger)
}

func NewEndpoint(name string, options Options, logger *zap.SugaredLogger) (*Endpoint, error) {
	parsedBaseUrl, err := url.Parse(options.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %v", err)
	}
	if options.MaxTokens == 0 {
		options.MaxTokens = DefaultMaxTokens
	}
	if options.Timeout == 0 {
		options.Timeout = 30 * time.Second
	}

	return &Endpoint{
		provider: name,
		baseUrl:  parsedBaseUrl,
		client:   &http.Client{Timeout: options.Timeout},
		options:  options,
		logger:   logger,
	}, nil
}

func (p *Endpoint) Interpret(ctx context.Context, credential string, model string, request *horoscope.InterpretationRequest) (*provider.Result, error) {
	chat := &chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System(request.ChartType, request.Language)},
			{Role: "user", Content: prompt.User(request)},
		},
		Temperature: DefaultTemperature,
	}
	maxTokens := p.options.MaxTokens
	if p.options.UseMaxCompletionTokens {
		chat.MaxCompletionTokens = &maxTokens
	} else {
		chat.MaxTokens = &maxTokens
	}

	jsonData, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	endpointPath, err := url.JoinPath(p.baseUrl.String(), "chat", "completions")
	if err != nil {
		return nil, fmt.Errorf("failed to build endpoint path: %v", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointPath, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("Authorization", "Bearer "+credential)

	p.logger.Debugw("Sending interpretation request", "provider", p.provider, "model", model, "url", endpointPath)

	httpResponse, err := p.client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to send request: %v", p.provider, err)
	}
	defer httpResponse.Body.Close()

	body, err := io.ReadAll(httpResponse.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response body: %v", p.provider, err)
	}

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		return nil, &provider.StatusError{
			Provider:   p.provider,
			StatusCode: httpResponse.StatusCode,
			Body:       string(body),
		}
	}

	var chatResponse chatResponse
	if err := json.Unmarshal(body, &chatResponse); err != nil {
		return nil, fmt.Errorf("%s: failed to decode response: %v", p.provider, err)
	}

	result := &provider.Result{}
	if len(chatResponse.Choices) > 0 {
		result.Interpretation = chatResponse.Choices[0].Message.Content
	}
	if chatResponse.Usage != nil {
		result.TokensUsed = chatResponse.Usage.TotalTokens
	}
	return result, nil
}

func (p *Endpoint) Provider() string {
	return p.provider
}
