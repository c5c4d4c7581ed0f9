package horoscope

import (
	"fmt"
	"time"
)

// ProviderList is the static, priority-ordered list of interpretation
// providers. The first eligible provider is tried first.
type ProviderList []*ProviderConfig

type ProviderConfig struct {
	// Provider name. Also the key of the provider's credential. E.g., "groq"
	Name string `yaml:"name" json:"name"`

	// Model identifier sent to the provider. E.g., "llama-3.3-70b"
	Model string `yaml:"model" json:"model"`

	// Base URL of the OpenAI-compatible endpoint. Empty uses the adapter's
	// default. E.g., "https://api.groq.com/openai/v1"
	BaseUrl string `yaml:"base_url" json:"base_url,omitempty"`

	// Maximum requests per minute.
	RequestsPerMinute int `yaml:"rpm" json:"rpm"`

	// Maximum successful requests per UTC day. Zero means unlimited.
	RequestsPerDay int `yaml:"rpd" json:"rpd"`
}

// Unlimited reports whether the provider has no daily ceiling.
func (p *ProviderConfig) Unlimited() bool {
	return p.RequestsPerDay <= 0
}

// DailyQuotaExhausted reports whether the given number of successful
// requests already reaches the daily ceiling.
func (p *ProviderConfig) DailyQuotaExhausted(requests int64) bool {
	return !p.Unlimited() && requests >= int64(p.RequestsPerDay)
}

func (providers ProviderList) Validate() error {
	if len(providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	seen := make(map[string]bool, len(providers))
	for index, provider := range providers {
		if provider == nil || provider.Name == "" {
			return fmt.Errorf("provider at index %d has no name", index)
		}
		if seen[provider.Name] {
			return fmt.Errorf("duplicate provider: %s", provider.Name)
		}
		seen[provider.Name] = true
		if provider.Model == "" {
			return fmt.Errorf("provider %s has no model", provider.Name)
		}
		if provider.RequestsPerMinute <= 0 {
			return fmt.Errorf("provider %s must allow at least one request per minute", provider.Name)
		}
	}
	return nil
}

// Names returns provider names in priority order.
func (providers ProviderList) Names() []string {
	names := make([]string, 0, len(providers))
	for _, provider := range providers {
		names = append(names, provider.Name)
	}
	return names
}

// DefaultProviders returns the production priority order: the most capable
// free tier first, then the two fast OpenAI-compatible backends.
func DefaultProviders() ProviderList {
	return ProviderList{
		{Name: "iflow", Model: "GLM-4.6", RequestsPerMinute: 1, RequestsPerDay: 0},
		{Name: "groq", Model: "moonshotai/kimi-k2-instruct-0905", RequestsPerMinute: 30, RequestsPerDay: 14400},
		{Name: "cerebras", Model: "llama-3.3-70b", RequestsPerMinute: 30, RequestsPerDay: 14400},
	}
}

// Credentials maps provider names to their API keys. Providers without a
// key are never attempted.
type Credentials map[string]string

type ChartType string

const (
	ChartTypeZiwei   ChartType = "ziwei"
	ChartTypeWestern ChartType = "western"
)

type InterpretationRequest struct {
	// Kind of chart. Either "ziwei" or "western".
	ChartType ChartType `json:"chartType"`

	// Calculated chart as produced by the chart calculators. Opaque here.
	ChartData map[string]any `json:"chartData"`

	// Response language. "zh" or "en". Empty defaults per chart type.
	Language string `json:"language,omitempty"`

	// Optional topic to emphasize. E.g., "career"
	Focus string `json:"focus,omitempty"`
}

func (r *InterpretationRequest) Validate() error {
	switch r.ChartType {
	case ChartTypeZiwei, ChartTypeWestern:
	case "":
		return fmt.Errorf("chartType is required")
	default:
		return fmt.Errorf("invalid chartType: %s", r.ChartType)
	}
	if len(r.ChartData) == 0 {
		return fmt.Errorf("chartData is required")
	}
	switch r.Language {
	case "", "zh", "en":
	default:
		return fmt.Errorf("unsupported language: %s", r.Language)
	}
	return nil
}

// Interpretation is the result of a successful resolution.
type Interpretation struct {
	Interpretation string `json:"interpretation"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`

	// Zero when the provider does not report usage.
	TokensUsed int `json:"tokensUsed,omitempty"`

	// Wall time of the successful provider call in milliseconds.
	Latency int64 `json:"latency"`

	// Number of providers that failed before this one succeeded.
	Failovers int `json:"failovers"`

	// UTC date the usage was accounted to. E.g., "2025-01-31"
	Date string `json:"date"`
}

// UTCDate returns the calendar date of t in UTC. Daily quotas and usage
// records roll over when this value changes.
func UTCDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
