package config

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/yanolja/horoscope"
	"github.com/yanolja/horoscope/monitoring"
	"github.com/yanolja/horoscope/utils/env"
)

// Config represents the full application configuration
type Config struct {
	// Port to listen for incoming requests.
	Port int `yaml:"port"`

	// Valkey (open-source version of Redis) endpoint to store quota state.
	// Takes precedence over SqlitePath. E.g., localhost:6379
	ValkeyEndpoint string `yaml:"valkey_endpoint"`

	// Path of the SQLite database to store quota state when Valkey is not
	// configured. Both empty keeps the state in memory. E.g., data/quota.db
	SqlitePath string `yaml:"sqlite_path"`

	// Namespace of every key written to the state store.
	StatePrefix string `yaml:"state_prefix"`

	// Secret to verify HS256 session tokens. Empty disables authentication.
	JwtSecret string

	// Requests per minute a single client IP may make to the interpret route.
	ClientRequestsPerMinute int `yaml:"client_requests_per_minute"`

	// Origins allowed by CORS. E.g., ["https://example.com"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// API keys of each provider, keyed by provider name.
	ApiKeys horoscope.Credentials `yaml:"-"`

	// Priority-ordered provider list.
	Providers horoscope.ProviderList `yaml:"providers"`

	Prometheus monitoring.PrometheusConfig `yaml:"prometheus"`

	Tracing monitoring.TracingConfig `yaml:"tracing"`

	OtlpMetrics monitoring.OtlpMetricsConfig `yaml:"otlp_metrics"`
}

// Environment variables holding the API key of each default provider.
var apiKeyVariables = map[string]string{
	"iflow":    "IFLOW_API_KEY",
	"groq":     "GROQ_API_KEY",
	"cerebras": "CEREBRAS_API_KEY",
}

// LoadConfig loads the configuration from the specified path. An empty path
// without CONFIG_SOURCE uses the defaults and environment variables only.
func LoadConfig(path string, logger *zap.SugaredLogger) (*Config, error) {
	// Setting default values
	config := Config{
		Port:                    8080,
		StatePrefix:             "horoscope:",
		ClientRequestsPerMinute: 10,
		AllowedOrigins:          []string{"*"},
		Prometheus:              monitoring.PrometheusConfig{Namespace: "horoscope", Subsystem: "interpret"},
		Tracing:                 monitoring.TracingConfig{SampleRatio: 1, ServiceName: "horoscope"},
		OtlpMetrics:             monitoring.OtlpMetricsConfig{Interval: time.Minute, ServiceName: "horoscope"},
	}

	// Checks if config is specified via environment variable.
	configSource := env.OptionalStringVariable("CONFIG_SOURCE", path)
	configToken := env.OptionalStringVariable("CONFIG_TOKEN", "")
	if configSource != "" {
		configData, err := func(configSource string, configToken string) ([]byte, error) {
			// Handle URL or local path
			if strings.HasPrefix(configSource, "http://") || strings.HasPrefix(configSource, "https://") {
				logger.Infow("Fetching remote config", "url", configSource)
				return fetchRemoteConfig(configSource, configToken)
			}
			logger.Infow("Loading local config", "path", configSource)
			return os.ReadFile(configSource)
		}(configSource, configToken)

		if err != nil {
			return nil, fmt.Errorf("failed to get config data: %v", err)
		}

		// Overrides config with the YAML data.
		if err := yaml.Unmarshal(configData, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %v", err)
		}
	}

	if len(config.Providers) == 0 {
		config.Providers = horoscope.DefaultProviders()
	}
	if err := config.Providers.Validate(); err != nil {
		return nil, fmt.Errorf("invalid providers: %v", err)
	}

	// Overrides config with environment variables.
	// Therefore, the values from the environment variables precede the values from the YAML file.
	config.Port = env.OptionalIntVariable("PORT", config.Port)
	config.ValkeyEndpoint = env.OptionalStringVariable("VALKEY_ENDPOINT", config.ValkeyEndpoint)
	config.SqlitePath = env.OptionalStringVariable("SQLITE_PATH", config.SqlitePath)
	config.StatePrefix = env.OptionalStringVariable("STATE_PREFIX", config.StatePrefix)
	config.JwtSecret = env.OptionalStringVariable("JWT_SECRET", config.JwtSecret)
	config.ClientRequestsPerMinute = env.OptionalIntVariable("CLIENT_REQUESTS_PER_MINUTE", config.ClientRequestsPerMinute)
	config.Tracing.Endpoint = env.OptionalStringVariable("OTLP_ENDPOINT", config.Tracing.Endpoint)
	config.Tracing.Insecure = env.OptionalBoolVariable("OTLP_INSECURE", config.Tracing.Insecure)
	config.Tracing.SampleRatio = env.OptionalFloatVariable("OTLP_SAMPLE_RATIO", config.Tracing.SampleRatio)
	config.OtlpMetrics.Endpoint = env.OptionalStringVariable("OTLP_METRICS_ENDPOINT", config.OtlpMetrics.Endpoint)
	config.OtlpMetrics.Insecure = env.OptionalBoolVariable("OTLP_INSECURE", config.OtlpMetrics.Insecure)
	config.AllowedOrigins = env.OptionalListVariable("ALLOWED_ORIGINS", config.AllowedOrigins)

	config.ApiKeys = horoscope.Credentials{}
	for _, provider := range config.Providers {
		key := env.OptionalStringVariable(ApiKeyVariable(provider.Name), "")
		if key != "" {
			config.ApiKeys[provider.Name] = key
		}
	}
	if len(config.ApiKeys) == 0 {
		logger.Warnw("No provider API keys configured", "providers", config.Providers.Names())
	}

	return &config, nil
}

// ApiKeyVariable returns the environment variable holding the provider's API
// key. Providers outside the defaults use NAME_API_KEY.
func ApiKeyVariable(provider string) string {
	if variable, ok := apiKeyVariables[provider]; ok {
		return variable
	}
	name := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(provider))
	return name + "_API_KEY"
}

func fetchRemoteConfig(url string, token string) ([]byte, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch config: HTTP %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
