package failover

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yanolja/horoscope/provider"
)

type ErrorCode string

const (
	// Provider answered with an over-quota signal.
	CodeRateLimit ErrorCode = "RATE_LIMIT"

	// Provider rejected the credential.
	CodeAuth ErrorCode = "AUTH"

	// Any other provider failure.
	CodeApiError ErrorCode = "API_ERROR"

	// Skipped locally; the provider's daily counter is at its ceiling.
	CodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Skipped locally; the provider's minute window is exhausted.
	CodeRateLimitLocal ErrorCode = "RATE_LIMIT_LOCAL"

	// Every credentialed provider was skipped or failed.
	CodeAllProvidersFailed ErrorCode = "ALL_PROVIDERS_FAILED"
)

var ErrAllProvidersFailed = errors.New("All providers failed")

// Classify maps a provider failure to an error code. Status errors are
// classified by code; other errors by the status code embedded in their
// message.
func Classify(err error) ErrorCode {
	var statusError *provider.StatusError
	if errors.As(err, &statusError) {
		switch statusError.StatusCode {
		case http.StatusTooManyRequests:
			return CodeRateLimit
		case http.StatusUnauthorized:
			return CodeAuth
		}
		return CodeApiError
	}

	message := err.Error()
	if strings.Contains(message, "429") {
		return CodeRateLimit
	}
	if strings.Contains(message, "401") {
		return CodeAuth
	}
	return CodeApiError
}

// ProviderError is one provider's failure within a resolution.
type ProviderError struct {
	Provider string    `json:"provider"`
	Code     ErrorCode `json:"code"`
	Message  string    `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s failed with %s: %s", e.Provider, e.Code, e.Message)
}

// AllProvidersFailedError is returned when no provider produced an
// interpretation. Only the last failure is kept; earlier ones are in the
// usage records.
type AllProvidersFailedError struct {
	// Nil when no provider was eligible.
	LastError *ProviderError

	// Providers attempted and failed.
	Failovers int
}

func (e *AllProvidersFailedError) Error() string {
	if e.LastError == nil {
		return fmt.Sprintf("%v: no eligible provider", ErrAllProvidersFailed)
	}
	return fmt.Sprintf("%v after %d failovers: %v", ErrAllProvidersFailed, e.Failovers, e.LastError)
}

func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

func (e *AllProvidersFailedError) Code() ErrorCode {
	return CodeAllProvidersFailed
}
