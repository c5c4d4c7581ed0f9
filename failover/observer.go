package failover

import "time"

// Observer receives the outcome of every provider considered during a
// resolution. Calls happen on the resolving goroutine.
type Observer interface {
	ProviderSkipped(provider string, reason ErrorCode)
	ProviderSucceeded(provider string, latency time.Duration, tokens int, failovers int)
	ProviderFailed(provider string, code ErrorCode)
	AllFailed(failovers int)
}

type noopObserver struct{}

func (noopObserver) ProviderSkipped(string, ErrorCode)                  {}
func (noopObserver) ProviderSucceeded(string, time.Duration, int, int) {}
func (noopObserver) ProviderFailed(string, ErrorCode)                   {}
func (noopObserver) AllFailed(int)                                      {}
