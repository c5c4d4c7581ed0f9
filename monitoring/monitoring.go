package monitoring

import (
	"time"

	"github.com/yanolja/horoscope/failover"
	"github.com/yanolja/horoscope/orchestrator"
)

// Monitor receives both provider outcomes and queue depth.
type Monitor interface {
	failover.Observer
	orchestrator.QueueObserver
}

// Fanout forwards every event to each monitor in order.
type Fanout []Monitor

func (f Fanout) ProviderSkipped(provider string, reason failover.ErrorCode) {
	for _, monitor := range f {
		monitor.ProviderSkipped(provider, reason)
	}
}

func (f Fanout) ProviderSucceeded(provider string, latency time.Duration, tokens int, failovers int) {
	for _, monitor := range f {
		monitor.ProviderSucceeded(provider, latency, tokens, failovers)
	}
}

func (f Fanout) ProviderFailed(provider string, code failover.ErrorCode) {
	for _, monitor := range f {
		monitor.ProviderFailed(provider, code)
	}
}

func (f Fanout) AllFailed(failovers int) {
	for _, monitor := range f {
		monitor.AllFailed(failovers)
	}
}

func (f Fanout) QueueDepth(depth int) {
	for _, monitor := range f {
		monitor.QueueDepth(depth)
	}
}
