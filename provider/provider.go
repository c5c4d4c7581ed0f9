package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/yanolja/horoscope"
)

// Adapter calls one vendor's chat-completion API to interpret a chart.
type Adapter interface {
	// Interprets the chart with the given model using the caller's credential.
	// Failures should embed the HTTP status code in the error when one is
	// available, preferably as a *StatusError.
	Interpret(ctx context.Context, credential string, model string, request *horoscope.InterpretationRequest) (*Result, error)

	// Provider name. E.g., "groq"
	Provider() string
}

type Result struct {
	Interpretation string

	// Total tokens reported by the vendor. Zero if not reported.
	TokensUsed int
}

// StatusError is a non-2xx response from a vendor.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Registry maps provider names to adapters. It is filled once at startup and
// only read afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	registry := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, adapter := range adapters {
		registry.adapters[adapter.Provider()] = adapter
	}
	return registry
}

func (r *Registry) Lookup(name string) (Adapter, bool) {
	adapter, ok := r.adapters[name]
	return adapter, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Covers returns an error naming the first configured provider that has no
// adapter.
func (r *Registry) Covers(providers horoscope.ProviderList) error {
	for _, provider := range providers {
		if _, ok := r.adapters[provider.Name]; !ok {
			return fmt.Errorf("no adapter registered for provider %s", provider.Name)
		}
	}
	return nil
}
