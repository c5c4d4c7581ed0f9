package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yanolja/horoscope"
)

type namedAdapter string

func (n namedAdapter) Interpret(context.Context, string, string, *horoscope.InterpretationRequest) (*Result, error) {
	return &Result{Interpretation: string(n)}, nil
}

func (n namedAdapter) Provider() string { return string(n) }

func TestRegistry(t *testing.T) {
	registry := NewRegistry(namedAdapter("groq"), namedAdapter("iflow"))

	adapter, ok := registry.Lookup("groq")
	assert.True(t, ok)
	assert.Equal(t, "groq", adapter.Provider())

	_, ok = registry.Lookup("cerebras")
	assert.False(t, ok)

	assert.Equal(t, []string{"groq", "iflow"}, registry.Names())

	assert.NoError(t, registry.Covers(horoscope.ProviderList{{Name: "iflow"}, {Name: "groq"}}))
	assert.ErrorContains(t, registry.Covers(horoscope.DefaultProviders()), "cerebras")
}

func TestStatusError(t *testing.T) {
	err := &StatusError{Provider: "groq", StatusCode: 401, Body: "invalid api key"}
	assert.Equal(t, "groq 401: invalid api key", err.Error())
}
