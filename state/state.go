package state

import (
	"context"
	"fmt"
)

// Store is durable keyed storage for quota windows and usage records.
// Values are opaque bytes; callers own the encoding.
type Store interface {
	// Loads the value for a given key. Returns false if the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Saves the value for a given key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
}

// RateKey is the key of a provider's per-minute window.
func RateKey(provider string) string {
	return fmt.Sprintf("rpm:%s", provider)
}

// UsageKey is the key of a provider's usage record for a UTC date.
func UsageKey(provider string, date string) string {
	return fmt.Sprintf("usage:%s:%s", provider, date)
}

type prefixedStore struct {
	store  Store
	prefix string
}

// Prefixed partitions a store so that independent orchestrator instances
// can share one backend without sharing state.
func Prefixed(store Store, prefix string) Store {
	if prefix == "" {
		return store
	}
	return &prefixedStore{store: store, prefix: prefix}
}

func (p *prefixedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return p.store.Get(ctx, p.prefix+key)
}

func (p *prefixedStore) Put(ctx context.Context, key string, value []byte) error {
	return p.store.Put(ctx, p.prefix+key, value)
}
