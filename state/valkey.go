package state

import (
	"context"

	"github.com/valkey-io/valkey-go"
)

type ValkeyStore struct {
	client valkey.Client

	// Prepended to every key. E.g., "horoscope:"
	prefix string
}

func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	return &ValkeyStore{client: client, prefix: prefix}
}

func (r *ValkeyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	valkeyResponse := r.client.Do(ctx, r.client.B().Get().Key(r.prefix+key).Build())
	if err := valkeyResponse.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	value, err := valkeyResponse.AsBytes()
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put writes without expiry. Minute windows are overwritten in place and
// usage keys carry their date.
func (r *ValkeyStore) Put(ctx context.Context, key string, value []byte) error {
	return r.client.Do(
		ctx, r.client.B().Set().
			Key(r.prefix+key).
			Value(valkey.BinaryString(value)).
			Build(),
	).Error()
}

func (r *ValkeyStore) Close() {
	r.client.Close()
}
