package datamanager

import (
	"context"
	"time"

	"github.com/saiset-co/sai-chainsync/types"
)

// Query describes a typed read: the key it caches under, how to fetch it and for how long
// the result stays fresh. A zero TTL uses the kind's configured TTL.
type Query[T any] struct {
	Key   types.Key
	Fetch func(ctx context.Context) (T, error)
	TTL   time.Duration
}

func (q Query[T]) fetcher() types.Fetcher {
	if q.Fetch == nil {
		return nil
	}

	return func(ctx context.Context) (interface{}, error) {
		return q.Fetch(ctx)
	}
}

// Get runs q through dm and asserts the cached value back to T.
func Get[T any](ctx context.Context, dm types.DataManager, q Query[T]) (T, error) {
	value, err := dm.Get(ctx, q.Key, q.fetcher(), q.TTL)
	if err != nil {
		var zero T
		return zero, err
	}

	return cast[T](q.Key, value)
}

func ForceRefresh[T any](ctx context.Context, dm types.DataManager, key types.Key) (T, error) {
	value, err := dm.ForceRefresh(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}

	return cast[T](key, value)
}

func cast[T any](key types.Key, value interface{}) (T, error) {
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, types.Errorf(types.ErrUnexpectedValueType, "key %s holds %T, want %T", key, value, zero)
	}
	return typed, nil
}
