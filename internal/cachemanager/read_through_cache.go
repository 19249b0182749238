package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache loads values through fn on a miss and stores the ones
// accepted by keep. A nil keep stores every successful load.
type ReadThroughCache[K comparable, V any] struct {
	cache CacheManager[K, V]
	fn    func(ctx context.Context) (V, error)
	keep  func(V) bool
	ttl   time.Duration
}

// NewReadThroughCache builds a read-through cache. A ttl <= 0 disables caching.
func NewReadThroughCache[K comparable, V any](
	cache CacheManager[K, V],
	fn func(ctx context.Context) (V, error),
	keep func(V) bool,
	ttl time.Duration,
) *ReadThroughCache[K, V] {
	return &ReadThroughCache[K, V]{
		cache: cache,
		fn:    fn,
		keep:  keep,
		ttl:   ttl,
	}
}

// Get returns the cached value for key or loads it.
func (r *ReadThroughCache[K, V]) Get(ctx context.Context, key K) (V, error) {
	if r.ttl <= 0 {
		return r.fn(ctx)
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}

	value, err := r.fn(ctx)
	if err != nil {
		return value, err
	}

	if r.keep == nil || r.keep(value) {
		r.cache.Set(ctx, key, value, r.ttl)
	}
	return value, nil
}

// Invalidate forgets key so the next Get reloads it.
func (r *ReadThroughCache[K, V]) Invalidate(ctx context.Context, key K) {
	_ = r.cache.Delete(ctx, key)
}
