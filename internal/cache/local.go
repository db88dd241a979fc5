package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LocalCache is an in-process expiring LRU cache.
type LocalCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewLocalCache creates a local cache with a maximum size and a default TTL.
func NewLocalCache(maxSize int, ttl time.Duration) *LocalCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LocalCache{
		lru: expirable.NewLRU[string, []byte](maxSize, nil, ttl),
	}
}

// Get retrieves a value. Returns nil without error on miss.
func (c *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := c.lru.Get(key)
	if !ok {
		return nil, nil
	}
	return val, nil
}

// Set stores a value. The per-entry TTL is advisory only; entries expire
// on the cache-wide TTL configured at construction.
func (c *LocalCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.lru.Add(key, value)
	return nil
}

// Delete removes a value.
func (c *LocalCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// GetPrediction retrieves a cached prediction result.
func (c *LocalCache) GetPrediction(ctx context.Context, key string) (*domain.PredictionResult, error) {
	data, err := c.Get(ctx, key)
	if err != nil || data == nil {
		return nil, err
	}
	return unmarshalPrediction(data)
}

// SetPrediction caches a prediction result.
func (c *LocalCache) SetPrediction(ctx context.Context, key string, res *domain.PredictionResult, ttl time.Duration) error {
	data, err := marshalPrediction(res)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// Ping always succeeds for the local cache.
func (c *LocalCache) Ping(_ context.Context) error { return nil }

// Close purges all entries.
func (c *LocalCache) Close() error {
	c.lru.Purge()
	return nil
}
