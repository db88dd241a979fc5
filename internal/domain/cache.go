package domain

import (
	"context"
	"time"
)

// Cache defines the prediction result cache. Keys are derived from the
// request payload plus the loaded artifact set, so a reload naturally
// invalidates prior entries.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetPrediction retrieves a cached prediction result.
	GetPrediction(ctx context.Context, key string) (*PredictionResult, error)

	// SetPrediction caches a prediction result.
	SetPrediction(ctx context.Context, key string, res *PredictionResult, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings: check local first, then Redis
	EnableTwoPhase bool

	// TTL applied to prediction entries
	PredictionTTL time.Duration
}
