// Package cache provides the pluggable byte cache used for resolved
// profiles and merged query results. Backends: in-process memory
// (default) and redis (selected by REDIS_URL).
package cache

import (
	"context"
	"time"
)

// Backend defines the interface for cache implementations
type Backend interface {
	// Get retrieves a value from the cache
	// Returns (value, found, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// GetMultiple retrieves multiple values from the cache
	// Returns a map of found keys to values
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMultiple stores multiple values with the given TTL
	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// TTLConfig holds per-concern cache lifetimes
type TTLConfig struct {
	Profile         time.Duration
	ProfileNotFound time.Duration
	Feed            time.Duration
	Thread          time.Duration
	SearchResult    time.Duration
}

// DefaultTTLConfig returns sensible defaults
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Profile:         1 * time.Hour,    // profiles rarely change hourly
		ProfileNotFound: 30 * time.Second, // short TTL lets a late-published profile appear
		Feed:            1 * time.Minute,
		Thread:          3 * time.Minute,
		SearchResult:    2 * time.Minute,
	}
}
