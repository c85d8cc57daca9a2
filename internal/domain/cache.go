package domain

import (
	"context"
	"time"
)

// Cache keeps the per-tenant catalog schema (categories, templates and
// rules) close to the engine so a validation does not hit the database for
// it. Keys are namespaced by tenant.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string, key string) error

	// GetCatalog returns nil, nil on a miss.
	GetCatalog(ctx context.Context, tenantID string) (*CatalogData, error)
	SetCatalog(ctx context.Context, tenantID string, data *CatalogData, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// CatalogCacheKey is the cache key under which the per-tenant catalog
// snapshot is stored.
const CatalogCacheKey = "catalog:snapshot"

// CacheConfig selects and tunes the cache.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `yaml:"type"`

	// In-process LRU, also the first tier when two-phase is on.
	LocalMaxSize int           `yaml:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"localTtl"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`

	// EnableTwoPhase fronts Redis with the local LRU.
	EnableTwoPhase bool `yaml:"enableTwoPhase"`
}
