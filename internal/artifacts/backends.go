package artifacts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/util"
	"github.com/redis/go-redis/v9"
)

// BackendType selects the artifact storage backend.
type BackendType string

// Backend type constants.
const (
	BackendMemory BackendType = "memory"
	BackendFile   BackendType = "file"
	BackendRedis  BackendType = "redis"
)

// BackendConfig configures artifact storage.
type BackendConfig struct {
	// Backend selects the store implementation.
	Backend BackendType

	// Dir is the artifact directory for the file backend.
	Dir string

	// RedisURL is the Redis connection string for the redis backend.
	RedisURL string

	// TTL is how long redis artifacts live. Zero means forever.
	TTL time.Duration
}

// DefaultBackendConfig returns a file-backed configuration rooted at dir.
func DefaultBackendConfig(dir string) BackendConfig {
	return BackendConfig{
		Backend: BackendFile,
		Dir:     dir,
	}
}

// Backend bundles the selected store with the resources behind it.
type Backend struct {
	Store Store

	redisClient *redis.Client
}

// Close closes any resources held by the backend.
func (b *Backend) Close() error {
	if b.redisClient != nil {
		return b.redisClient.Close()
	}
	return nil
}

// NewBackend creates the artifact store selected by the configuration.
func NewBackend(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	log := util.Log(ctx)
	backend := &Backend{}

	switch cfg.Backend {
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("redis URL required when using redis backend")
		}

		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}

		backend.redisClient = redis.NewClient(opts)
		if pingErr := backend.redisClient.Ping(ctx).Err(); pingErr != nil {
			return nil, fmt.Errorf("redis ping: %w", pingErr)
		}

		backend.Store = NewRedisStore(backend.redisClient, cfg.TTL)
		log.Info("using Redis artifact store", "url", sanitizeRedisURL(cfg.RedisURL))

	case BackendFile:
		if cfg.Dir == "" {
			return nil, errors.New("directory required when using file backend")
		}

		store, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}

		backend.Store = store
		log.Info("using file artifact store", "dir", cfg.Dir)

	case BackendMemory:
		backend.Store = NewMemoryStore()
		log.Info("using in-memory artifact store")

	default:
		return nil, fmt.Errorf("unknown artifact backend: %s", cfg.Backend)
	}

	return backend, nil
}

// NewBackendWithFallback creates the configured backend, falling back
// to in-memory storage if it cannot be reached.
func NewBackendWithFallback(ctx context.Context, cfg BackendConfig) (*Backend, error) {
	log := util.Log(ctx)

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		log.Warn("falling back to in-memory artifact store", "error", err.Error())

		cfg.Backend = BackendMemory
		return NewBackend(ctx, cfg)
	}

	return backend, nil
}

// sanitizeRedisURL removes the password from a Redis URL for logging.
func sanitizeRedisURL(url string) string {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return "[invalid]"
	}

	sanitized := fmt.Sprintf("redis://%s/%d", opts.Addr, opts.DB)
	if opts.Username != "" {
		sanitized = fmt.Sprintf("redis://%s@%s/%d", opts.Username, opts.Addr, opts.DB)
	}

	return sanitized
}
