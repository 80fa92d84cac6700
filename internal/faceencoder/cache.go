package faceencoder

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/facewatch/internal/logging"
)

// Cache abstracts the Redis operations used by the caching encoder to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// ErrCacheMiss is what Cache.Get implementations return for absent keys.
var ErrCacheMiss error = redis.Nil

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// CachingEncoder memoizes an Encoder by image digest. The wrapped encoder is
// deterministic per image, so a hit is as good as a fresh call. Cache trouble
// never fails the call.
type CachingEncoder struct {
	next           Encoder
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCachingEncoder wraps next with cache.
func NewCachingEncoder(next Encoder, cache Cache, ttl time.Duration, logger *zap.Logger) *CachingEncoder {
	return &CachingEncoder{
		next:           next,
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("encoding_cache"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CacheKey is the Redis key holding the encodings of image.
func CacheKey(image []byte) string {
	sum := sha1.Sum(image)
	return "faceenc:" + hex.EncodeToString(sum[:])
}

// DetectAndEncode implements Encoder.
func (c *CachingEncoder) DetectAndEncode(ctx context.Context, image []byte) ([]Face, error) {
	key := CacheKey(image)
	opLogger := logging.WithOperation(c.logger, "faceencoder.cache", key)

	var cached string
	err := c.withRetry(ctx, key, "cache.get.encodings", func() error {
		value, err := c.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err == nil:
		var faces []Face
		decodeErr := json.Unmarshal([]byte(cached), &faces)
		if decodeErr == nil {
			opLogger.Debug("encoding cache hit", zap.Int("faces", len(faces)))
			return faces, nil
		}
		opLogger.Warn("failed to decode cached encodings", zap.Error(decodeErr))
	case errors.Is(err, ErrCacheMiss):
	default:
		opLogger.Warn("failed to read encoding cache", zap.Error(err))
	}

	faces, err := c.next.DetectAndEncode(ctx, image)
	if err != nil {
		return nil, err
	}

	serialized, err := json.Marshal(faces)
	if err != nil {
		opLogger.Warn("failed to serialize encodings", zap.Error(err))
		return faces, nil
	}
	if err := c.withRetry(ctx, key, "cache.set.encodings", func() error {
		return c.cache.Set(ctx, key, string(serialized), c.ttl)
	}); err != nil {
		opLogger.Warn("failed to cache encodings", zap.Error(err))
	}
	return faces, nil
}

func (c *CachingEncoder) withRetry(ctx context.Context, key, operation string, fn func() error) error {
	backoff := c.initialBackoff
	opLogger := logging.WithOperation(c.logger, operation, key)
	var err error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, key, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrCacheMiss) {
			return err
		}
		if !isTransientError(err) {
			break
		}
		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, key, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
