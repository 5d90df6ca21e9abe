package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrCacheRedisUnavailable = errors.New("cache redis unavailable")

// ResponseCache holds raw upstream response bodies per principal and endpoint kind.
type ResponseCache struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResponseCache(redisClient redis.UniversalClient, prefix string) *ResponseCache {
	if prefix == "" {
		prefix = "gs"
	}
	return &ResponseCache{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (c *ResponseCache) key(principalID, kind string) string {
	return c.prefix + ":" + principalID + ":" + kind
}

// Get returns the cached body. A miss is reported as ok=false with a nil error.
func (c *ResponseCache) Get(ctx context.Context, principalID, kind string) ([]byte, bool, error) {
	data, err := c.redis.Get(ctx, c.key(principalID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrCacheRedisUnavailable, err)
	}
	return data, true, nil
}

func (c *ResponseCache) Set(ctx context.Context, principalID, kind string, body []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, c.key(principalID, kind), body, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheRedisUnavailable, err)
	}
	return nil
}

func (c *ResponseCache) Delete(ctx context.Context, principalID, kind string) error {
	if err := c.redis.Del(ctx, c.key(principalID, kind)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheRedisUnavailable, err)
	}
	return nil
}
