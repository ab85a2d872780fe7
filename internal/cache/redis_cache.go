package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultReplayTTL = 24 * time.Hour

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Namespace is prepended to every key, so several deployments can share
	// one Redis database.
	Namespace string
	// DefaultTTL applies when Set is called without a positive ttl. Replays
	// never live forever.
	DefaultTTL time.Duration
}

// RedisSaleReplayCache keeps committed sale replays as JSON strings with an
// expiry. A payload that no longer decodes is evicted and reported as a miss.
type RedisSaleReplayCache struct {
	client     *redis.Client
	namespace  string
	defaultTTL time.Duration
}

func NewRedisSaleReplayCache(opts RedisOptions) *RedisSaleReplayCache {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &RedisSaleReplayCache{
		client: redis.NewClient(&redis.Options{
			Addr:         opts.Addr,
			Password:     opts.Password,
			DB:           opts.DB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		}),
		namespace:  opts.Namespace,
		defaultTTL: ttl,
	}
}

func (c *RedisSaleReplayCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSaleReplayCache) Close() error {
	return c.client.Close()
}

func (c *RedisSaleReplayCache) Get(ctx context.Context, key string) (*SaleReplay, bool, error) {
	raw, err := c.client.Get(ctx, c.namespace+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	replay := new(SaleReplay)
	if err := json.Unmarshal(raw, replay); err != nil {
		c.client.Unlink(ctx, c.namespace+key)
		return nil, false, fmt.Errorf("decode sale replay %s: %w", key, err)
	}
	return replay, true, nil
}

// Set stores value under key. A nil value is a no-op and a non-positive ttl
// falls back to the cache default.
func (c *RedisSaleReplayCache) Set(ctx context.Context, key string, value *SaleReplay, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode sale replay %s: %w", key, err)
	}
	return c.client.SetArgs(ctx, c.namespace+key, payload, redis.SetArgs{TTL: ttl}).Err()
}

func (c *RedisSaleReplayCache) Delete(ctx context.Context, key string) error {
	return c.client.Unlink(ctx, c.namespace+key).Err()
}
