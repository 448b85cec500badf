package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisPingTimeout bounds the connectivity check in NewRedisCache.
const redisPingTimeout = 5 * time.Second

// RedisCache is a CacheBackend over a Redis client. Every key is namespaced
// with prefix so several deployments can share one database.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache connects to redisURL (redis://[:password@]host:port/db) and
// fails if the server does not answer a PING.
func NewRedisCache(redisURL string, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rc := &RedisCache{client: redis.NewClient(opts), prefix: prefix}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rc.client.Ping(ctx).Err(); err != nil {
		rc.client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rc, nil
}

func (r *RedisCache) keys(ks ...string) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = r.prefix + k
	}
	return out
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// GetMultiple reads all keys in one MGET round trip.
func (r *RedisCache) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	values, err := r.client.MGet(ctx, r.keys(keys...)...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	found := make(map[string][]byte, len(values))
	for i, v := range values {
		// MGET answers nil for missing keys
		if s, ok := v.(string); ok {
			found[keys[i]] = []byte(s)
		}
	}
	return found, nil
}

// SetMultiple writes every item with the same TTL in one pipelined batch.
func (r *RedisCache) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range items {
			pipe.Set(ctx, r.prefix+k, v, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline set: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
