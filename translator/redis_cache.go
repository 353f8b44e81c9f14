package translator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chatlens:translation"

// RedisCache stores translations in Redis under a namespace unique to this
// process, so entries never outlive the process from its point of view.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client. ttl bounds how long abandoned
// namespaces linger in Redis; zero keeps entries until cleared.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: fmt.Sprintf("%s:%s:", redisKeyPrefix, uuid.NewString()),
		ttl:    ttl,
	}
}

// OpenRedisCache connects to url and checks the connection.
func OpenRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisCache(client, ttl), nil
}

func (c *RedisCache) key(k Key) string {
	sum := sha256.Sum256([]byte(k.String()))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, key Key) (Result, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("redis get: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, false, fmt.Errorf("redis decode: %w", err)
	}
	return res, true, nil
}

// Set writes only when the key is absent; cached entries are immutable.
func (c *RedisCache) Set(ctx context.Context, key Key, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := c.client.SetNX(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Clear deletes every key in this process's namespace.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *RedisCache) Len(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 200).Result()
		if err != nil {
			return 0, fmt.Errorf("redis scan: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

// Close releases the client.
func (c *RedisCache) Close() error { return c.client.Close() }
