// Package cache wraps the Redis client used for snapshot caching and event
// fan-out between server instances.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "skoolup"
	defaultTTL = 10 * time.Minute
)

// Cache wraps a Redis client with a default entry TTL.
type Cache struct {
	Client *redis.Client
	TTL    time.Duration
}

// ParseURL validates a Redis connection URL.
func ParseURL(url string) (*redis.Options, error) {
	if url == "" {
		return nil, fmt.Errorf("cache URL is empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return opts, nil
}

// New connects to Redis and pings it.
func New(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opts, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	c := FromClient(redis.NewClient(opts), ttl)
	if err := c.HealthCheck(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("pinging cache: %w", err)
	}
	return c, nil
}

// FromClient wraps an existing client without pinging it.
func FromClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{Client: client, TTL: ttl}
}

// Key builds a namespaced key, e.g. Key("snapshot", id) = "skoolup:snapshot:<id>".
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// Versioned entries are hashes holding the payload and the version it was
// written at. The version field outlives Invalidate so an older payload can
// never replace a newer one. A given version always carries the same payload.
const fieldData = "data"

var setVersioned = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// Get returns the payload at key. A missing or invalidated entry is ok=false
// with a nil error.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.Client.HGet(ctx, key, fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SetVersioned stores value at key unless a newer version is already
// recorded there. It reports whether the value was written.
func (c *Cache) SetVersioned(ctx context.Context, key string, version int64, value []byte) (bool, error) {
	n, err := setVersioned.Run(ctx, c.Client, []string{key}, version, value, c.TTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Invalidate drops the payload at key but keeps its version.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.Client.HDel(ctx, key, fieldData).Err()
}

// Close shuts down the cache client.
func (c *Cache) Close() error {
	return c.Client.Close()
}

// HealthCheck verifies the cache connection is alive.
func (c *Cache) HealthCheck(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}
