package postcode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores the area ids found for a lookup key
type Cache interface {
	Get(ctx context.Context, key string) (ids []int64, ok bool, err error)
	Set(ctx context.Context, key string, ids []int64, ttl time.Duration) error
}

// PostcodeKey is the cache key of a postcode lookup in a generation
func PostcodeKey(generation int64, code string) string {
	return fmt.Sprintf("mapit:pc:%d:%s", generation, code)
}

// PointKey is the cache key of a point lookup in a generation
func PointKey(generation int64, lon, lat float64) string {
	return fmt.Sprintf("mapit:pt:%d:%s,%s", generation,
		strconv.FormatFloat(lon, 'f', 6, 64), strconv.FormatFloat(lat, 'f', 6, 64))
}

// RedisCache keeps area ids as comma separated strings in Redis
type RedisCache struct {
	client *redis.Client
}

// OpenRedis connects to addr. It returns nil if addr is empty.
func OpenRedis(addr, password string, db int) *RedisCache {
	if addr == "" {
		return nil
	}
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})}
}

// NewRedisCache wraps an existing client
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]int64, bool, error) {
	s, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ids, err := decodeIDs(s)
	if err != nil {
		return nil, false, fmt.Errorf("bad cache entry %s: %w", key, err)
	}
	return ids, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, ids []int64, ttl time.Duration) error {
	return c.client.Set(ctx, key, encodeIDs(ids), ttl).Err()
}

// Close closes the client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func encodeIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func decodeIDs(s string) ([]int64, error) {
	if s == "" {
		return []int64{}, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, len(parts))
	for i, p := range parts {
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
