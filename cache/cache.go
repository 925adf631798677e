// Package cache remembers finished outcomes so a repeated upload of the
// same image with the same crop flag skips segmentation. The pipeline is
// deterministic for a given provider, which makes this safe.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Lookup when nothing is cached for the key.
var ErrMiss = errors.New("cache miss")

// Cache abstracts the Redis operations used by the outcome cache.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a Cache backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get returns ErrMiss for absent keys.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	v, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Entry is what gets cached for an outcome.
type Entry struct {
	ResultID           string    `json:"result_id"`
	ForegroundDetected bool      `json:"foreground_detected"`
	ForegroundPixels   int       `json:"foreground_pixels"`
	Width              int       `json:"width"`
	Height             int       `json:"height"`
	Cropped            bool      `json:"cropped"`
	CreatedAt          time.Time `json:"created_at"`
}

// Key derives the cache key from the uploaded bytes and the crop flag.
func Key(image []byte, crop bool) string {
	sum := sha1.Sum(image)
	return fmt.Sprintf("cutout:%s:crop=%t", hex.EncodeToString(sum[:]), crop)
}

// Outcomes stores Entry values as JSON in a Cache.
type Outcomes struct {
	cache Cache
	ttl   time.Duration
}

func NewOutcomes(c Cache, ttl time.Duration) *Outcomes {
	return &Outcomes{cache: c, ttl: ttl}
}

func (o *Outcomes) Lookup(ctx context.Context, key string) (*Entry, error) {
	raw, err := o.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("decode cached outcome: %w", err)
	}
	return &e, nil
}

func (o *Outcomes) Remember(ctx context.Context, key string, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode outcome: %w", err)
	}
	return o.cache.Set(ctx, key, string(data), o.ttl)
}
