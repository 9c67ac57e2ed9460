package posts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const listCacheKey = "posts:list"

// Cache keeps the rendered post listing in Redis for a short TTL. A nil
// cache or client degrades to straight repository reads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetList returns the cached listing, (nil, false) on miss or error.
func (c *Cache) GetList(ctx context.Context) ([]Post, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, listCacheKey).Bytes()
	if err != nil {
		return nil, false
	}
	var cached []Post
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, false
	}
	return cached, true
}

// SetList stores the listing.
func (c *Cache) SetList(ctx context.Context, list []Post) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listCacheKey, raw, c.ttl).Err()
}

// Invalidate drops the cached listing after a write.
func (c *Cache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, listCacheKey).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
