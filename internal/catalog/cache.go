package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	lastSuffix = ":last"
	// last-known-good copies outlive the regular TTL so listings survive a backend outage
	defaultStaleTTL = 24 * time.Hour
)

// Cache keeps catalog snapshots in Redis. Put writes the snapshot under key
// with the cache TTL and a last-known-good copy under key+":last". A nil Cache
// or client disables caching.
type Cache struct {
	client   *redis.Client
	ttl      time.Duration
	staleTTL time.Duration
}

type entry struct {
	FetchedAt time.Time       `json:"fetchedAt"`
	Data      json.RawMessage `json:"data"`
}

// NewCache constructs a Cache whose snapshots expire after ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, staleTTL: max(defaultStaleTTL, ttl)}
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

// Get decodes the live snapshot under key into dst and returns when it was
// fetched. ok is false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dst any) (fetchedAt time.Time, ok bool, err error) {
	return c.read(ctx, key, dst)
}

// Stale decodes the last-known-good copy of key into dst.
func (c *Cache) Stale(ctx context.Context, key string, dst any) (fetchedAt time.Time, ok bool, err error) {
	return c.read(ctx, key+lastSuffix, dst)
}

func (c *Cache) read(ctx context.Context, key string, dst any) (time.Time, bool, error) {
	if !c.enabled() {
		return time.Time{}, false, nil
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return time.Time{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e.FetchedAt, true, nil
}

// Put stores v as the live snapshot and the last-known-good copy.
func (c *Cache) Put(ctx context.Context, key string, v any, fetchedAt time.Time) error {
	if !c.enabled() {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(entry{FetchedAt: fetchedAt.UTC(), Data: data})
	if err != nil {
		return err
	}
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, raw, c.ttl)
		p.Set(ctx, key+lastSuffix, raw, c.staleTTL)
		return nil
	})
	return err
}

// Invalidate drops the live snapshots for keys. Last-known-good copies stay.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
