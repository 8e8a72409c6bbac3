package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/lubepos/lubepos/internal/shared"
)

const keyPrefix = "lubepos:assistant"

// Cache stores query results under keys versioned by the collections they read.
// Bumping a collection's version makes every dependent entry unreachable.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache constructs Cache. A nil client disables caching.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func versionKey(c shared.Collection) string {
	return keyPrefix + ":version:" + string(c)
}

// Bump invalidates entries that depend on any collection in changed.
func (c *Cache) Bump(ctx context.Context, changed shared.ChangeSet) error {
	if c == nil || c.client == nil || len(changed) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, col := range changed {
		pipe.Incr(ctx, versionKey(col))
	}
	_, err := pipe.Exec(ctx)
	return err
}

// key composes name, params and the current version of every dependency.
func (c *Cache) key(ctx context.Context, name string, deps []shared.Collection, params ...string) (string, error) {
	keys := make([]string, len(deps))
	for i, d := range deps {
		keys[i] = versionKey(d)
	}
	versions, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return "", err
	}
	parts := []string{keyPrefix, name}
	for i, v := range versions {
		ver := "0"
		if s, ok := v.(string); ok {
			ver = s
		}
		parts = append(parts, string(deps[i])+"="+ver)
	}
	parts = append(parts, params...)
	return strings.Join(parts, ":"), nil
}

func fetch[T any](ctx context.Context, c *Cache, name string, deps []shared.Collection, params []string, load func(context.Context) (T, error)) (T, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	var zero T
	key, err := c.key(ctx, name, deps, params...)
	if err != nil {
		return load(ctx)
	}
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var out T
		if err := json.Unmarshal(payload, &out); err == nil {
			return out, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return load(ctx)
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("assistant cache: encode %s: %w", name, err)
		}
		_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
