package itembank

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheKey = "cat:itembank:raw"
	DefaultCacheTTL = 10 * time.Minute
)

// RedisCachedProvider caches another provider's raw records in Redis so that
// several server processes share one fetch per TTL window. Redis failures
// fall through to the wrapped provider.
type RedisCachedProvider struct {
	next   Provider
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisCachedProvider wraps next. Empty key and zero ttl take the defaults.
func NewRedisCachedProvider(next Provider, client *redis.Client, key string, ttl time.Duration) *RedisCachedProvider {
	if key == "" {
		key = DefaultCacheKey
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCachedProvider{next: next, client: client, key: key, ttl: ttl}
}

func (p *RedisCachedProvider) FetchAll(ctx context.Context) ([]RawItem, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	switch {
	case err == nil:
		var items []RawItem
		jerr := json.Unmarshal(data, &items)
		if jerr == nil {
			slog.Debug("item bank served from cache", "key", p.key, "items", len(items))
			return items, nil
		}
		slog.Warn("discarding unreadable cached item bank", "key", p.key, "error", jerr)
	case errors.Is(err, redis.Nil):
	default:
		slog.Warn("item bank cache read failed", "key", p.key, "error", err)
	}

	items, err := p.next.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(items); err == nil {
		if err := p.client.Set(ctx, p.key, data, p.ttl).Err(); err != nil {
			slog.Warn("item bank cache write failed", "key", p.key, "error", err)
		}
	}
	return items, nil
}

// Invalidate drops the cached records so the next fetch reaches the wrapped provider.
func (p *RedisCachedProvider) Invalidate(ctx context.Context) error {
	return p.client.Del(ctx, p.key).Err()
}
