package itembank

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Cache owns the loaded bank for a process. The bank is loaded on first use
// and replaced only by an explicit Reload. Reads are lock-free once loaded;
// mu serializes loads.
type Cache struct {
	provider Provider
	bank     atomic.Pointer[Bank]
	mu       sync.Mutex
}

// NewCache creates a cache over the given provider. Nothing is loaded yet.
func NewCache(p Provider) *Cache {
	return &Cache{provider: p}
}

// Get returns the cached bank, loading it on first call.
func (c *Cache) Get(ctx context.Context) (*Bank, error) {
	if b := c.bank.Load(); b != nil {
		return b, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if b := c.bank.Load(); b != nil {
		return b, nil
	}
	b, err := Load(ctx, c.provider)
	if err != nil {
		return nil, err
	}
	c.bank.Store(b)
	return b, nil
}

// Invalidator is implemented by providers that keep their own copy of the records.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Reload fetches a fresh bank. On failure the previously loaded bank stays in place.
func (c *Cache) Reload(ctx context.Context) (*Bank, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if inv, ok := c.provider.(Invalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			slog.Warn("item bank provider invalidation failed", "error", err)
		}
	}
	b, err := Load(ctx, c.provider)
	if err != nil {
		slog.Warn("item bank reload failed, keeping previous bank", "error", err)
		return nil, err
	}
	c.bank.Store(b)
	return b, nil
}
