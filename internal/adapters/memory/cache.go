// Package memory is the process-local snapshot slot used when no shared store
// is configured (single instance, dev).
package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mane_reservas/internal/adapters/observability"
)

type entry struct {
	v       []byte
	expires time.Time
}

type Cache struct {
	mu  sync.RWMutex
	m   map[string]entry
	now func() time.Time
}

func New() *Cache {
	return &Cache{m: make(map[string]entry), now: time.Now}
}

func (c *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && c.now().After(e.expires)) {
		observability.ObserveCache("memory", "miss")
		return false, nil
	}
	observability.ObserveCache("memory", "hit")
	return true, json.Unmarshal(e.v, dst)
}

// Set stores a JSON copy so callers can't mutate the stored value.
func (c *Cache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e := entry{v: b}
	if ttlSec > 0 {
		e.expires = c.now().Add(time.Duration(ttlSec) * time.Second)
	}
	c.mu.Lock()
	c.m[key] = e
	c.mu.Unlock()
	observability.ObserveCache("memory", "set")
	return nil
}

func (c *Cache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
	observability.ObserveCache("memory", "del")
	return nil
}
