package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/workspace-core/internal/realtime"
)

// Invalidator is anything InvalidateOnEvent can evict from.
type Invalidator interface {
	Delete(id uuid.UUID)
	Clear()
}

// Cache holds reads keyed by node id until a change event evicts them.
// Every eviction bumps a generation so a load that overlapped it is
// returned to its caller but never stored.
type Cache[V any] struct {
	mu    sync.RWMutex
	items map[uuid.UUID]V
	// epoch counts Clear calls; gens counts Delete calls per id since then.
	epoch uint64
	gens  map[uuid.UUID]uint64

	loads singleflight.Group
}

func NewCache[V any]() *Cache[V] {
	return &Cache[V]{items: make(map[uuid.UUID]V), gens: make(map[uuid.UUID]uint64)}
}

func (c *Cache[V]) Get(id uuid.UUID) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok
}

func (c *Cache[V]) Put(id uuid.UUID, v V) {
	c.mu.Lock()
	c.items[id] = v
	c.mu.Unlock()
}

func (c *Cache[V]) Delete(id uuid.UUID) {
	c.mu.Lock()
	delete(c.items, id)
	c.gens[id]++
	c.mu.Unlock()
	c.loads.Forget(id.String())
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.items = make(map[uuid.UUID]V)
	c.gens = make(map[uuid.UUID]uint64)
	c.epoch++
	c.mu.Unlock()
}

func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

type generation struct{ epoch, gen uint64 }

func (c *Cache[V]) generation(id uuid.UUID) generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return generation{c.epoch, c.gens[id]}
}

// putIfCurrent stores v unless id was evicted after g was taken.
func (c *Cache[V]) putIfCurrent(id uuid.UUID, v V, g generation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != g.epoch || c.gens[id] != g.gen {
		return false
	}
	c.items[id] = v
	return true
}

// Load returns the cached value for id, calling load on a miss. Concurrent
// misses for one id share a single load. Failed loads are not cached, and
// neither is a load that an eviction overlapped.
func (c *Cache[V]) Load(ctx context.Context, id uuid.UUID, load func(context.Context, uuid.UUID) (V, error)) (V, error) {
	if v, ok := c.Get(id); ok {
		return v, nil
	}
	res, err, _ := c.loads.Do(id.String(), func() (any, error) {
		g := c.generation(id)
		v, err := load(ctx, id)
		if err != nil {
			return v, err
		}
		c.putIfCurrent(id, v, g)
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}

// InvalidateOnEvent evicts the changed node and its parent from every cache.
// Events whose payload names no node clear the caches entirely.
func InvalidateOnEvent(caches ...Invalidator) Handler {
	return func(ev realtime.ChangeEvent) {
		var ref struct {
			ID       uuid.UUID  `json:"id"`
			ParentID *uuid.UUID `json:"parent_id"`
		}
		if err := json.Unmarshal(ev.Payload, &ref); err != nil || ref.ID == uuid.Nil {
			for _, c := range caches {
				c.Clear()
			}
			return
		}
		for _, c := range caches {
			c.Delete(ref.ID)
			if ref.ParentID != nil {
				c.Delete(*ref.ParentID)
			}
		}
	}
}

// Chain runs handlers in order.
func Chain(handlers ...Handler) Handler {
	return func(ev realtime.ChangeEvent) {
		for _, h := range handlers {
			if h != nil {
				h(ev)
			}
		}
	}
}
