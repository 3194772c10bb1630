package httpserver

import (
	"container/list"
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/supercheck-io/supercheck/pkg/run"
)

// runLookupCacheSize bounds the per-connection run cache: live-stream
// fan-out means many events reference the same handful of runs in a burst.
const runLookupCacheSize = 128

// runLookupCache is a small bounded LRU in front of RunStore.GetRun, scoped
// to a single streaming connection: the fan-out callbacks below are invoked
// once per queue event, and without a cache each one re-hits Postgres even
// though the same run IDs recur heavily within a connection's lifetime.
type runLookupCache struct {
	get func(ctx context.Context, id uuid.UUID) (run.Run, error)

	mu    sync.Mutex
	ll    *list.List
	items map[uuid.UUID]*list.Element
}

type runCacheEntry struct {
	id  uuid.UUID
	rec run.Run
	err error
}

func newRunLookupCache(get func(ctx context.Context, id uuid.UUID) (run.Run, error)) *runLookupCache {
	return &runLookupCache{get: get, ll: list.New(), items: make(map[uuid.UUID]*list.Element)}
}

func (c *runLookupCache) Get(ctx context.Context, id uuid.UUID) (run.Run, error) {
	c.mu.Lock()
	if el, ok := c.items[id]; ok {
		c.ll.MoveToFront(el)
		entry := el.Value.(*runCacheEntry)
		c.mu.Unlock()
		return entry.rec, entry.err
	}
	c.mu.Unlock()

	rec, err := c.get(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[id]; ok {
		el.Value.(*runCacheEntry).rec, el.Value.(*runCacheEntry).err = rec, err
		c.ll.MoveToFront(el)
		return rec, err
	}
	el := c.ll.PushFront(&runCacheEntry{id: id, rec: rec, err: err})
	c.items[id] = el
	if c.ll.Len() > runLookupCacheSize {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*runCacheEntry).id)
		}
	}
	return rec, err
}
