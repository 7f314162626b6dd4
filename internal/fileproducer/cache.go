package fileproducer

import (
	"context"
	"sync"
	"time"

	"github.com/instant-chat/instant/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// cache guarantees at-most-one concurrent fetch per path: the first caller
// for a path runs fn, every other concurrent caller for the same path waits
// on and shares that result via singleflight, and a successful result is
// kept until ttl elapses.
type cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]*Blob

	group singleflight.Group
}

func newCache(ttl time.Duration) *cache {
	return &cache{
		ttl:     ttl,
		entries: make(map[string]*Blob),
	}
}

func (c *cache) get(ctx context.Context, path string, fn func(context.Context) (*Blob, error)) (*Blob, error) {
	if blob, ok := c.lookup(path); ok {
		metrics.ProducerCacheResults.WithLabelValues("hit").Inc()
		return blob, nil
	}

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		blob, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if blob != nil {
			c.store(path, blob)
		}
		return blob, nil
	})
	metrics.ProducerCacheResults.WithLabelValues("miss").Inc()
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Blob), nil
}

func (c *cache) lookup(path string) (*Blob, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	blob, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if time.Since(blob.GeneratedAt) > c.ttl {
		return nil, false
	}
	return blob, true
}

func (c *cache) store(path string, blob *Blob) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = blob
}
