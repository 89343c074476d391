package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/service/meta"
)

type cacheEntry struct {
	pipeline *model.Pipeline
	modTime  time.Time
}

// cache holds parsed definitions keyed by location. Entries carry the source
// mod time, so an edited document is reloaded on next use and an Upsert stays
// live until the file changes.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

func newCache() *cache {
	return &cache{entries: map[string]*cacheEntry{}}
}

// lookup returns the cached pipeline when the source document is unchanged.
func (c *cache) lookup(ctx context.Context, metaService *meta.Service, location string) *model.Pipeline {
	c.mu.RLock()
	entry, ok := c.entries[location]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	object, err := metaService.Object(ctx, location)
	if err != nil {
		// source no longer stat-able; serve the cached copy
		return entry.pipeline
	}
	if !object.ModTime().Equal(entry.modTime) && !entry.modTime.IsZero() {
		c.remove(location)
		return nil
	}
	return entry.pipeline
}

// store caches a freshly parsed pipeline together with its source mod time.
func (c *cache) store(ctx context.Context, metaService *meta.Service, location string, pipeline *model.Pipeline) {
	var modTime time.Time
	if object, err := metaService.Object(ctx, location); err == nil {
		modTime = object.ModTime()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[location] = &cacheEntry{pipeline: pipeline, modTime: modTime}
}

// put caches a pipeline without source tracking (hot-swapped definitions).
func (c *cache) put(location string, pipeline *model.Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[location] = &cacheEntry{pipeline: pipeline}
}

func (c *cache) remove(location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, location)
}
