// Package cache provides the in-memory compiled-module cache (a bounded
// LRU) and a content-addressed on-disk store for raw package payloads.
// Compiled modules themselves are not written to disk.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ModuleCache is the in-memory tier of the compilation cache: a bounded LRU
// of already-compiled wazero modules, keyed by their content hash
// (manifest.ContentHash). Concurrent misses for the same hash are coalesced
// through a singleflight group so only one compile runs per hash at a time,
// without holding a lock across the compile call.
type ModuleCache struct {
	mem      *lru.Cache[string, wazero.CompiledModule]
	capacity int
	group    singleflight.Group
	logger   *zap.Logger
}

// NewModuleCache creates a ModuleCache with the given in-memory entry bound.
// Evicted modules are closed so their underlying compiled code is released.
func NewModuleCache(capacity int, logger *zap.Logger) (*ModuleCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ModuleCache{logger: logger, capacity: capacity}
	evict := func(hash string, module wazero.CompiledModule) {
		if err := module.Close(context.Background()); err != nil {
			c.logger.Warn("failed to close evicted module", zap.String("content_hash", hash), zap.Error(err))
		} else {
			c.logger.Debug("evicted module from cache", zap.String("content_hash", hash))
		}
	}
	mem, err := lru.NewWithEvict(capacity, evict)
	if err != nil {
		return nil, fmt.Errorf("create module cache: %w", err)
	}
	c.mem = mem
	return c, nil
}

// Get retrieves a compiled module by content hash without compiling.
func (c *ModuleCache) Get(contentHash string) (wazero.CompiledModule, bool) {
	return c.mem.Get(contentHash)
}

// GetOrCompile returns the cached module for contentHash, compiling and
// caching it via runtime.CompileModule(ctx, wasmBytes) on a miss. Concurrent
// callers racing on the same contentHash share one compilation.
func (c *ModuleCache) GetOrCompile(ctx context.Context, runtime wazero.Runtime, contentHash string, wasmBytes []byte) (wazero.CompiledModule, error) {
	if module, ok := c.mem.Get(contentHash); ok {
		return module, nil
	}

	result, err, _ := c.group.Do(contentHash, func() (interface{}, error) {
		if module, ok := c.mem.Get(contentHash); ok {
			return module, nil
		}
		module, err := runtime.CompileModule(ctx, wasmBytes)
		if err != nil {
			return nil, fmt.Errorf("compile module %s: %w", contentHash, err)
		}
		c.mem.Add(contentHash, module)
		c.logger.Debug("module compiled and cached",
			zap.String("content_hash", contentHash),
			zap.Int("cache_len", c.mem.Len()),
		)
		return module, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(wazero.CompiledModule), nil
}

// Invalidate removes and closes the module for contentHash, if present.
func (c *ModuleCache) Invalidate(ctx context.Context, contentHash string) {
	if module, ok := c.mem.Peek(contentHash); ok {
		_ = module.Close(ctx)
	}
	c.mem.Remove(contentHash)
}

// Clear removes and closes every cached module.
func (c *ModuleCache) Clear(ctx context.Context) {
	for _, hash := range c.mem.Keys() {
		if module, ok := c.mem.Peek(hash); ok {
			_ = module.Close(ctx)
		}
	}
	c.mem.Purge()
}

// Stats reports the current size and capacity of the in-memory tier.
func (c *ModuleCache) Stats() (size int, capacity int) {
	return c.mem.Len(), c.capacity
}

// Len returns the number of modules currently cached.
func (c *ModuleCache) Len() int { return c.mem.Len() }
