package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tablekit/tablekit/engine"
	"github.com/tablekit/tablekit/params"
)

// entry is the stored envelope. Freshness is derived on read: fresh before
// StoredAt+TTL, stale until StoredAt+TTL+SWR, evicted by the store after
// that (entries are stored with TTL+SWR total retention).
type entry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
	TTL      time.Duration   `json:"ttl"`
	SWR      time.Duration   `json:"swr"`
}

// stale holds at the exact StoredAt+TTL instant: freshness ends when the
// TTL elapses, not one tick later.
func (e *entry) stale(now time.Time) bool {
	return !now.Before(e.StoredAt.Add(e.TTL))
}

// ExecutorConfig configures the caching decorator
type ExecutorConfig struct {
	// TTL is the freshness window for cached results
	TTL time.Duration
	// SWR is the stale-while-revalidate window after TTL. Zero disables
	// stale serving.
	SWR time.Duration
	// CacheCounts opts count results into caching (off by default)
	CacheCounts bool
	// CacheExports opts export payloads into caching (off by default)
	CacheExports bool
	// Logger receives swallowed store failures (default: no-op)
	Logger *zap.Logger
}

// DefaultExecutorConfig returns a default decorator configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		TTL: 30 * time.Second,
		SWR: 60 * time.Second,
	}
}

// CachedExecutor decorates an engine.Executor with get-or-compute caching.
// The store and the per-key revalidation flags are the only mutable shared
// state; both are owned by this value, never module-level.
type CachedExecutor struct {
	next   engine.Executor
	store  Store
	config ExecutorConfig
	logger *zap.Logger

	// revalidating tracks in-flight background refreshes per key. The
	// LoadOrStore claim guarantees at most one refresh per key.
	revalidating sync.Map

	// now is replaceable in tests
	now func() time.Time
}

// NewCachedExecutor wraps an executor with the given store
func NewCachedExecutor(next engine.Executor, store Store, config ExecutorConfig) *CachedExecutor {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &CachedExecutor{
		next:   next,
		store:  store,
		config: config,
		logger: config.Logger,
		now:    time.Now,
	}
}

// Query serves the main row query through the cache
func (c *CachedExecutor) Query(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.Result, error) {
	key := Key("query", resource, p, rc)
	out := new(engine.Result)
	err := c.through(ctx, key, out, func(ctx context.Context) (any, error) {
		return c.next.Query(ctx, resource, p, rc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryGrouped serves the grouped variant through the cache
func (c *CachedExecutor) QueryGrouped(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.Result, error) {
	key := Key("queryGrouped", resource, p, rc)
	out := new(engine.Result)
	err := c.through(ctx, key, out, func(ctx context.Context) (any, error) {
		return c.next.QueryGrouped(ctx, resource, p, rc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryRecursive serves the hierarchical variant through the cache
func (c *CachedExecutor) QueryRecursive(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.Result, error) {
	key := Key("queryRecursive", resource, p, rc)
	out := new(engine.Result)
	err := c.through(ctx, key, out, func(ctx context.Context) (any, error) {
		return c.next.QueryRecursive(ctx, resource, p, rc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count serves counts through the cache only when opted in; counts are
// heavier to cache usefully and cheap to recompute alongside queries
func (c *CachedExecutor) Count(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.CountResult, error) {
	if !c.config.CacheCounts {
		return c.next.Count(ctx, resource, p, rc)
	}
	key := Key("count", resource, p, rc)
	out := new(engine.CountResult)
	err := c.through(ctx, key, out, func(ctx context.Context) (any, error) {
		return c.next.Count(ctx, resource, p, rc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Export serves export payloads through the cache only when opted in
func (c *CachedExecutor) Export(ctx context.Context, resource string, p *params.Params, rc *engine.RequestContext) (*engine.ExportResult, error) {
	if !c.config.CacheExports {
		return c.next.Export(ctx, resource, p, rc)
	}
	key := Key("export", resource, p, rc)
	out := new(engine.ExportResult)
	err := c.through(ctx, key, out, func(ctx context.Context) (any, error) {
		return c.next.Export(ctx, resource, p, rc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops one operation's cached result
func (c *CachedExecutor) Invalidate(ctx context.Context, op, resource string, p *params.Params, rc *engine.RequestContext) error {
	return c.store.Delete(ctx, Key(op, resource, p, rc))
}

// Clear empties the cache
func (c *CachedExecutor) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// compute is one upstream recomputation, run either synchronously on a
// miss or in the background on a stale hit
type compute func(ctx context.Context) (any, error)

// through implements the get-or-compute pattern: fresh entries return
// immediately; stale entries return immediately and trigger at most one
// background revalidation; misses compute synchronously and store the
// result
func (c *CachedExecutor) through(ctx context.Context, key string, out any, fn compute) error {
	if raw, err := c.store.Get(ctx, key); err == nil {
		var e entry
		if err := json.Unmarshal(raw, &e); err == nil {
			if err := json.Unmarshal(e.Value, out); err == nil {
				if e.stale(c.now()) {
					c.revalidate(key, fn)
				}
				return nil
			}
		}
		// an undecodable entry is treated as a miss and overwritten below
	} else if !IsCacheMiss(err) {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	value, err := fn(ctx)
	if err != nil {
		return err
	}
	c.put(ctx, key, value)

	return remarshal(value, out)
}

// revalidate starts a one-shot background refresh for key unless one is
// already in flight. The flag is set before the task starts and cleared
// only after it completes or fails.
func (c *CachedExecutor) revalidate(key string, fn compute) {
	if _, inFlight := c.revalidating.LoadOrStore(key, struct{}{}); inFlight {
		return
	}

	go func() {
		defer c.revalidating.Delete(key)

		// detached from the request that observed staleness
		ctx := context.Background()
		value, err := fn(ctx)
		if err != nil {
			c.logger.Warn("background revalidation failed", zap.String("key", key), zap.Error(err))
			return
		}
		c.put(ctx, key, value)
	}()
}

// put stores a computed value. Store writes are fire-and-forget relative
// to the response path: failures are logged, never propagated.
func (c *CachedExecutor) put(ctx context.Context, key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	e := entry{
		Value:    raw,
		StoredAt: c.now(),
		TTL:      c.config.TTL,
		SWR:      c.config.SWR,
	}
	encoded, err := json.Marshal(&e)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, key, encoded, c.config.TTL+c.config.SWR); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// remarshal copies a computed value into the caller's typed destination
func remarshal(value, out any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
