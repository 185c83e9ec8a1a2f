// Package cache implements stale-while-revalidate over a storage.KV.
//
//	age < MaxAge                 fresh: served, no fetch
//	MaxAge <= age < StaleWindow  stale: served, one background refresh per key
//	age >= StaleWindow or miss   fetched synchronously; on failure the
//	                             fallback store answers if it holds a copy
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/storage"
)

// Status tells the caller where a value came from.
type Status string

const (
	Fresh        Status = "fresh"
	Stale        Status = "stale"
	Fetched      Status = "fetched"
	FromFallback Status = "fallback"
)

// Fetcher produces the current encoded value for a key.
type Fetcher func(ctx context.Context) ([]byte, error)

// Fallback is the durable store consulted when a synchronous fetch fails.
type Fallback interface {
	Raw(ctx context.Context, key string) (storage.Item, bool, error)
	SaveRaw(ctx context.Context, key string, b []byte) error
}

type Options struct {
	MaxAge         time.Duration
	StaleWindow    time.Duration
	RefreshTimeout time.Duration
	Logger         logger.Logger
	Now            func() time.Time
}

type Cache struct {
	store    storage.KV
	fallback Fallback
	maxAge   time.Duration
	window   time.Duration
	timeout  time.Duration
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup

	updateMu sync.Mutex // serializes Update read-modify-write cycles
}

// fallbackPrefix namespaces fallback copies inside the durable store.
const fallbackPrefix = "swr:"

func New(store storage.KV, fallback Fallback, opts Options) *Cache {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 5 * time.Minute
	}
	if opts.StaleWindow < opts.MaxAge {
		opts.StaleWindow = 30 * time.Minute
		if opts.StaleWindow < opts.MaxAge {
			opts.StaleWindow = opts.MaxAge
		}
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		store:    store,
		fallback: fallback,
		maxAge:   opts.MaxAge,
		window:   opts.StaleWindow,
		timeout:  opts.RefreshTimeout,
		log:      opts.Logger,
		now:      opts.Now,
		inflight: make(map[string]bool),
	}
}

// Get returns the value for key, fetching it according to its age band.
func (c *Cache) Get(ctx context.Context, key string, fetch Fetcher) ([]byte, Status, error) {
	it, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", logger.String("key", key), logger.Error(err))
		ok = false
	}

	if ok {
		age := c.now().Sub(it.UpdatedAt)
		switch {
		case age < c.maxAge:
			return it.Value, Fresh, nil
		case age < c.window:
			c.revalidate(ctx, key, fetch)
			return it.Value, Stale, nil
		}
	}

	v, err := fetch(ctx)
	if err == nil {
		c.put(ctx, key, v)
		return v, Fetched, nil
	}

	if c.fallback != nil {
		fb, found, ferr := c.fallback.Raw(ctx, fallbackPrefix+key)
		if ferr != nil {
			c.log.Warn("cache fallback read failed", logger.String("key", key), logger.Error(ferr))
		}
		if found {
			c.log.Warn("fetch failed, serving fallback copy",
				logger.String("key", key),
				logger.Time("saved_at", fb.UpdatedAt),
				logger.Error(err))
			return fb.Value, FromFallback, nil
		}
	}
	return nil, "", err
}

func (c *Cache) put(ctx context.Context, key string, v []byte) {
	ctx = context.WithoutCancel(ctx)
	if err := c.store.Put(ctx, key, storage.Item{Value: v, UpdatedAt: c.now()}); err != nil {
		c.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
	}
	if c.fallback != nil {
		if err := c.fallback.SaveRaw(ctx, fallbackPrefix+key, v); err != nil {
			c.log.Warn("cache fallback write failed", logger.String("key", key), logger.Error(err))
		}
	}
}

// revalidate starts a background refresh unless one is already running for key.
func (c *Cache) revalidate(ctx context.Context, key string, fetch Fetcher) {
	c.mu.Lock()
	if c.inflight[key] {
		c.mu.Unlock()
		return
	}
	c.inflight[key] = true
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		v, err := fetch(rctx)
		if err != nil {
			c.log.Debug("background refresh failed", logger.String("key", key), logger.Error(err))
			return
		}
		c.put(rctx, key, v)
	}()
}

// Invalidate drops key so the next Get fetches synchronously. The fallback
// copy is kept.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Update rewrites the cached value of key in place without changing its age,
// so confirmed local edits show up at once but do not postpone the next
// refresh. A missing key is left missing.
func (c *Cache) Update(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	it, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	v, err := fn(it.Value)
	if err != nil {
		return err
	}
	it.Value = v
	return c.store.Put(ctx, key, it)
}

// Purge removes entries too old to be served even as stale.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	return c.store.Purge(ctx, c.now().Add(-c.window))
}

// Wait blocks until background refreshes have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

// Fetch is Get for JSON-encoded values.
func Fetch[T any](ctx context.Context, c *Cache, key string, fetch func(ctx context.Context) (T, error)) (T, Status, error) {
	var zero T
	raw, status, err := c.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, status, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, status, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return v, status, nil
}

// UpdateJSON is Update for JSON-encoded values.
func UpdateJSON[T any](ctx context.Context, c *Cache, key string, fn func(T) T) error {
	return c.Update(ctx, key, func(raw []byte) ([]byte, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode cached %s: %w", key, err)
		}
		return json.Marshal(fn(v))
	})
}
