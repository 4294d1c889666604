package pool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ModelCache memoizes decoded prototypes by asset key. Concurrent misses for
// the same key share one decode. Eviction only drops the cache's reference;
// instances already derived from a prototype keep it alive. A key whose decode
// failed is remembered and not decoded again while it stays in the failure set.
type ModelCache struct {
	dec     Decoder
	models  *lru.Cache[AssetKey, *Model]
	failed  *lru.Cache[AssetKey, error]
	group   singleflight.Group
	retries int

	hits     atomic.Int64
	misses   atomic.Int64
	decodes  atomic.Int64
	failures atomic.Int64
}

// CacheStats is a point-in-time view of cache counters.
type CacheStats struct {
	Entries  int
	Hits     int64
	Misses   int64
	Decodes  int64
	Failures int64
}

// NewModelCache creates a cache of at most size prototypes. retries is the
// number of extra decode attempts after a failure (0 = no retry).
func NewModelCache(dec Decoder, size int, retries int) (*ModelCache, error) {
	if dec == nil {
		return nil, errors.New("model cache: nil decoder")
	}
	if size <= 0 {
		size = 1024
	}
	if retries < 0 {
		retries = 0
	}
	models, err := lru.New[AssetKey, *Model](size)
	if err != nil {
		return nil, fmt.Errorf("model cache: %w", err)
	}
	failed, err := lru.New[AssetKey, error](size)
	if err != nil {
		return nil, fmt.Errorf("model cache: %w", err)
	}
	return &ModelCache{dec: dec, models: models, failed: failed, retries: retries}, nil
}

// Peek returns a cached prototype without decoding.
func (c *ModelCache) Peek(key AssetKey) (*Model, bool) {
	return c.models.Peek(key)
}

// Failure returns the remembered decode error for key, if any.
func (c *ModelCache) Failure(key AssetKey) (error, bool) {
	return c.failed.Get(key)
}

// Get returns the prototype for key, decoding it on a miss. A key that already
// failed returns its remembered error without another decode.
func (c *ModelCache) Get(ctx context.Context, key AssetKey) (*Model, error) {
	if m, ok := c.models.Get(key); ok {
		c.hits.Add(1)
		return m, nil
	}
	if err, ok := c.failed.Get(key); ok {
		return nil, err
	}
	c.misses.Add(1)
	v, err, _ := c.group.Do(string(key), func() (any, error) {
		if m, ok := c.models.Peek(key); ok {
			return m, nil
		}
		if err, ok := c.failed.Peek(key); ok {
			return nil, err
		}
		m, err := c.decode(ctx, key)
		if err != nil {
			// Cancellation says nothing about the asset.
			if errors.Is(err, ErrDecode) {
				c.failed.Add(key, err)
			}
			return nil, err
		}
		c.models.Add(key, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

func (c *ModelCache) decode(ctx context.Context, key AssetKey) (*Model, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c.decodes.Add(1)
		m, err := c.dec.Decode(ctx, key)
		if err == nil && m != nil {
			return m, nil
		}
		if err == nil {
			err = errors.New("decoder returned no model")
		}
		lastErr = err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.failures.Add(1)
	return nil, fmt.Errorf("%w: %s: %v", ErrDecode, key, lastErr)
}

func (c *ModelCache) Len() int { return c.models.Len() }

func (c *ModelCache) Stats() CacheStats {
	return CacheStats{
		Entries:  c.models.Len(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Decodes:  c.decodes.Load(),
		Failures: c.failures.Load(),
	}
}
