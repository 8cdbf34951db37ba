package registry

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"smlgpt/internal/models"
)

// Cache is the key/value subset of the Redis client used for lookups.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

const cacheKeyPrefix = "smlgpt:document:"

func versionKey(id string) string { return cacheKeyPrefix + id + ":version" }

func entryKey(id, version string) string { return cacheKeyPrefix + id + ":v" + version }

// Cached serves Get from the cache. Every write bumps the document's version
// and entries are keyed by the version read before the fill, so a fill that
// raced a write lands on a key nobody reads again. Cache failures fall
// through to the inner registry.
type Cached struct {
	inner Registry
	cache Cache
	ttl   time.Duration
	log   *zap.SugaredLogger
}

func NewCached(inner Registry, cache Cache, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, log: zap.S().Named("registry")}
}

func (c *Cached) Put(ctx context.Context, file *models.UploadedFile) error {
	if err := c.inner.Put(ctx, file); err != nil {
		return err
	}
	c.invalidate(ctx, file.ID)
	return nil
}

func (c *Cached) Get(ctx context.Context, id string) (*models.UploadedFile, error) {
	version, err := c.cache.Get(ctx, versionKey(id))
	if err != nil {
		// missing key, or the cache is down and the fill below fails too
		version = "0"
	}
	key := entryKey(id, version)
	if raw, err := c.cache.Get(ctx, key); err == nil {
		var file models.UploadedFile
		if err := json.Unmarshal([]byte(raw), &file); err == nil {
			return &file, nil
		}
		c.log.Warnw("drop undecodable cache entry", "document_id", id)
	}

	file, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(file); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
			c.log.Debugw("cache set failed", "document_id", id, "error", err)
		}
	}
	return file, nil
}

func (c *Cached) AttachAnalysis(ctx context.Context, id string, analysis *models.FileAnalysis) error {
	if err := c.inner.AttachAnalysis(ctx, id, analysis); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

func (c *Cached) List(ctx context.Context) ([]*models.UploadedFile, error) {
	return c.inner.List(ctx)
}

func (c *Cached) invalidate(ctx context.Context, id string) {
	if _, err := c.cache.Incr(ctx, versionKey(id)); err != nil {
		c.log.Warnw("cache invalidation failed", "document_id", id, "error", err)
	}
}
