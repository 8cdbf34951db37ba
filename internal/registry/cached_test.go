package registry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smlgpt/internal/models"
)

var errMiss = errors.New("miss")

type mapCache struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	down bool
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mapCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return "", errors.New("connection refused")
	}
	v, ok := m.data[key]
	if !ok {
		return "", errMiss
	}
	return v, nil
}

func (m *mapCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("connection refused")
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = ttl
	return nil
}

func (m *mapCache) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, errors.New("connection refused")
	}
	n, _ := strconv.ParseInt(m.data[key], 10, 64)
	n++
	m.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *mapCache) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func TestCachedReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	reg := NewCached(NewMemory(), cache, time.Hour)
	id := "1700000000000-site-survey"
	require.NoError(t, reg.Put(ctx, sampleFile(id, time.UnixMilli(1700000000000).UTC())))

	got, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "site-survey.pdf", got.Name)
	key := entryKey(id, "1")
	require.True(t, cache.has(key))
	assert.Equal(t, time.Hour, cache.ttls[key])

	processed := &models.FileAnalysis{Type: models.AnalysisTypeDocument, Status: models.StatusProcessed}
	require.NoError(t, reg.AttachAnalysis(ctx, id, processed))

	got, err = reg.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, models.StatusProcessed, got.Analysis.Status)
	assert.True(t, cache.has(entryKey(id, "2")))
}

// afterGetRegistry runs hook once, after the inner read and before the
// caller gets the result.
type afterGetRegistry struct {
	Registry
	hook func()
}

func (r *afterGetRegistry) Get(ctx context.Context, id string) (*models.UploadedFile, error) {
	file, err := r.Registry.Get(ctx, id)
	if r.hook != nil {
		hook := r.hook
		r.hook = nil
		hook()
	}
	return file, err
}

func TestCachedFillRacingAWriteIsNotServed(t *testing.T) {
	ctx := context.Background()
	inner := &afterGetRegistry{Registry: NewMemory()}
	reg := NewCached(inner, newMapCache(), time.Hour)
	id := "1700000000000-roof"
	require.NoError(t, inner.Put(ctx, sampleFile(id, time.Now())))

	processed := &models.FileAnalysis{Type: models.AnalysisTypeImage, Status: models.StatusCompleted}
	inner.hook = func() {
		require.NoError(t, reg.AttachAnalysis(ctx, id, processed))
	}

	// this read saw the placeholder and fills the cache after the write
	stale, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, stale.Analysis.Status)

	got, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Analysis.Status)
}

func TestCachedFallsThroughWhenCacheDown(t *testing.T) {
	ctx := context.Background()
	cache := newMapCache()
	cache.down = true
	reg := NewCached(NewMemory(), cache, time.Hour)
	require.NoError(t, reg.Put(ctx, sampleFile("doc-1", time.Now())))

	got, err := reg.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)

	_, err = reg.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
