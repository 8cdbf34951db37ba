package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"smlgpt/internal/models"
)

// MemoryStore keeps objects in process, for tests and local runs without a
// bucket. Local runs serve its URLs through Object.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
	modified    time.Time
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://uploads"
	}
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(_ context.Context, name string, r io.Reader, _ int64, contentType string) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	s.mu.Lock()
	s.objects[name] = memoryObject{data: buf.Bytes(), contentType: contentType, modified: time.Now()}
	s.mu.Unlock()
	return s.baseURL + "/" + url.PathEscape(name), nil
}

func (s *MemoryStore) List(context.Context) ([]models.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ObjectInfo, 0, len(s.objects))
	for name, obj := range s.objects {
		out = append(out, models.ObjectInfo{
			Name:         name,
			Size:         int64(len(obj.data)),
			LastModified: obj.modified,
			ContentType:  obj.contentType,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Object returns a stored object with its content type.
func (s *MemoryStore) Object(name string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	return obj.data, obj.contentType, ok
}

// Get returns a stored object's bytes.
func (s *MemoryStore) Get(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[name]
	return obj.data, ok
}

// Len reports how many objects are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
