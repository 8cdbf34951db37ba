package registry

import (
	"context"
	"sort"
	"sync"

	"smlgpt/internal/models"
)

// Memory is a process local registry guarded by an RWMutex.
type Memory struct {
	mu    sync.RWMutex
	files map[string]*models.UploadedFile
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]*models.UploadedFile)}
}

func (m *Memory) Put(_ context.Context, file *models.UploadedFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file.ID] = clone(file)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*models.UploadedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(f), nil
}

func (m *Memory) AttachAnalysis(_ context.Context, id string, analysis *models.FileAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	updated := clone(f)
	updated.Analysis = analysis
	m.files[id] = updated
	return nil
}

func (m *Memory) List(context.Context) ([]*models.UploadedFile, error) {
	m.mu.RLock()
	out := make([]*models.UploadedFile, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, clone(f))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UploadTime.After(out[j].UploadTime) })
	return out, nil
}
