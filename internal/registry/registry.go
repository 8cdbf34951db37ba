package registry

import (
	"context"
	"errors"

	"smlgpt/internal/models"
)

var ErrNotFound = errors.New("registry: document not found")

// Registry records uploaded files by id. Writes to the same id are last write wins.
type Registry interface {
	Put(ctx context.Context, file *models.UploadedFile) error
	Get(ctx context.Context, id string) (*models.UploadedFile, error)
	// AttachAnalysis replaces the file's analysis as a whole.
	AttachAnalysis(ctx context.Context, id string, analysis *models.FileAnalysis) error
	// List returns files newest first.
	List(ctx context.Context) ([]*models.UploadedFile, error)
}

func clone(f *models.UploadedFile) *models.UploadedFile {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}
