package objectstore

import (
	"context"
	"io"

	"smlgpt/internal/models"
)

// Store holds uploaded blobs and hands out URLs the AI providers can fetch.
type Store interface {
	// Put writes the object and returns a URL to it.
	Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
	List(ctx context.Context) ([]models.ObjectInfo, error)
	Ping(ctx context.Context) error
}
