package storage

import (
	"context"
	"io"
)

// PhotoStore mirrors downloaded listing photos to object storage.
type PhotoStore interface {
	// Put stores an object and returns its public URL.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)

	// Exists reports whether the object is already stored.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns the public URL of a stored object.
	URL(key string) string
}
