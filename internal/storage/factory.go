package storage

import (
	"context"
	"strings"

	"github.com/timmy/listingsync/internal/config"
)

// NewPhotoStore builds the configured photo mirror. It returns nil when
// mirroring is disabled.
// Parameters:
//   - ctx: context used for the bucket check.
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - PhotoStore: initialized store, or nil when disabled.
//   - error: non-nil if the client cannot be created or the bucket is missing.
func NewPhotoStore(ctx context.Context, cfg config.StorageConfig) (PhotoStore, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	kind := Kind(cfg.Type)
	if kind == "" {
		kind = detectKind(cfg.Endpoint)
	}

	store, err := NewS3Store(ctx, S3Options{
		Kind:      kind,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func detectKind(endpoint string) Kind {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return KindR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return KindS3
	default:
		return KindS3Compatible
	}
}
