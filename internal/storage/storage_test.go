package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/listingsync/internal/config"
)

func TestDetectKind(t *testing.T) {
	assert.Equal(t, KindR2, detectKind("https://abc.r2.cloudflarestorage.com"))
	assert.Equal(t, KindS3, detectKind("s3.us-east-1.amazonaws.com"))
	assert.Equal(t, KindS3, detectKind(""))
	assert.Equal(t, KindS3Compatible, detectKind("localhost:9000"))
}

func TestNormalizeEndpoint(t *testing.T) {
	assert.Equal(t, "minio.local:9000", normalizeEndpoint("http://minio.local:9000/"))
	assert.Equal(t, "cdn.example.com", normalizeEndpoint("https://cdn.example.com/some/path"))
}

func TestNewS3Store_PublicURL(t *testing.T) {
	ctx := context.Background()

	store, err := NewS3Store(ctx, S3Options{
		Kind:      KindS3Compatible,
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "listing-photos",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/listing-photos/ap1/0.jpg", store.URL("ap1/0.jpg"))

	store, err = NewS3Store(ctx, S3Options{
		Kind:      KindR2,
		Endpoint:  "abc.r2.cloudflarestorage.com",
		UseSSL:    true,
		Bucket:    "photos",
		PublicURL: "https://cdn.example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/ap1/0.jpg", store.URL("/ap1/0.jpg"))
}

func TestNewPhotoStore_Disabled(t *testing.T) {
	store, err := NewPhotoStore(context.Background(), config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, store)
}
