package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/domain"
	"github.com/timmy/listingsync/internal/logger"
	"github.com/timmy/listingsync/internal/storage"
)

// MediaService downloads listing photos to a local directory and, when
// configured, mirrors them to object storage.
type MediaService struct {
	client   *resty.Client
	dir      string
	workers  int
	maxBytes int64
	limiter  *rate.Limiter
	store    storage.PhotoStore
}

// NewMediaService creates a MediaService. store may be nil.
func NewMediaService(cfg config.MediaConfig, store storage.PhotoStore) *MediaService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 4
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetLogger(logger.GetDefault())
	if cfg.MaxBytes > 0 {
		client.SetResponseBodyLimit(int(cfg.MaxBytes))
	}

	return &MediaService{
		client:   client,
		dir:      cfg.Dir,
		workers:  workers,
		maxBytes: cfg.MaxBytes,
		limiter:  rate.NewLimiter(limit, workers),
		store:    store,
	}
}

// FetchAll downloads every photo under namespace. The result keeps the
// input order; a photo that cannot be fetched keeps its original URL.
func (s *MediaService) FetchAll(ctx context.Context, namespace string, urls []string) []domain.MediaRef {
	refs := make([]domain.MediaRef, len(urls))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, u := range urls {
		i, u := i, u
		refs[i] = domain.MediaRef{SourceURL: u, Location: u}
		g.Go(func() error {
			ref, err := s.fetch(gctx, namespace, u)
			if err != nil {
				logger.FromContext(ctx).WithError(err).WithField("url", u).Warn("Photo download failed, keeping original URL")
				return nil
			}
			refs[i] = *ref
			return nil
		})
	}
	_ = g.Wait()

	logger.With(logger.Fields{"total": len(urls)}).WithDuration(start).Debug(ctx, "Photos fetched for %s", namespace)
	return refs
}

func (s *MediaService) fetch(ctx context.Context, namespace, url string) (*domain.MediaRef, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.client.R().SetContext(ctx).Get(url)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, fmt.Errorf("download: body exceeds limit of %d bytes: %w", s.maxBytes, err)
	}
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode())
	}
	data := resp.Body()
	if len(data) == 0 {
		return nil, fmt.Errorf("download: empty body")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("not an image: %w", err)
	}

	hash := md5.Sum(data)
	name := hex.EncodeToString(hash[:]) + "." + format
	ns := safeSegment(namespace)

	localPath := filepath.Join(s.dir, ns, name)
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("write photo: %w", err)
	}

	ref := &domain.MediaRef{
		SourceURL: url,
		Location:  url,
		LocalPath: localPath,
		Width:     cfg.Width,
		Height:    cfg.Height,
	}
	if s.store != nil {
		location, err := s.mirror(ctx, ns+"/"+name, data, format)
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField("url", url).Warn("Photo mirror failed")
		} else {
			ref.Location = location
		}
	}
	return ref, nil
}

func (s *MediaService) mirror(ctx context.Context, key string, data []byte, format string) (string, error) {
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return s.store.URL(key), nil
	}
	return s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType(format))
}

// safeSegment turns a listing code into a single path segment.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "_"
	}
	return s
}

func contentType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
