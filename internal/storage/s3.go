package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Kind is the flavour of S3-compatible service.
type Kind string

const (
	KindR2           Kind = "r2"
	KindS3           Kind = "s3"
	KindS3Compatible Kind = "s3compatible"
)

// S3Options configures an S3Store.
type S3Options struct {
	Kind      Kind
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
	PublicURL string // CDN or r2.dev prefix; empty means path-style endpoint URLs
}

// S3Store is a PhotoStore on AWS S3, Cloudflare R2 or MinIO.
type S3Store struct {
	client    *s3.Client
	bucket    string
	kind      Kind
	publicURL string
}

// NewS3Store creates a client. Path-style addressing is used so MinIO and
// other S3-compatible servers work with the same code.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	region := opts.Region
	if region == "" {
		if opts.Kind == KindR2 {
			region = "auto"
		} else {
			region = "us-east-1"
		}
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	host := normalizeEndpoint(opts.Endpoint)
	endpointURL := ""
	if host != "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		endpointURL = scheme + "://" + host
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = true
	})

	publicURL := strings.TrimSuffix(opts.PublicURL, "/")
	if publicURL == "" && endpointURL != "" {
		publicURL = endpointURL + "/" + opts.Bucket
	}
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, region)
	}

	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		kind:      opts.Kind,
		publicURL: publicURL,
	}, nil
}

// normalizeEndpoint strips scheme, path and trailing slashes.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return strings.TrimSuffix(endpoint, "/")
}

// EnsureBucket creates the bucket if it doesn't exist. R2 buckets must be
// created in the dashboard.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if s.kind == KindR2 {
		return fmt.Errorf("bucket %s does not exist, please create it in R2 dashboard", s.bucket)
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads a photo and returns its public URL.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Exists checks whether a photo is already mirrored.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check %s: %w", key, err)
}

// URL returns the public URL of a stored photo.
func (s *S3Store) URL(key string) string {
	return s.publicURL + "/" + strings.TrimPrefix(key, "/")
}
