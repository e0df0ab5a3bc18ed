package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/makeasinger/acestep-worker/internal/config"
)

var (
	// ErrBucketNotConfigured is returned when no bucket name is configured
	ErrBucketNotConfigured = errors.New("storage bucket is not configured")
	// ErrNoCredentials is returned when storage credentials are missing or rejected
	ErrNoCredentials = errors.New("storage credentials not available")
)

// StorageClient defines the interface for object storage operations
type StorageClient interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Bucket() string
}

// NewStorageClient builds the backend selected by cfg.Driver
func NewStorageClient(ctx context.Context, cfg *config.StorageConfig) (StorageClient, error) {
	switch cfg.Driver {
	case "", "s3":
		c, err := NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "minio":
		c, err := NewMinioClient(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
