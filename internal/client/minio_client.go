package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/makeasinger/acestep-worker/internal/config"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient implements StorageClient on top of minio-go
type MinioClient struct {
	client     *minio.Client
	bucketName string
	hasKeys    bool
}

// NewMinioClient creates a MinIO client from an endpoint URL such as
// "http://minio:9000". The scheme decides whether TLS is used.
func NewMinioClient(cfg *config.StorageConfig) (*MinioClient, error) {
	if cfg.BucketName == "" {
		return nil, ErrBucketNotConfigured
	}
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("minio storage requires an endpoint URL")
	}

	host, secure, err := splitEndpoint(cfg.EndpointURL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinioClient{
		client:     client,
		bucketName: cfg.BucketName,
		hasKeys:    cfg.AccessKeyID != "" && cfg.SecretAccessKey != "",
	}, nil
}

func splitEndpoint(endpoint string) (string, bool, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid storage endpoint %q: %w", endpoint, err)
	}
	return u.Host, u.Scheme == "https", nil
}

// Bucket returns the target bucket name
func (c *MinioClient) Bucket() string {
	return c.bucketName
}

// Upload stores body under key
func (c *MinioClient) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if !c.hasKeys {
		return ErrNoCredentials
	}

	_, err := c.client.PutObject(ctx, c.bucketName, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return classifyMinioError(fmt.Errorf("failed to upload to MinIO: %w", err))
	}
	return nil
}

// Exists reports whether an object is already stored under key
func (c *MinioClient) Exists(ctx context.Context, key string) (bool, error) {
	if !c.hasKeys {
		return false, ErrNoCredentials
	}

	_, err := c.client.StatObject(ctx, c.bucketName, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return false, nil
	}
	// missing keys read as 403 without list permission
	if resp.StatusCode == http.StatusForbidden {
		return false, nil
	}
	return false, classifyMinioError(fmt.Errorf("failed to stat object: %w", err))
}

// GetSignedURL generates a presigned GET URL
func (c *MinioClient) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := c.client.PresignedGetObject(ctx, c.bucketName, key, expiry, url.Values{})
	if err != nil {
		return "", classifyMinioError(fmt.Errorf("failed to generate presigned URL: %w", err))
	}
	return u.String(), nil
}

func classifyMinioError(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "AccessDenied":
		return fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	return err
}
