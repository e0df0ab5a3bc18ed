package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/makeasinger/acestep-worker/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves path-style PUT and HEAD requests from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	// missingStatus is the HEAD status for absent keys, 404 when zero
	missingStatus int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			status := f.missingStatus
			if status == 0 {
				status = http.StatusNotFound
			}
			w.WriteHeader(status)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3Client(t *testing.T, endpoint string) *S3Client {
	t.Helper()
	c, err := NewS3Client(context.Background(), &config.StorageConfig{
		BucketName:      "songs",
		AccessKeyID:     "AKIATEST",
		SecretAccessKey: "secret",
		EndpointURL:     endpoint,
		Region:          "us-east-1",
	})
	require.NoError(t, err)
	return c
}

func TestS3ClientUploadAndExists(t *testing.T) {
	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestS3Client(t, srv.URL)
	ctx := context.Background()

	exists, err := c.Exists(ctx, "a.wav")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Upload(ctx, "a.wav", strings.NewReader("RIFF"), 4, "audio/wav"))
	assert.Equal(t, []byte("RIFF"), fake.objects["/songs/a.wav"])
	assert.Equal(t, "audio/wav", fake.types["/songs/a.wav"])

	exists, err = c.Exists(ctx, "a.wav")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestS3ClientExistsWithoutListPermission(t *testing.T) {
	fake := newFakeS3()
	fake.missingStatus = http.StatusForbidden
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestS3Client(t, srv.URL)
	ctx := context.Background()

	exists, err := c.Exists(ctx, "fresh.wav")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, c.Upload(ctx, "fresh.wav", strings.NewReader("RIFF"), 4, "audio/wav"))
	assert.Equal(t, []byte("RIFF"), fake.objects["/songs/fresh.wav"])
}

func TestS3ClientSignedURL(t *testing.T) {
	c := newTestS3Client(t, "http://127.0.0.1:9000")

	u, err := c.GetSignedURL(context.Background(), "a.wav", 24*time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "/songs/a.wav")
	assert.Contains(t, u, "X-Amz-Expires=86400")
}

func TestNewS3ClientRequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), &config.StorageConfig{})
	assert.ErrorIs(t, err, ErrBucketNotConfigured)
}

func TestNewStorageClient(t *testing.T) {
	ctx := context.Background()

	c, err := NewStorageClient(ctx, &config.StorageConfig{Driver: "s3", BucketName: "songs", Region: "eu-west-1"})
	require.NoError(t, err)
	assert.Equal(t, "songs", c.Bucket())

	c, err = NewStorageClient(ctx, &config.StorageConfig{
		Driver:          "minio",
		BucketName:      "songs",
		EndpointURL:     "http://minio:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	require.NoError(t, err)
	assert.IsType(t, &MinioClient{}, c)

	_, err = NewStorageClient(ctx, &config.StorageConfig{Driver: "gcs", BucketName: "songs"})
	assert.Error(t, err)
}

func TestMinioClientWithoutKeys(t *testing.T) {
	c, err := NewMinioClient(&config.StorageConfig{BucketName: "songs", EndpointURL: "http://minio:9000"})
	require.NoError(t, err)

	err = c.Upload(context.Background(), "a.wav", strings.NewReader("x"), 1, "audio/wav")
	assert.ErrorIs(t, err, ErrNoCredentials)

	_, err = c.Exists(context.Background(), "a.wav")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestSplitEndpoint(t *testing.T) {
	host, secure, err := splitEndpoint("http://minio:9000")
	require.NoError(t, err)
	assert.Equal(t, "minio:9000", host)
	assert.False(t, secure)

	host, secure, err = splitEndpoint("https://s3.example.com")
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	host, secure, err = splitEndpoint("play.min.io")
	require.NoError(t, err)
	assert.Equal(t, "play.min.io", host)
	assert.True(t, secure)
}
