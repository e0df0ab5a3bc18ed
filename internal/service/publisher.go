package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/makeasinger/acestep-worker/internal/client"
	"github.com/makeasinger/acestep-worker/internal/model"
)

// PublishURLExpiry is the validity window of a published link
const PublishURLExpiry = 24 * time.Hour

var (
	// ErrArtifactNotFound is returned when the local file to publish does not exist
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrObjectExists is returned when the generated key is already taken
	ErrObjectExists = errors.New("object already exists")
	// ErrMissingCredentials is returned when storage credentials are missing or rejected
	ErrMissingCredentials = errors.New("storage credentials not available")
	// ErrPublishFailed is returned for any other backend failure
	ErrPublishFailed = errors.New("publish failed")
)

// Publisher uploads artifacts to object storage and returns presigned links
type Publisher struct {
	storage   client.StorageClient
	keyPrefix string
	newKey    func() string
}

// NewPublisher creates a publisher storing objects as <prefix>/<uuid>.wav
func NewPublisher(storage client.StorageClient, keyPrefix string) *Publisher {
	return &Publisher{
		storage:   storage,
		keyPrefix: keyPrefix,
		newKey: func() string {
			return uuid.New().String() + "." + model.OutputFormatWAV
		},
	}
}

// Publish uploads the file at localPath under a fresh unique key. It makes a
// single attempt and never overwrites an existing object.
func (p *Publisher) Publish(ctx context.Context, localPath string) (*model.PublishResult, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, localPath)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrArtifactNotFound, localPath)
	}

	key := p.newKey()
	if p.keyPrefix != "" {
		key = path.Join(p.keyPrefix, key)
	}

	exists, err := p.storage.Exists(ctx, key)
	if err != nil {
		return nil, classifyPublishError(err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
	}
	defer f.Close()

	if err := p.storage.Upload(ctx, key, f, info.Size(), "audio/wav"); err != nil {
		return nil, classifyPublishError(err)
	}

	url, err := p.storage.GetSignedURL(ctx, key, PublishURLExpiry)
	if err != nil {
		return nil, classifyPublishError(err)
	}

	return &model.PublishResult{
		URL:    url,
		Key:    key,
		Expiry: PublishURLExpiry,
	}, nil
}

func classifyPublishError(err error) error {
	if errors.Is(err, client.ErrNoCredentials) {
		return fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	return fmt.Errorf("%w: %v", ErrPublishFailed, err)
}
