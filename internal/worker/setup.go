package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/makeasinger/acestep-worker/internal/client"
	"github.com/makeasinger/acestep-worker/internal/config"
	"github.com/makeasinger/acestep-worker/internal/service"
	"go.uber.org/zap"
)

// Pipeline is the set of long-lived handles a process needs to run jobs
type Pipeline struct {
	Orchestrator *Orchestrator
	Engine       client.Engine
	// Storage is nil when no bucket is configured
	Storage client.StorageClient
}

// Build wires the engine, materializer and publisher described by cfg.
// A missing bucket is not an error here: every job will fail with
// MsgBucketNotSet instead.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	engine, err := client.NewEngine(&cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	var publisher ArtifactPublisher
	storage, err := client.NewStorageClient(ctx, &cfg.Storage)
	switch {
	case errors.Is(err, client.ErrBucketNotConfigured):
		logger.Warn("object storage not configured, jobs will fail", zap.String("env", "S3_BUCKET_NAME"))
		storage = nil
	case err != nil:
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	default:
		publisher = service.NewPublisher(storage, cfg.Storage.KeyPrefix)
	}

	materializer := service.NewMaterializer(nil, cfg.Workspace.TempDir, logger)

	orchestrator := NewOrchestrator(
		OrchestratorConfig{
			Bucket:        cfg.Storage.BucketName,
			WorkspaceRoot: cfg.Workspace.Root,
		},
		engine,
		materializer,
		publisher,
		logger,
	)

	return &Pipeline{
		Orchestrator: orchestrator,
		Engine:       engine,
		Storage:      storage,
	}, nil
}
