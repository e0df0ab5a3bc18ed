package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/makeasinger/acestep-worker/internal/client"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/makeasinger/acestep-worker/internal/service"
	"go.uber.org/zap"
)

// Messages returned to callers
const (
	MsgBucketNotSet      = "S3_BUCKET_NAME environment variable is not set."
	MsgNoOutput          = "No output generated."
	MsgAudioNotGenerated = "Audio file was not generated."
	MsgUploadFailed      = "Failed to upload to S3."
)

const (
	// one artifact per job
	engineBatchSize = 1
	// audio file plus parameters record
	minEngineOutputLength = 2
)

// JobErrorKind classifies why a job failed
type JobErrorKind string

const (
	KindConfiguration   JobErrorKind = "configuration"
	KindValidation      JobErrorKind = "validation"
	KindMaterialization JobErrorKind = "materialization"
	KindEngine          JobErrorKind = "engine"
	KindOutput          JobErrorKind = "output"
	KindPublish         JobErrorKind = "publish"
)

// JobError is a failed job. Message is what the caller sees; Err is the cause.
type JobError struct {
	Kind    JobErrorKind
	Message string
	Err     error
}

func (e *JobError) Error() string {
	return e.Message
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// ResourceMaterializer turns an audio reference into a local file
type ResourceMaterializer interface {
	Materialize(ctx context.Context, jobID, ref string) (*model.MaterializedResource, error)
}

// ArtifactPublisher uploads a local file and returns a retrievable link
type ArtifactPublisher interface {
	Publish(ctx context.Context, localPath string) (*model.PublishResult, error)
}

// StateObserver is told about every state a job enters
type StateObserver interface {
	OnStateChange(ctx context.Context, jobID string, state model.JobState)
}

// OrchestratorConfig holds the environment the orchestrator runs in
type OrchestratorConfig struct {
	Bucket        string
	WorkspaceRoot string
}

// Orchestrator runs one generation job end to end:
// validate, materialize inputs, invoke the engine, collect, publish.
// It holds no per-job state and may run jobs concurrently.
type Orchestrator struct {
	cfg          OrchestratorConfig
	validator    *service.RequestValidator
	materializer ResourceMaterializer
	engine       client.Engine
	publisher    ArtifactPublisher
	observer     StateObserver
	logger       *zap.Logger
}

// NewOrchestrator wires an orchestrator around a long-lived engine handle
func NewOrchestrator(cfg OrchestratorConfig, engine client.Engine, materializer ResourceMaterializer, publisher ArtifactPublisher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:          cfg,
		validator:    service.NewRequestValidator(),
		materializer: materializer,
		engine:       engine,
		publisher:    publisher,
		logger:       logger,
	}
}

// WithObserver returns a copy of o reporting state changes to obs
func (o *Orchestrator) WithObserver(obs StateObserver) *Orchestrator {
	c := *o
	c.observer = obs
	return &c
}

// Run executes one job and always returns a response; failures of any kind
// come back as {error}. Every resource the job acquired is gone on return.
func (o *Orchestrator) Run(ctx context.Context, jobID string, input map[string]interface{}) *model.GenerateResponse {
	log := o.logger.With(zap.String("job_id", jobID))
	start := time.Now()

	resp, err := o.run(ctx, jobID, input, log)
	if err != nil {
		o.transition(ctx, jobID, model.JobStateError, log)

		var jobErr *JobError
		if !errors.As(err, &jobErr) {
			jobErr = &JobError{Kind: KindEngine, Message: err.Error(), Err: err}
		}
		fields := []zap.Field{zap.String("kind", string(jobErr.Kind)), zap.String("message", jobErr.Message)}
		if jobErr.Err != nil {
			fields = append(fields, zap.Error(jobErr.Err))
		}
		switch jobErr.Kind {
		case KindValidation:
			log.Warn("job rejected", fields...)
		default:
			log.Error("job failed", fields...)
		}
		return &model.GenerateResponse{Error: jobErr.Message}
	}

	o.transition(ctx, jobID, model.JobStateDone, log)
	log.Info("job completed", zap.Duration("elapsed", time.Since(start)), zap.String("task", string(resp.Task)))
	return resp
}

func (o *Orchestrator) run(ctx context.Context, jobID string, input map[string]interface{}, log *zap.Logger) (*model.GenerateResponse, error) {
	if o.cfg.Bucket == "" || o.publisher == nil {
		return nil, &JobError{Kind: KindConfiguration, Message: MsgBucketNotSet}
	}

	o.transition(ctx, jobID, model.JobStateValidating, log)
	desc, err := o.validator.ParseRequest(input)
	if err != nil {
		return nil, &JobError{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	log = log.With(zap.String("task", string(desc.Task)))

	scope := service.NewScope(log)
	defer scope.Close()

	ws, err := service.NewWorkspace(o.cfg.WorkspaceRoot, jobID)
	if err != nil {
		return nil, &JobError{Kind: KindConfiguration, Message: err.Error(), Err: err}
	}
	scope.Push("workspace", ws.Release)

	o.transition(ctx, jobID, model.JobStateMaterializingInputs, log)
	var refPath, srcPath string
	if desc.Reference != nil {
		if refPath, err = o.materialize(ctx, jobID, "ref_audio_input", desc.Reference.Input, scope); err != nil {
			return nil, err
		}
	}
	if src, ok := desc.SourceAudio(); ok {
		if srcPath, err = o.materialize(ctx, jobID, "src_audio_path", src, scope); err != nil {
			return nil, err
		}
	}

	o.transition(ctx, jobID, model.JobStateInvoking, log)
	req := buildGenerationRequest(desc, refPath, srcPath, ws.OutputsDir)
	log.Info("starting generation", zap.Float64("audio_duration", desc.Params.AudioDuration))
	started := time.Now()
	paths, err := o.invoke(ctx, req, log)
	if err != nil {
		return nil, &JobError{Kind: KindEngine, Message: err.Error(), Err: err}
	}
	log.Info("generation finished", zap.Duration("elapsed", time.Since(started)), zap.Strings("outputs", paths))

	o.transition(ctx, jobID, model.JobStateCollectingOutput, log)
	audioPath, err := collectOutput(paths)
	if err != nil {
		return nil, err
	}

	o.transition(ctx, jobID, model.JobStatePublishing, log)
	published, err := o.publisher.Publish(ctx, audioPath)
	if err != nil {
		return nil, &JobError{Kind: KindPublish, Message: MsgUploadFailed, Err: err}
	}
	log.Info("artifact published", zap.String("key", published.Key), zap.Duration("expiry", published.Expiry))

	duration := desc.Params.AudioDuration
	return &model.GenerateResponse{
		AudioURL: published.URL,
		Format:   model.OutputFormatWAV,
		Duration: &duration,
		Task:     desc.Task,
	}, nil
}

func (o *Orchestrator) materialize(ctx context.Context, jobID, field, ref string, scope *service.Scope) (string, error) {
	res, err := o.materializer.Materialize(ctx, jobID, ref)
	if err != nil {
		return "", &JobError{
			Kind:    KindMaterialization,
			Message: fmt.Sprintf("Failed to load '%s': %v", field, err),
			Err:     err,
		}
	}
	scope.Push(field, service.RemoveFile(res.Path))
	return res.Path, nil
}

// invoke calls the engine without a deadline or cancellation of its own and
// turns a panic into an error
func (o *Orchestrator) invoke(ctx context.Context, req *client.GenerationRequest, log *zap.Logger) (paths []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("engine panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%v", r)
		}
	}()
	return o.engine.Generate(context.WithoutCancel(ctx), req)
}

// collectOutput checks the engine output list: the audio file first, then
// the parameters record
func collectOutput(paths []string) (string, error) {
	if len(paths) < minEngineOutputLength {
		return "", &JobError{Kind: KindOutput, Message: MsgNoOutput}
	}
	audioPath := paths[0]
	if audioPath == "" {
		return "", &JobError{Kind: KindOutput, Message: MsgAudioNotGenerated}
	}
	if _, err := os.Stat(audioPath); err != nil {
		return "", &JobError{Kind: KindOutput, Message: MsgAudioNotGenerated, Err: err}
	}
	return audioPath, nil
}

func (o *Orchestrator) transition(ctx context.Context, jobID string, state model.JobState, log *zap.Logger) {
	log.Debug("job state", zap.String("state", string(state)))
	if o.observer != nil {
		o.observer.OnStateChange(ctx, jobID, state)
	}
}
