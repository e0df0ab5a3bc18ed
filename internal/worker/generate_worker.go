package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/makeasinger/acestep-worker/pkg/response"
	"go.uber.org/zap"
)

// JobStore persists async job progress
type JobStore interface {
	UpdateState(ctx context.Context, jobID string, state model.JobState) error
	CompleteJob(ctx context.Context, jobID string, result *model.GenerateResponse) error
}

// Broadcaster pushes job updates to live subscribers
type Broadcaster interface {
	BroadcastState(jobID string, state model.JobState, status model.JobStatus)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// GenerateWorker processes queued generate tasks
type GenerateWorker struct {
	jobs         JobStore
	orchestrator *Orchestrator
	hub          Broadcaster
	logger       *zap.Logger
}

// NewGenerateWorker creates a new generate worker. hub may be nil.
func NewGenerateWorker(jobs JobStore, orchestrator *Orchestrator, hub Broadcaster, logger *zap.Logger) *GenerateWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &GenerateWorker{
		jobs:   jobs,
		hub:    hub,
		logger: logger,
	}
	w.orchestrator = orchestrator.WithObserver(w)
	return w
}

// ProcessTask handles generate task processing
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.GenerateJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %v: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	w.logger.Info("starting generate job", zap.String("job_id", jobID))

	result := w.orchestrator.Run(ctx, jobID, payload.Input)

	if err := w.jobs.CompleteJob(ctx, jobID, result); err != nil {
		w.logger.Error("failed to save job result", zap.String("job_id", jobID), zap.Error(err))
	}

	if result.Failed() {
		if w.hub != nil {
			w.hub.BroadcastError(jobID, response.CodeGenerationError, result.Error)
		}
		return fmt.Errorf("generate job %s failed: %s: %w", jobID, result.Error, asynq.SkipRetry)
	}

	if w.hub != nil {
		w.hub.BroadcastComplete(jobID, result)
	}
	w.logger.Info("generate job completed", zap.String("job_id", jobID))
	return nil
}

// OnStateChange records the new state and forwards it to subscribers
func (w *GenerateWorker) OnStateChange(ctx context.Context, jobID string, state model.JobState) {
	if state == model.JobStateDone || state == model.JobStateError {
		// terminal states are written with the result
		return
	}
	if err := w.jobs.UpdateState(ctx, jobID, state); err != nil {
		w.logger.Warn("failed to update job state", zap.String("job_id", jobID), zap.String("state", string(state)), zap.Error(err))
	}
	if w.hub != nil {
		w.hub.BroadcastState(jobID, state, model.JobStatusRunning)
	}
}
