package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/redis/go-redis/v9"
)

const (
	TaskTypeGenerate = "generate:process"
	QueueGenerate    = "generate"

	jobTTL = 24 * time.Hour
)

var (
	// ErrJobNotFound is returned for unknown or expired job ids
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCompleted is returned when a result is requested too early
	ErrJobNotCompleted = errors.New("job not completed")
)

// JobService stores async generation jobs in Redis and queues them on asynq
type JobService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
}

func NewJobService(redisClient *redis.Client, asynqClient *asynq.Client) *JobService {
	return &JobService{
		redis:       redisClient,
		asynqClient: asynqClient,
	}
}

// StartJob records a queued job and enqueues its task
func (s *JobService) StartJob(ctx context.Context, input map[string]interface{}) (*model.JobStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:        jobID,
		Type:      model.JobTypeGenerate,
		Status:    model.JobStatusQueued,
		Progress:  0,
		Input:     input,
		CreatedAt: now,
	}

	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := NewGenerateTask(jobID, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// single attempt per job
	_, err = s.asynqClient.EnqueueContext(ctx, task,
		asynq.Queue(QueueGenerate),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a job
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		State:       job.State,
		Progress:    job.Progress,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the response of a finished job, successful or not
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.GenerateResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded && job.Status != model.JobStatusFailed {
		return nil, ErrJobNotCompleted
	}

	var result model.GenerateResponse
	if len(job.Result) > 0 {
		if err := json.Unmarshal(job.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	} else if job.Error != nil {
		result.Error = *job.Error
	}

	return &result, nil
}

// UpdateState records an orchestrator state transition (called by worker)
func (s *JobService) UpdateState(ctx context.Context, jobID string, state model.JobState) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.State = state
	if p := state.Progress(); p > job.Progress {
		job.Progress = p
	}

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob stores the final response (called by worker)
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result *model.GenerateResponse) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Result = resultBytes
	job.CompletedAt = &now
	if result.Failed() {
		errMsg := result.Error
		job.Status = model.JobStatusFailed
		job.State = model.JobStateError
		job.Error = &errMsg
	} else {
		job.Status = model.JobStatusSucceeded
		job.State = model.JobStateDone
		job.Progress = 100
	}

	return s.saveJob(ctx, job)
}

// Helper methods

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// NewGenerateTask builds the asynq task carrying a job input
func NewGenerateTask(jobID string, input map[string]interface{}) (*asynq.Task, error) {
	data, err := json.Marshal(model.GenerateJobPayload{
		JobID: jobID,
		Input: input,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeGenerate, data), nil
}
