package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/makeasinger/acestep-worker/internal/service"
	"github.com/makeasinger/acestep-worker/pkg/response"
	"go.uber.org/zap"
)

// MsgInvalidBody is returned for a body that is not a JSON object
const MsgInvalidBody = "Invalid request body"

// Runner executes one generation job in the calling goroutine
type Runner interface {
	Run(ctx context.Context, jobID string, input map[string]interface{}) *model.GenerateResponse
}

// JobQueue tracks queued generation jobs
type JobQueue interface {
	StartJob(ctx context.Context, input map[string]interface{}) (*model.JobStartResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
	GetResult(ctx context.Context, jobID string) (*model.GenerateResponse, error)
}

type GenerateHandler struct {
	runner    Runner
	jobs      JobQueue
	validator *service.RequestValidator
	logger    *zap.Logger
}

func NewGenerateHandler(runner Runner, jobs JobQueue, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{
		runner:    runner,
		jobs:      jobs,
		validator: service.NewRequestValidator(),
		logger:    logger,
	}
}

// Generate handles POST /api/generate. The job runs inline and the response
// is always 200 with either the result or {error}.
func (h *GenerateHandler) Generate(c *fiber.Ctx) error {
	input, err := parseInput(c)
	if err != nil {
		return response.OK(c, &model.GenerateResponse{Error: MsgInvalidBody})
	}

	jobID := uuid.New().String()
	result := h.runner.Run(c.UserContext(), jobID, input)
	return response.OK(c, result)
}

// StartJob handles POST /api/jobs
func (h *GenerateHandler) StartJob(c *fiber.Ctx) error {
	if h.jobs == nil {
		return response.Unavailable(c, "Job queue not configured", nil)
	}

	input, err := parseInput(c)
	if err != nil {
		return response.ValidationError(c, MsgInvalidBody, nil)
	}

	// fail fast on input the worker would reject
	if _, err := h.validator.ParseRequest(input); err != nil {
		return response.ValidationError(c, err.Error(), validationDetails(err))
	}

	result, err := h.jobs.StartJob(c.UserContext(), input)
	if err != nil {
		h.logger.Error("failed to start job", zap.Error(err))
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
func (h *GenerateHandler) Status(c *fiber.Ctx) error {
	if h.jobs == nil {
		return response.Unavailable(c, "Job queue not configured", nil)
	}

	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.jobs.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/jobs/:jobId/result
func (h *GenerateHandler) Result(c *fiber.Ctx) error {
	if h.jobs == nil {
		return response.Unavailable(c, "Job queue not configured", nil)
	}

	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.jobs.GetResult(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.Conflict(c, response.CodeJobNotCompleted, "Job not completed yet")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// parseInput accepts {"input": {...}} or the bare input object
func parseInput(c *fiber.Ctx) (map[string]interface{}, error) {
	var body map[string]interface{}
	if err := c.BodyParser(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("empty body")
	}
	if inner, ok := body["input"]; ok {
		input, ok := inner.(map[string]interface{})
		if !ok {
			return nil, errors.New("input must be an object")
		}
		return input, nil
	}
	return body, nil
}

func validationDetails(err error) interface{} {
	var verr *service.ValidationError
	if errors.As(err, &verr) && verr.Field != "" {
		return map[string]string{verr.Field: verr.Message}
	}
	return nil
}
