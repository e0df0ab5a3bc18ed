package model

import (
	"encoding/json"
	"time"
)

// Job represents a queued generation job in the system
type Job struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Status      JobStatus              `json:"status"`
	State       JobState               `json:"state,omitempty"`
	Progress    int                    `json:"progress"`
	Error       *string                `json:"error,omitempty"`
	Input       map[string]interface{} `json:"input,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

// Job types
const (
	JobTypeGenerate = "generate"
)

// GenerateJobPayload contains the data for a generate task
type GenerateJobPayload struct {
	JobID string                 `json:"jobId"`
	Input map[string]interface{} `json:"input"`
}
