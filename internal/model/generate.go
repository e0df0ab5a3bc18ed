package model

import "time"

// TaskDescriptor is the validated, typed form of one generation request.
// It is built once by the request validator and never mutated afterwards.
type TaskDescriptor struct {
	Task      TaskType         `json:"task" validate:"required"`
	Prompt    string           `json:"prompt"`
	Lyrics    string           `json:"lyrics"`
	Params    GenerationParams `json:"params"`
	Reference *ReferenceAudio  `json:"reference,omitempty" validate:"omitempty"`
	Variant   TaskParams       `json:"variant" validate:"-"`
}

// GenerationParams holds the numeric and scheduler settings shared by every task
type GenerationParams struct {
	AudioDuration         float64 `json:"audio_duration"`
	InferStep             int     `json:"infer_step" validate:"min=1"`
	GuidanceScale         float64 `json:"guidance_scale"`
	SchedulerType         string  `json:"scheduler_type" validate:"oneof=euler heun pingpong"`
	CFGType               string  `json:"cfg_type" validate:"oneof=apg cfg cfg_star"`
	OmegaScale            float64 `json:"omega_scale"`
	ManualSeeds           []int   `json:"manual_seeds,omitempty"`
	GuidanceInterval      float64 `json:"guidance_interval" validate:"min=0,max=1"`
	GuidanceIntervalDecay float64 `json:"guidance_interval_decay" validate:"min=0"`
	MinGuidanceScale      float64 `json:"min_guidance_scale"`
	UseERGTag             bool    `json:"use_erg_tag"`
	UseERGLyric           bool    `json:"use_erg_lyric"`
	UseERGDiffusion       bool    `json:"use_erg_diffusion"`
	OSSSteps              []int   `json:"oss_steps,omitempty"`
	GuidanceScaleText     float64 `json:"guidance_scale_text"`
	GuidanceScaleLyric    float64 `json:"guidance_scale_lyric"`
	LoraNameOrPath        string  `json:"lora_name_or_path"`
}

// ReferenceAudio is an optional style reference (audio-to-audio conditioning)
type ReferenceAudio struct {
	Input    string  `json:"input" validate:"required"`
	Strength float64 `json:"strength" validate:"min=0,max=1"`
	Enabled  bool    `json:"enabled"`
}

// TaskParams is the task-specific part of a descriptor. The concrete type
// always matches TaskDescriptor.Task.
type TaskParams interface {
	TaskType() TaskType
	isTaskParams()
}

type TextToMusicParams struct{}

type AudioToAudioParams struct{}

type RetakeParams struct {
	Source   string  `json:"source" validate:"required"`
	Seeds    []int   `json:"seeds,omitempty"`
	Variance float64 `json:"variance" validate:"min=0,max=1"`
}

// RepaintParams regenerates the [Start, End] window of the source, in seconds
type RepaintParams struct {
	Source   string  `json:"source" validate:"required"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Seeds    []int   `json:"seeds,omitempty"`
	Variance float64 `json:"variance" validate:"min=0,max=1"`
}

// ExtendParams uses the repaint window to grow the source before Start (negative)
// or past its end
type ExtendParams struct {
	Source   string  `json:"source" validate:"required"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Seeds    []int   `json:"seeds,omitempty"`
	Variance float64 `json:"variance" validate:"min=0,max=1"`
}

type EditParams struct {
	Source       string  `json:"source" validate:"required"`
	TargetPrompt string  `json:"target_prompt" validate:"required"`
	TargetLyrics *string `json:"target_lyrics,omitempty"`
	NMin         float64 `json:"n_min" validate:"min=0,max=1"`
	NMax         float64 `json:"n_max" validate:"min=0,max=1,gtefield=NMin"`
	NAvg         int     `json:"n_avg" validate:"min=1"`
}

func (TextToMusicParams) TaskType() TaskType  { return TaskText2Music }
func (AudioToAudioParams) TaskType() TaskType { return TaskAudio2Audio }
func (RetakeParams) TaskType() TaskType       { return TaskRetake }
func (RepaintParams) TaskType() TaskType      { return TaskRepaint }
func (ExtendParams) TaskType() TaskType       { return TaskExtend }
func (EditParams) TaskType() TaskType         { return TaskEdit }

func (TextToMusicParams) isTaskParams()  {}
func (AudioToAudioParams) isTaskParams() {}
func (RetakeParams) isTaskParams()       {}
func (RepaintParams) isTaskParams()      {}
func (ExtendParams) isTaskParams()       {}
func (EditParams) isTaskParams()         {}

// SourceAudio returns the source audio reference carried by the variant, if any
func (d *TaskDescriptor) SourceAudio() (string, bool) {
	switch v := d.Variant.(type) {
	case RetakeParams:
		return v.Source, true
	case RepaintParams:
		return v.Source, true
	case ExtendParams:
		return v.Source, true
	case EditParams:
		return v.Source, true
	}
	return "", false
}

// MaterializedResource is a local file holding audio that arrived as a URL or
// an inline encoded payload. It is owned by exactly one job.
type MaterializedResource struct {
	Path  string     `json:"path"`
	JobID string     `json:"jobId"`
	Kind  SourceKind `json:"kind"`
}

// PublishResult is the outcome of uploading an artifact
type PublishResult struct {
	URL    string        `json:"url"`
	Key    string        `json:"key"`
	Expiry time.Duration `json:"expiry"`
}

// GenerateRequest is the HTTP envelope around the untyped job input
type GenerateRequest struct {
	Input map[string]interface{} `json:"input"`
}

// GenerateResponse is the uniform job result: either the success fields or Error
type GenerateResponse struct {
	AudioURL string   `json:"audio_url,omitempty"`
	Format   string   `json:"format,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Task     TaskType `json:"task,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Failed reports whether the response carries an error
func (r *GenerateResponse) Failed() bool {
	return r.Error != ""
}

// JobStartResponse is returned when a job is queued
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse represents the status of a queued job
type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	State       JobState   `json:"state,omitempty"`
	Progress    int        `json:"progress"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
