package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/makeasinger/acestep-worker/internal/config"
)

// Engine runs one generation pipeline call. Implementations return the
// engine's output list: the audio file path first, followed by the params file.
type Engine interface {
	Generate(ctx context.Context, req *GenerationRequest) ([]string, error)
	HealthCheck(ctx context.Context) error
}

// GenerationRequest is the full argument set of the pipeline call
type GenerationRequest struct {
	Format                string  `json:"format"`
	AudioDuration         float64 `json:"audio_duration"`
	Prompt                string  `json:"prompt"`
	Lyrics                string  `json:"lyrics"`
	InferStep             int     `json:"infer_step"`
	GuidanceScale         float64 `json:"guidance_scale"`
	SchedulerType         string  `json:"scheduler_type"`
	CFGType               string  `json:"cfg_type"`
	OmegaScale            float64 `json:"omega_scale"`
	ManualSeeds           []int   `json:"manual_seeds,omitempty"`
	GuidanceInterval      float64 `json:"guidance_interval"`
	GuidanceIntervalDecay float64 `json:"guidance_interval_decay"`
	MinGuidanceScale      float64 `json:"min_guidance_scale"`
	UseERGTag             bool    `json:"use_erg_tag"`
	UseERGLyric           bool    `json:"use_erg_lyric"`
	UseERGDiffusion       bool    `json:"use_erg_diffusion"`
	OSSSteps              []int   `json:"oss_steps,omitempty"`
	GuidanceScaleText     float64 `json:"guidance_scale_text"`
	GuidanceScaleLyric    float64 `json:"guidance_scale_lyric"`
	LoraNameOrPath        string  `json:"lora_name_or_path"`

	Audio2AudioEnable bool    `json:"audio2audio_enable"`
	RefAudioStrength  float64 `json:"ref_audio_strength"`
	RefAudioInput     string  `json:"ref_audio_input,omitempty"`

	Task             string  `json:"task"`
	RetakeSeeds      []int   `json:"retake_seeds,omitempty"`
	RetakeVariance   float64 `json:"retake_variance"`
	RepaintStart     float64 `json:"repaint_start"`
	RepaintEnd       float64 `json:"repaint_end"`
	SrcAudioPath     string  `json:"src_audio_path,omitempty"`
	EditTargetPrompt string  `json:"edit_target_prompt,omitempty"`
	EditTargetLyrics *string `json:"edit_target_lyrics,omitempty"`
	EditNMin         float64 `json:"edit_n_min"`
	EditNMax         float64 `json:"edit_n_max"`
	EditNAvg         int     `json:"edit_n_avg"`
	SavePath         string  `json:"save_path"`
	BatchSize        int     `json:"batch_size"`
	CheckpointDir    string  `json:"checkpoint_dir,omitempty"`
}

// GenerationResponse is the engine reply
type GenerationResponse struct {
	OutputPaths []string `json:"output_paths"`
	Error       string   `json:"error,omitempty"`
}

// EngineClient implements Engine against an HTTP pipeline service
type EngineClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewEngineClient creates a new engine client. A zero timeout leaves the
// call without a client-side deadline.
func NewEngineClient(cfg *config.EngineConfig) *EngineClient {
	return &EngineClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
	}
}

// NewEngine returns the engine selected by cfg.Mode
func NewEngine(cfg *config.EngineConfig) (Engine, error) {
	switch cfg.Mode {
	case "", "http":
		if cfg.ServiceURL == "" {
			return nil, errors.New("ENGINE_URL is required for http engine mode")
		}
		return NewEngineClient(cfg), nil
	case "exec":
		if cfg.Command == "" {
			return nil, errors.New("ENGINE_COMMAND is required for exec engine mode")
		}
		return NewExecEngine(cfg), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", cfg.Mode)
	}
}

// Generate posts the request to the pipeline and returns its output paths
func (c *EngineClient) Generate(ctx context.Context, req *GenerationRequest) ([]string, error) {
	var result GenerationResponse
	if err := c.post(ctx, "/generate", req, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, errors.New(result.Error)
	}
	return result.OutputPaths, nil
}

// HealthCheck checks if the engine service is available
func (c *EngineClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *EngineClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// the pipeline reports failures as {"error": "..."}
		var failure GenerationResponse
		if json.Unmarshal(respBody, &failure) == nil && failure.Error != "" {
			return errors.New(failure.Error)
		}
		return fmt.Errorf("engine service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
