package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/makeasinger/acestep-worker/internal/config"
)

var commandContext = exec.CommandContext

// ExecEngine runs the pipeline as a local command. The request is written to
// stdin as JSON and the command prints a GenerationResponse on stdout.
type ExecEngine struct {
	binary        string
	args          []string
	checkpointDir string
	timeout       time.Duration
}

// NewExecEngine creates an engine from a command line such as
// "python -m acestep.run_json"
func NewExecEngine(cfg *config.EngineConfig) *ExecEngine {
	fields := strings.Fields(cfg.Command)
	e := &ExecEngine{
		checkpointDir: cfg.ResolveCheckpointDir(),
		timeout:       time.Duration(cfg.Timeout) * time.Second,
	}
	if len(fields) > 0 {
		e.binary = fields[0]
		e.args = fields[1:]
	}
	return e
}

// Generate runs the command once and returns its output paths
func (e *ExecEngine) Generate(ctx context.Context, req *GenerationRequest) ([]string, error) {
	if e.binary == "" {
		return nil, errors.New("engine command not configured")
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	call := *req
	if call.CheckpointDir == "" {
		call.CheckpointDir = e.checkpointDir
	}

	payload, err := json.Marshal(&call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	cmd := commandContext(ctx, e.binary, e.args...) //nolint:gosec
	cmd.Stdin = bytes.NewReader(payload)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if e.checkpointDir != "" {
		cmd.Env = append(cmd.Env, "CHECKPOINT_DIR="+e.checkpointDir)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	var result GenerationResponse
	decodeErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result)
	if decodeErr == nil && result.Error != "" {
		return nil, errors.New(result.Error)
	}
	if runErr != nil {
		return nil, fmt.Errorf("engine command failed: %w - output: %s", runErr, strings.TrimSpace(stderr.String()))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode engine output: %w", decodeErr)
	}
	return result.OutputPaths, nil
}

// HealthCheck verifies the command can be resolved
func (e *ExecEngine) HealthCheck(ctx context.Context) error {
	if e.binary == "" {
		return errors.New("engine command not configured")
	}
	if _, err := exec.LookPath(e.binary); err != nil {
		return fmt.Errorf("engine command unavailable: %w", err)
	}
	return nil
}

var (
	_ Engine = (*ExecEngine)(nil)
	_ Engine = (*EngineClient)(nil)
)
