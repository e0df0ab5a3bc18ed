package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/makeasinger/acestep-worker/internal/config"
	"github.com/makeasinger/acestep-worker/internal/logger"
	"github.com/makeasinger/acestep-worker/internal/worker"
)

var requiredStorageEnv = []string{"S3_BUCKET_NAME", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"}

type options struct {
	url           string
	task          string
	prompt        string
	lyrics        string
	repaintStart  float64
	repaintEnd    float64
	duration      float64
	inferStep     int
	guidanceScale float64
	src           string
	ref           string
	verbose       bool
}

func main() {
	cmd, _ := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *options) {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "generate",
		Short:         "Run one ACE-Step generation job and print the result",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "", "engine service URL (overrides ENGINE_URL)")
	flags.StringVar(&opts.task, "task", "text2music", "task: text2music, retake, repaint, extend, edit, audio2audio")
	flags.StringVar(&opts.prompt, "prompt", "", "style tags")
	flags.StringVar(&opts.lyrics, "lyrics", "", "lyrics text")
	flags.Float64Var(&opts.repaintStart, "repaint-start", 0, "repaint/extend window start in seconds")
	flags.Float64Var(&opts.repaintEnd, "repaint-end", 0, "repaint/extend window end in seconds")
	flags.Float64Var(&opts.duration, "duration", 0, "audio duration in seconds")
	flags.IntVar(&opts.inferStep, "infer-step", 0, "diffusion steps")
	flags.Float64Var(&opts.guidanceScale, "guidance-scale", 0, "classifier-free guidance scale")
	flags.StringVar(&opts.src, "src", "", "source audio: URL or local file")
	flags.StringVar(&opts.ref, "ref", "", "reference audio: URL or local file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	return cmd, opts
}

func runGenerate(cmd *cobra.Command, opts *options) error {
	for _, key := range requiredStorageEnv {
		if os.Getenv(key) == "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s is not set\n", key)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.url != "" {
		cfg.Engine.Mode = "http"
		cfg.Engine.ServiceURL = opts.url
	}

	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level})
	if err != nil {
		return err
	}
	defer log.Sync()

	input, err := buildInput(cmd, opts)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pipeline, err := worker.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	jobID := "cli-" + uuid.New().String()
	log.Debug("running job", zap.String("job_id", jobID), zap.Any("task", input["task"]))
	result := pipeline.Orchestrator.Run(ctx, jobID, input)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if result.Failed() {
		return fmt.Errorf("generation failed: %s", result.Error)
	}
	return nil
}

// buildInput sends only the flags the user set so request defaults apply
// to the rest
func buildInput(cmd *cobra.Command, opts *options) (map[string]interface{}, error) {
	flags := cmd.Flags()
	input := map[string]interface{}{
		"task":   opts.task,
		"prompt": opts.prompt,
		"lyrics": opts.lyrics,
	}
	if flags.Changed("duration") {
		input["audio_duration"] = opts.duration
	}
	if flags.Changed("infer-step") {
		input["infer_step"] = opts.inferStep
	}
	if flags.Changed("guidance-scale") {
		input["guidance_scale"] = opts.guidanceScale
	}
	if flags.Changed("repaint-start") {
		input["repaint_start"] = opts.repaintStart
	}
	if flags.Changed("repaint-end") {
		input["repaint_end"] = opts.repaintEnd
	}

	if opts.src != "" {
		ref, err := audioReference(opts.src)
		if err != nil {
			return nil, fmt.Errorf("--src: %w", err)
		}
		input["src_audio_path"] = ref
	}
	if opts.ref != "" {
		ref, err := audioReference(opts.ref)
		if err != nil {
			return nil, fmt.Errorf("--ref: %w", err)
		}
		input["ref_audio_input"] = ref
		input["audio2audio_enable"] = true
	}
	return input, nil
}

// audioReference passes URLs through and inlines local files as base64
func audioReference(value string) (string, error) {
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return value, nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
