package service

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/spf13/cast"
)

// Request defaults
const (
	DefaultAudioDuration         = 60.0
	DefaultInferStep             = 60
	DefaultGuidanceScale         = 15.0
	DefaultSchedulerType         = model.SchedulerEuler
	DefaultCFGType               = model.CFGTypeAPG
	DefaultOmegaScale            = 10.0
	DefaultGuidanceInterval      = 0.5
	DefaultGuidanceIntervalDecay = 0.0
	DefaultMinGuidanceScale      = 3.0
	DefaultRefAudioStrength      = 0.5
	DefaultRetakeVariance        = 0.5
	DefaultEditNMin              = 0.0
	DefaultEditNMax              = 1.0
	DefaultEditNAvg              = 1
	DefaultLoraNameOrPath        = "none"
)

// ValidationError describes a request that cannot be turned into a TaskDescriptor
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RequestValidator turns an untyped job input into a TaskDescriptor.
// It performs no I/O and holds no per-request state.
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator creates a validator that reports fields by their request names
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// ParseRequest applies defaults, coerces loosely typed values and enforces the
// per-task required fields and value ranges
func (rv *RequestValidator) ParseRequest(input map[string]interface{}) (*model.TaskDescriptor, error) {
	r := rawInput(input)

	taskName, err := r.str("task", string(model.TaskText2Music))
	if err != nil {
		return nil, err
	}
	task := model.TaskType(taskName)
	if !task.IsValid() {
		return nil, &ValidationError{Field: "task", Message: fmt.Sprintf("unsupported task '%s'", taskName)}
	}

	desc := &model.TaskDescriptor{Task: task}
	if desc.Prompt, err = r.str("prompt", ""); err != nil {
		return nil, err
	}
	if desc.Lyrics, err = r.str("lyrics", ""); err != nil {
		return nil, err
	}
	if err := r.params(&desc.Params); err != nil {
		return nil, err
	}

	refInput, err := r.str("ref_audio_input", "")
	if err != nil {
		return nil, err
	}
	a2aEnabled, err := r.boolean("audio2audio_enable", false)
	if err != nil {
		return nil, err
	}
	if refInput != "" {
		strength, err := r.float("ref_audio_strength", DefaultRefAudioStrength)
		if err != nil {
			return nil, err
		}
		desc.Reference = &model.ReferenceAudio{
			Input:    refInput,
			Strength: strength,
			Enabled:  a2aEnabled || task == model.TaskAudio2Audio,
		}
	}

	if desc.Variant, err = r.variant(task); err != nil {
		return nil, err
	}

	if err := rv.check(desc); err != nil {
		return nil, err
	}
	if err := rv.check(desc.Variant); err != nil {
		return nil, err
	}

	return desc, nil
}

func (rv *RequestValidator) check(s interface{}) error {
	err := rv.validate.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(validationErrors) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	fe := validationErrors[0]
	field := requestFieldName(fe)
	msg := fmt.Sprintf("Invalid value for '%s': must satisfy %s", field, fe.Tag())
	if fe.Param() != "" {
		msg = fmt.Sprintf("Invalid value for '%s': must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return &ValidationError{Field: field, Message: msg}
}

// requestFieldName maps a descriptor field back to the request key it came from
func requestFieldName(fe validator.FieldError) string {
	switch fe.StructNamespace() {
	case "ReferenceAudio.Strength", "TaskDescriptor.Reference.Strength":
		return "ref_audio_strength"
	case "RetakeParams.Variance", "RepaintParams.Variance", "ExtendParams.Variance":
		return "retake_variance"
	case "EditParams.NMin":
		return "edit_n_min"
	case "EditParams.NMax":
		return "edit_n_max"
	case "EditParams.NAvg":
		return "edit_n_avg"
	case "EditParams.TargetPrompt":
		return "edit_target_prompt"
	}
	return fe.Field()
}

// rawInput is the untyped request mapping. A key holding null counts as absent.
type rawInput map[string]interface{}

func (r rawInput) get(key string) (interface{}, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (r rawInput) str(key, def string) (string, error) {
	v, ok := r.get(key)
	if !ok {
		return def, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", invalidType(key, "a string", v)
	}
	return s, nil
}

func (r rawInput) float(key string, def float64) (float64, error) {
	v, ok := r.get(key)
	if !ok {
		return def, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, invalidType(key, "a number", v)
	}
	return f, nil
}

func (r rawInput) integer(key string, def int) (int, error) {
	v, ok := r.get(key)
	if !ok {
		return def, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, invalidType(key, "an integer", v)
	}
	return n, nil
}

// toInt reads strings as base 10 so "060" is 60, not octal
func toInt(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(v)
}

func (r rawInput) boolean(key string, def bool) (bool, error) {
	v, ok := r.get(key)
	if !ok {
		return def, nil
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, invalidType(key, "a boolean", v)
	}
	return b, nil
}

// seeds normalizes a seed field to a list of integers. Scalars become a one
// element list and strings are split on commas and whitespace.
func (r rawInput) seeds(key string) ([]int, error) {
	v, ok := r.get(key)
	if !ok {
		return nil, nil
	}

	var seeds []int
	switch val := v.(type) {
	case string:
		parts := strings.FieldsFunc(val, func(c rune) bool {
			return c == ',' || unicode.IsSpace(c)
		})
		for _, p := range parts {
			n, err := toInt(p)
			if err != nil {
				return nil, invalidType(key, "a list of integers", v)
			}
			seeds = append(seeds, n)
		}
	case []interface{}:
		for _, item := range val {
			n, err := toInt(item)
			if err != nil {
				return nil, invalidType(key, "a list of integers", v)
			}
			seeds = append(seeds, n)
		}
	case []string:
		for _, item := range val {
			n, err := toInt(item)
			if err != nil {
				return nil, invalidType(key, "a list of integers", v)
			}
			seeds = append(seeds, n)
		}
	case []int, []int64, []float64:
		list, err := cast.ToIntSliceE(val)
		if err != nil {
			return nil, invalidType(key, "a list of integers", v)
		}
		seeds = list
	default:
		n, err := toInt(val)
		if err != nil {
			return nil, invalidType(key, "a list of integers", v)
		}
		seeds = []int{n}
	}

	if len(seeds) == 0 {
		return nil, nil
	}
	return seeds, nil
}

func (r rawInput) params(p *model.GenerationParams) error {
	var err error
	if p.AudioDuration, err = r.float("audio_duration", DefaultAudioDuration); err != nil {
		return err
	}
	if p.InferStep, err = r.integer("infer_step", DefaultInferStep); err != nil {
		return err
	}
	if p.GuidanceScale, err = r.float("guidance_scale", DefaultGuidanceScale); err != nil {
		return err
	}
	if p.SchedulerType, err = r.str("scheduler_type", DefaultSchedulerType); err != nil {
		return err
	}
	if p.CFGType, err = r.str("cfg_type", DefaultCFGType); err != nil {
		return err
	}
	if p.OmegaScale, err = r.float("omega_scale", DefaultOmegaScale); err != nil {
		return err
	}
	if p.ManualSeeds, err = r.seeds("manual_seeds"); err != nil {
		return err
	}
	if p.GuidanceInterval, err = r.float("guidance_interval", DefaultGuidanceInterval); err != nil {
		return err
	}
	if p.GuidanceIntervalDecay, err = r.float("guidance_interval_decay", DefaultGuidanceIntervalDecay); err != nil {
		return err
	}
	if p.MinGuidanceScale, err = r.float("min_guidance_scale", DefaultMinGuidanceScale); err != nil {
		return err
	}
	if p.UseERGTag, err = r.boolean("use_erg_tag", true); err != nil {
		return err
	}
	if p.UseERGLyric, err = r.boolean("use_erg_lyric", true); err != nil {
		return err
	}
	if p.UseERGDiffusion, err = r.boolean("use_erg_diffusion", true); err != nil {
		return err
	}
	if p.OSSSteps, err = r.seeds("oss_steps"); err != nil {
		return err
	}
	if p.GuidanceScaleText, err = r.float("guidance_scale_text", 0); err != nil {
		return err
	}
	if p.GuidanceScaleLyric, err = r.float("guidance_scale_lyric", 0); err != nil {
		return err
	}
	if p.LoraNameOrPath, err = r.str("lora_name_or_path", DefaultLoraNameOrPath); err != nil {
		return err
	}
	return nil
}

func (r rawInput) variant(task model.TaskType) (model.TaskParams, error) {
	if !task.RequiresSourceAudio() {
		if task == model.TaskAudio2Audio {
			return model.AudioToAudioParams{}, nil
		}
		return model.TextToMusicParams{}, nil
	}

	src, err := r.str("src_audio_path", "")
	if err != nil {
		return nil, err
	}
	if src == "" {
		return nil, &ValidationError{
			Field:   "src_audio_path",
			Message: fmt.Sprintf("Task '%s' requires 'src_audio_path' (base64 encoded audio).", task),
		}
	}

	if task == model.TaskEdit {
		return r.editParams(src)
	}

	seeds, err := r.seeds("retake_seeds")
	if err != nil {
		return nil, err
	}
	variance, err := r.float("retake_variance", DefaultRetakeVariance)
	if err != nil {
		return nil, err
	}
	if task == model.TaskRetake {
		return model.RetakeParams{Source: src, Seeds: seeds, Variance: variance}, nil
	}

	start, err := r.float("repaint_start", 0)
	if err != nil {
		return nil, err
	}
	end, err := r.float("repaint_end", 0)
	if err != nil {
		return nil, err
	}
	if task == model.TaskExtend {
		return model.ExtendParams{Source: src, Start: start, End: end, Seeds: seeds, Variance: variance}, nil
	}
	return model.RepaintParams{Source: src, Start: start, End: end, Seeds: seeds, Variance: variance}, nil
}

func (r rawInput) editParams(src string) (model.TaskParams, error) {
	targetPrompt, err := r.str("edit_target_prompt", "")
	if err != nil {
		return nil, err
	}
	if targetPrompt == "" {
		return nil, &ValidationError{
			Field:   "edit_target_prompt",
			Message: "Task 'edit' requires 'edit_target_prompt'.",
		}
	}

	p := model.EditParams{Source: src, TargetPrompt: targetPrompt}
	if _, ok := r.get("edit_target_lyrics"); ok {
		lyrics, err := r.str("edit_target_lyrics", "")
		if err != nil {
			return nil, err
		}
		p.TargetLyrics = &lyrics
	}
	if p.NMin, err = r.float("edit_n_min", DefaultEditNMin); err != nil {
		return nil, err
	}
	if p.NMax, err = r.float("edit_n_max", DefaultEditNMax); err != nil {
		return nil, err
	}
	if p.NAvg, err = r.integer("edit_n_avg", DefaultEditNAvg); err != nil {
		return nil, err
	}
	return p, nil
}

func invalidType(key, want string, got interface{}) error {
	return &ValidationError{
		Field:   key,
		Message: fmt.Sprintf("Invalid value for '%s': expected %s, got %v", key, want, got),
	}
}
