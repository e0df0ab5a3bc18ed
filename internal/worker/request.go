package worker

import (
	"github.com/makeasinger/acestep-worker/internal/client"
	"github.com/makeasinger/acestep-worker/internal/model"
	"github.com/makeasinger/acestep-worker/internal/service"
)

// buildGenerationRequest flattens a descriptor into the engine call, with
// audio references replaced by their materialized local paths
func buildGenerationRequest(desc *model.TaskDescriptor, refPath, srcPath, outputDir string) *client.GenerationRequest {
	p := desc.Params
	req := &client.GenerationRequest{
		Format:                model.OutputFormatWAV,
		AudioDuration:         p.AudioDuration,
		Prompt:                desc.Prompt,
		Lyrics:                desc.Lyrics,
		InferStep:             p.InferStep,
		GuidanceScale:         p.GuidanceScale,
		SchedulerType:         p.SchedulerType,
		CFGType:               p.CFGType,
		OmegaScale:            p.OmegaScale,
		ManualSeeds:           p.ManualSeeds,
		GuidanceInterval:      p.GuidanceInterval,
		GuidanceIntervalDecay: p.GuidanceIntervalDecay,
		MinGuidanceScale:      p.MinGuidanceScale,
		UseERGTag:             p.UseERGTag,
		UseERGLyric:           p.UseERGLyric,
		UseERGDiffusion:       p.UseERGDiffusion,
		OSSSteps:              p.OSSSteps,
		GuidanceScaleText:     p.GuidanceScaleText,
		GuidanceScaleLyric:    p.GuidanceScaleLyric,
		LoraNameOrPath:        p.LoraNameOrPath,
		RefAudioStrength:      service.DefaultRefAudioStrength,
		Task:                  string(desc.Task),
		RetakeVariance:        service.DefaultRetakeVariance,
		EditNMin:              service.DefaultEditNMin,
		EditNMax:              service.DefaultEditNMax,
		EditNAvg:              service.DefaultEditNAvg,
		SavePath:              outputDir,
		BatchSize:             engineBatchSize,
	}

	if desc.Reference != nil {
		req.Audio2AudioEnable = desc.Reference.Enabled
		req.RefAudioStrength = desc.Reference.Strength
		req.RefAudioInput = refPath
	}

	switch v := desc.Variant.(type) {
	case model.RetakeParams:
		req.SrcAudioPath = srcPath
		req.RetakeSeeds = v.Seeds
		req.RetakeVariance = v.Variance
	case model.RepaintParams:
		req.SrcAudioPath = srcPath
		req.RetakeSeeds = v.Seeds
		req.RetakeVariance = v.Variance
		req.RepaintStart = v.Start
		req.RepaintEnd = v.End
	case model.ExtendParams:
		req.SrcAudioPath = srcPath
		req.RetakeSeeds = v.Seeds
		req.RetakeVariance = v.Variance
		req.RepaintStart = v.Start
		req.RepaintEnd = v.End
	case model.EditParams:
		req.SrcAudioPath = srcPath
		req.EditTargetPrompt = v.TargetPrompt
		req.EditTargetLyrics = v.TargetLyrics
		req.EditNMin = v.NMin
		req.EditNMax = v.NMax
		req.EditNAvg = v.NAvg
	}

	return req
}
