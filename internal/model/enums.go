package model

// Task types accepted by the generation engine
type TaskType string

const (
	TaskText2Music  TaskType = "text2music"
	TaskRetake      TaskType = "retake"
	TaskRepaint     TaskType = "repaint"
	TaskExtend      TaskType = "extend"
	TaskEdit        TaskType = "edit"
	TaskAudio2Audio TaskType = "audio2audio"
)

var ValidTaskTypes = []TaskType{
	TaskText2Music, TaskRetake, TaskRepaint, TaskExtend, TaskEdit, TaskAudio2Audio,
}

// IsValid reports whether t is one of ValidTaskTypes
func (t TaskType) IsValid() bool {
	for _, v := range ValidTaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// RequiresSourceAudio reports whether the task transforms an existing recording
func (t TaskType) RequiresSourceAudio() bool {
	switch t {
	case TaskRetake, TaskRepaint, TaskExtend, TaskEdit:
		return true
	}
	return false
}

// Scheduler types
const (
	SchedulerEuler    = "euler"
	SchedulerHeun     = "heun"
	SchedulerPingPong = "pingpong"
)

// CFG types
const (
	CFGTypeAPG     = "apg"
	CFGTypeCFG     = "cfg"
	CFGTypeCFGStar = "cfg_star"
)

// Source kinds of a materialized input
type SourceKind string

const (
	SourceKindURL    SourceKind = "url"
	SourceKindInline SourceKind = "inline"
)

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobState is the orchestrator state of a single job
type JobState string

const (
	JobStateValidating          JobState = "validating"
	JobStateMaterializingInputs JobState = "materializing_inputs"
	JobStateInvoking            JobState = "invoking"
	JobStateCollectingOutput    JobState = "collecting_output"
	JobStatePublishing          JobState = "publishing"
	JobStateDone                JobState = "done"
	JobStateError               JobState = "error"
)

// Progress is a coarse percentage for progress displays
func (s JobState) Progress() int {
	switch s {
	case JobStateValidating:
		return 5
	case JobStateMaterializingInputs:
		return 10
	case JobStateInvoking:
		return 20
	case JobStateCollectingOutput:
		return 85
	case JobStatePublishing:
		return 90
	case JobStateDone:
		return 100
	}
	return 0
}

// Artifact format of every published result
const OutputFormatWAV = "wav"
