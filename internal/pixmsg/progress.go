package pixmsg

import "math"

// TopicProgress is the shared event channel topic for upload progress.
const TopicProgress = "upload://progress"

// Progress is published by host commands while an upload attempt is in
// flight. AttemptID correlates events on the shared channel with a single
// attempt; consumers must drop events carrying a stale id.
type Progress struct {
	AttemptID  string `json:"id"`
	Done       uint64 `json:"progress"`
	Total      uint64 `json:"total"`
	Step       string `json:"step,omitempty"`
	StepIndex  int    `json:"step_index,omitempty"`
	TotalSteps int    `json:"total_steps,omitempty"`
}

// NewProgress builds a plain done/total progress event.
func NewProgress(attemptID string, done, total uint64) Progress {
	return Progress{
		AttemptID: attemptID,
		Done:      done,
		Total:     total,
	}
}

// NewStepProgress builds a progress event with step metadata, for hosts that
// upload in multiple named phases.
func NewStepProgress(attemptID string, done, total uint64, step string, stepIndex, totalSteps int) Progress {
	return Progress{
		AttemptID:  attemptID,
		Done:       done,
		Total:      total,
		Step:       step,
		StepIndex:  stepIndex,
		TotalSteps: totalSteps,
	}
}

// Percent converts done/total into a rounded percentage in [0, 100].
// A zero total yields 0 rather than dividing by zero.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	pct := math.Round(float64(p.Done) / float64(p.Total) * 100)
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}
