package types

import "time"

// RunEventType identifies a live run event on the event stream.
type RunEventType string

const (
	RunEventRunStarted    RunEventType = "run_started"
	RunEventRunCompleted  RunEventType = "run_completed"
	RunEventJobStarted    RunEventType = "job_started"
	RunEventJobCompleted  RunEventType = "job_completed"
	RunEventStepStarted   RunEventType = "step_started"
	RunEventStepCompleted RunEventType = "step_completed"
	RunEventLogLine       RunEventType = "log_line"
)

// RunEvent is one frame of the live run event stream, consumed by the
// WebSocket endpoint and the metrics collector.
type RunEvent struct {
	Type  RunEventType `json:"type"`
	RunID string       `json:"run_id"`
	Time  time.Time    `json:"time"`

	Job  *JobRun     `json:"job,omitempty"`
	Step *StepResult `json:"step,omitempty"`
	Line *LogLine    `json:"line,omitempty"`

	// Conclusion is set on run_completed frames.
	Conclusion Conclusion `json:"conclusion,omitempty"`
}

// LogLine is one line of step output attributed to its job and step.
type LogLine struct {
	JobRunID string    `json:"job_run_id"`
	JobName  string    `json:"job_name"`
	Step     string    `json:"step,omitempty"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}
