package types

import (
	"time"
)

// Status is the lifecycle phase of a run, job or step.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Conclusion is the terminal outcome of a completed run, job or step.
// It is empty until the status reaches completed.
type Conclusion string

const (
	ConclusionSuccess   Conclusion = "success"
	ConclusionFailure   Conclusion = "failure"
	ConclusionCancelled Conclusion = "cancelled"
	ConclusionSkipped   Conclusion = "skipped"
)

// Terminal reports whether c is a final outcome.
func (c Conclusion) Terminal() bool {
	return c != ""
}

// OK reports whether c counts as a passing outcome for dependency gating:
// success or skipped-by-condition are passing, failure and cancelled are not.
func (c Conclusion) OK() bool {
	return c == ConclusionSuccess || c == ConclusionSkipped
}

// Run is one execution of a workflow for one event.
type Run struct {
	ID           string     `json:"id"`
	WorkflowName string     `json:"workflow_name"`
	WorkflowFile string     `json:"workflow_file,omitempty"`
	Event        *Event     `json:"event"`
	Status       Status     `json:"status"`
	Conclusion   Conclusion `json:"conclusion,omitempty"`
	Jobs         []*JobRun  `json:"jobs"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	FinishedAt   time.Time  `json:"finished_at,omitempty"`
}

// Duration returns the wall time of the run, zero while it is queued.
func (r *Run) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

// JobByID returns the first job run with the given JobRun id, or nil.
func (r *Run) JobByID(id string) *JobRun {
	for _, j := range r.Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// JobsOf returns every cell of the workflow job with the given job id.
func (r *Run) JobsOf(jobID string) []*JobRun {
	var out []*JobRun
	for _, j := range r.Jobs {
		if j.JobID == jobID {
			out = append(out, j)
		}
	}
	return out
}

// Failed reports whether the run concluded with a failure.
func (r *Run) Failed() bool {
	return r.Conclusion == ConclusionFailure
}

// JobRun is the execution of one job for one matrix cell.
type JobRun struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Name   string `json:"name"`
	RunsOn string `json:"runs_on,omitempty"`

	// Matrix holds the cell's axis values, nil for non-matrix jobs.
	Matrix map[string]any `json:"matrix,omitempty"`

	Needs      []string          `json:"needs,omitempty"`
	Status     Status            `json:"status"`
	Conclusion Conclusion        `json:"conclusion,omitempty"`
	Steps      []*StepResult     `json:"steps,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// Duration returns the wall time of the job run.
func (j *JobRun) Duration() time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := j.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(j.StartedAt)
}

// Complete marks the job run finished with the given conclusion.
func (j *JobRun) Complete(c Conclusion) {
	j.Status = StatusCompleted
	j.Conclusion = c
	j.FinishedAt = time.Now()
}

// StepResult records the execution of one step. Create it with
// NewStepResult, fill it while executing, and close it with Finish.
type StepResult struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`

	Status     Status     `json:"status"`
	Conclusion Conclusion `json:"conclusion,omitempty"`

	// Outcome is the raw result before continue-on-error is applied; a
	// tolerated failure has Outcome failure and Conclusion success.
	Outcome Conclusion `json:"outcome,omitempty"`

	ExitCode   int               `json:"exit_code,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
	LogTail    []string          `json:"log_tail,omitempty"`
	StartedAt  time.Time         `json:"started_at,omitempty"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// NewStepResult creates an in-progress StepResult with an optimistic
// success outcome, to be downgraded by Fail or Cancel.
func NewStepResult(index int, id, name string) *StepResult {
	return &StepResult{
		Index:     index,
		ID:        id,
		Name:      name,
		Status:    StatusInProgress,
		Outcome:   ConclusionSuccess,
		Outputs:   make(map[string]string),
		StartedAt: time.Now(),
	}
}

// Fail marks the step failed with the given error.
func (r *StepResult) Fail(err error) {
	r.Outcome = ConclusionFailure
	if err != nil {
		r.Error = err.Error()
	}
}

// Cancel marks the step cancelled.
func (r *StepResult) Cancel() {
	r.Outcome = ConclusionCancelled
}

// Skip marks the step skipped by its condition.
func (r *StepResult) Skip() {
	r.Outcome = ConclusionSkipped
	r.Conclusion = ConclusionSkipped
	r.Status = StatusCompleted
	r.FinishedAt = time.Now()
}

// Finish completes the result, deriving the conclusion from the outcome and
// the step's continue-on-error setting.
func (r *StepResult) Finish(continueOnError bool) {
	r.Status = StatusCompleted
	r.FinishedAt = time.Now()
	r.Conclusion = r.Outcome
	if continueOnError && r.Outcome == ConclusionFailure {
		r.Conclusion = ConclusionSuccess
	}
}

// Duration returns the wall time of the step.
func (r *StepResult) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	end := r.FinishedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(r.StartedAt)
}

// Succeeded reports whether the step concluded successfully.
func (r *StepResult) Succeeded() bool {
	return r.Conclusion == ConclusionSuccess
}
