package types

import "time"

// RunReport is the final report handed to reporters after a run completes.
type RunReport struct {
	RunID        string     `json:"run_id"`
	WorkflowName string     `json:"workflow_name"`
	WorkflowFile string     `json:"workflow_file,omitempty"`
	Event        *Event     `json:"event"`
	Status       Status     `json:"status"`
	Conclusion   Conclusion `json:"conclusion"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	DurationMs   int64      `json:"duration_ms"`

	Jobs []*JobReport `json:"jobs"`

	// StepTimings aggregates step durations by step name across matrix
	// cells, percentiles included.
	StepTimings []*StepTimingStats `json:"step_timings,omitempty"`

	Totals ReportTotals `json:"totals"`
}

// JobReport summarizes one job run for reporting.
type JobReport struct {
	JobID      string            `json:"job_id"`
	Name       string            `json:"name"`
	RunsOn     string            `json:"runs_on,omitempty"`
	Matrix     map[string]any    `json:"matrix,omitempty"`
	Conclusion Conclusion        `json:"conclusion"`
	DurationMs int64             `json:"duration_ms"`
	Steps      []*StepReport     `json:"steps,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// StepReport summarizes one step result for reporting.
type StepReport struct {
	Name       string     `json:"name"`
	Conclusion Conclusion `json:"conclusion"`
	Outcome    Conclusion `json:"outcome,omitempty"`
	ExitCode   int        `json:"exit_code,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	LogTail    []string   `json:"log_tail,omitempty"`
}

// StepTimingStats carries duration statistics for one step name.
type StepTimingStats struct {
	Step  string `json:"step"`
	Count int64  `json:"count"`
	DurationStats
}

// DurationStats holds duration percentiles in milliseconds.
type DurationStats struct {
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// ReportTotals aggregates run-wide counters.
type ReportTotals struct {
	Jobs          int `json:"jobs"`
	JobsSucceeded int `json:"jobs_succeeded"`
	JobsFailed    int `json:"jobs_failed"`
	JobsCancelled int `json:"jobs_cancelled"`
	JobsSkipped   int `json:"jobs_skipped"`

	Steps          int `json:"steps"`
	StepsSucceeded int `json:"steps_succeeded"`
	StepsFailed    int `json:"steps_failed"`

	CacheHits      int `json:"cache_hits"`
	CachePartial   int `json:"cache_partial_hits"`
	CacheMisses    int `json:"cache_misses"`
	CoverageUpload int `json:"coverage_uploads"`
}
