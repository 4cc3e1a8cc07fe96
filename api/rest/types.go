package rest

import (
	"time"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// EventRequest is the body of POST /api/v1/events.
type EventRequest struct {
	Type         string         `json:"type"`
	Ref          string         `json:"ref,omitempty"`
	SHA          string         `json:"sha,omitempty"`
	Repository   string         `json:"repository,omitempty"`
	Actor        string         `json:"actor,omitempty"`
	Action       string         `json:"action,omitempty"`
	TargetBranch string         `json:"target_branch,omitempty"`
	Files        []string       `json:"files,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// ToEvent converts the request into a validated runner event.
func (r *EventRequest) ToEvent() (*types.Event, error) {
	et, err := types.ParseEventType(r.Type)
	if err != nil {
		return nil, err
	}
	ev := &types.Event{
		Type:         et,
		Ref:          r.Ref,
		SHA:          r.SHA,
		Repository:   r.Repository,
		Actor:        r.Actor,
		Action:       r.Action,
		TargetBranch: r.TargetBranch,
		Files:        r.Files,
		Payload:      r.Payload,
		Time:         time.Now(),
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// DispatchedRun identifies a run created for an incoming event.
type DispatchedRun struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
}

// SkippedWorkflow explains why an event did not start a workflow.
type SkippedWorkflow struct {
	Workflow string `json:"workflow"`
	Reason   string `json:"reason"`
}

// DispatchResponse is the result of POST /api/v1/events.
type DispatchResponse struct {
	Runs    []DispatchedRun   `json:"runs"`
	Skipped []SkippedWorkflow `json:"skipped,omitempty"`
}

// RunSummary is the list form of a run.
type RunSummary struct {
	ID         string           `json:"id"`
	Workflow   string           `json:"workflow"`
	Status     types.Status     `json:"status"`
	Conclusion types.Conclusion `json:"conclusion,omitempty"`
	Event      types.EventType  `json:"event,omitempty"`
	Ref        string           `json:"ref,omitempty"`
	Jobs       int              `json:"jobs"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt time.Time        `json:"finished_at,omitempty"`
	Duration   string           `json:"duration,omitempty"`
}

func newRunSummary(run *types.Run) RunSummary {
	s := RunSummary{
		ID:         run.ID,
		Workflow:   run.WorkflowName,
		Status:     run.Status,
		Conclusion: run.Conclusion,
		Jobs:       len(run.Jobs),
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
	}
	if run.Event != nil {
		s.Event = run.Event.Type
		s.Ref = run.Event.Ref
	}
	if d := run.Duration(); d > 0 {
		s.Duration = d.Round(time.Millisecond).String()
	}
	return s
}

// CancelResponse reports the effect of a cancel request.
type CancelResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// WorkflowSummary describes one loaded workflow.
type WorkflowSummary struct {
	Name      string   `json:"name"`
	Source    string   `json:"source,omitempty"`
	Triggers  []string `json:"triggers"`
	Schedules []string `json:"schedules,omitempty"`
	Jobs      int      `json:"jobs"`
}

func newWorkflowSummary(wf *types.Workflow) WorkflowSummary {
	s := WorkflowSummary{
		Name:   wf.Name,
		Source: wf.Source,
		Jobs:   len(wf.Jobs),
	}
	for _, et := range types.KnownEventTypes {
		if wf.On.Has(et) {
			s.Triggers = append(s.Triggers, string(et))
		}
	}
	for _, st := range wf.On.Schedule {
		s.Schedules = append(s.Schedules, st.Cron)
	}
	return s
}

// ValidateResponse is the result of POST /api/v1/workflows/validate.
type ValidateResponse struct {
	Valid       bool     `json:"valid"`
	Workflow    string   `json:"workflow,omitempty"`
	Jobs        int      `json:"jobs,omitempty"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// ReloadResponse is the result of POST /api/v1/workflows/reload.
type ReloadResponse struct {
	Loaded int      `json:"loaded"`
	Errors []string `json:"errors,omitempty"`
}

// HealthResponse is the GET /healthz body.
type HealthResponse struct {
	Status        string `json:"status"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Workflows     int    `json:"workflows"`
	Runs          int    `json:"runs"`
	Uptime        string `json:"uptime"`
}
