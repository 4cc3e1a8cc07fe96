package rest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/zacharyburnett/matrixci/internal/event"
)

// postEvent receives a repository event and starts a run for every loaded
// workflow whose triggers match it. Non-matching workflows are reported
// with the match reason instead of being silently dropped.
func (s *Server) postEvent(c *fiber.Ctx) error {
	var req EventRequest
	if err := c.BodyParser(&req); err != nil {
		return BadRequest(c, "invalid request body: "+err.Error())
	}
	ev, err := req.ToEvent()
	if err != nil {
		return BadRequest(c, err.Error())
	}

	resp := DispatchResponse{Runs: []DispatchedRun{}}
	queueFull := false
	for _, wf := range s.workflows.list() {
		d := event.Match(&wf.On, ev)
		if !d.Matched {
			resp.Skipped = append(resp.Skipped, SkippedWorkflow{Workflow: wf.Name, Reason: d.Reason})
			continue
		}

		runID := uuid.New().String()
		s.store.add(newQueuedRun(runID, wf, ev))
		if err := s.queue.enqueue(queueItem{runID: runID, wf: wf, ev: ev}); err != nil {
			s.store.remove(runID)
			resp.Skipped = append(resp.Skipped, SkippedWorkflow{Workflow: wf.Name, Reason: err.Error()})
			if errors.Is(err, errQueueFull) {
				queueFull = true
			}
			continue
		}
		resp.Runs = append(resp.Runs, DispatchedRun{RunID: runID, Workflow: wf.Name})
	}

	if queueFull && len(resp.Runs) == 0 {
		return Unavailable(c, errQueueFull.Error(), resp)
	}
	return Accepted(c, resp)
}

// listRuns returns run summaries, newest first. Query parameters: status,
// workflow, limit.
func (s *Server) listRuns(c *fiber.Ctx) error {
	runs := s.store.list(runFilter{
		status:   c.Query("status"),
		workflow: c.Query("workflow"),
		limit:    c.QueryInt("limit"),
	})
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunSummary(run))
	}
	return Success(c, out)
}

func (s *Server) getRun(c *fiber.Ctx) error {
	run, ok := s.store.get(c.Params("id"))
	if !ok {
		return NotFound(c, "run not found")
	}
	return Success(c, run)
}

func (s *Server) getRunJobs(c *fiber.Ctx) error {
	run, ok := s.store.get(c.Params("id"))
	if !ok {
		return NotFound(c, "run not found")
	}
	return Success(c, run.Jobs)
}

// getRunLogs returns the retained log tail as plain text, optionally
// narrowed to one job with ?job= (job id, cell name or job run id).
func (s *Server) getRunLogs(c *fiber.Ctx) error {
	lines, ok := s.store.logs(c.Params("id"), c.Query("job"))
	if !ok {
		return NotFound(c, "run not found")
	}

	var b strings.Builder
	for _, ln := range lines {
		if ln.Step != "" {
			fmt.Fprintf(&b, "[%s] %s: %s\n", ln.JobName, ln.Step, ln.Text)
		} else {
			fmt.Fprintf(&b, "[%s] %s\n", ln.JobName, ln.Text)
		}
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(b.String())
}

func (s *Server) cancelRun(c *fiber.Ctx) error {
	id := c.Params("id")
	state, ok := s.store.requestCancel(id)
	if !ok {
		return NotFound(c, "run not found")
	}
	return Success(c, CancelResponse{RunID: id, Status: state})
}

func (s *Server) listWorkflows(c *fiber.Ctx) error {
	workflows := s.workflows.list()
	out := make([]WorkflowSummary, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, newWorkflowSummary(wf))
	}
	return Success(c, out)
}

// validateWorkflow parses the request body as workflow YAML. A broken
// workflow is a valid question, so diagnostics come back in a 200.
func (s *Server) validateWorkflow(c *fiber.Ctx) error {
	body := c.Body()
	if len(body) == 0 {
		return BadRequest(c, "request body must contain workflow YAML")
	}
	wf, err := s.workflows.parser.Parse(body)
	if err != nil {
		return Success(c, ValidateResponse{
			Valid:       false,
			Diagnostics: []string{err.Error()},
		})
	}
	return Success(c, ValidateResponse{
		Valid:    true,
		Workflow: wf.Name,
		Jobs:     len(wf.Jobs),
	})
}

// reloadWorkflows re-reads the workflow directory and rebuilds the cron
// entries.
func (s *Server) reloadWorkflows(c *fiber.Ctx) error {
	n, errs := s.workflows.load()
	s.cron.rebuild()

	resp := ReloadResponse{Loaded: n}
	for _, err := range errs {
		resp.Errors = append(resp.Errors, err.Error())
	}
	return Success(c, resp)
}

// health is the liveness probe. It bypasses auth and skips the envelope so
// probes stay trivial to consume.
func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:        "ok",
		QueueDepth:    s.queue.depth(),
		QueueCapacity: s.queue.capacity(),
		Workflows:     s.workflows.count(),
		Runs:          s.store.count(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
	})
}
