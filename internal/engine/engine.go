// Package engine orchestrates workflow runs: trigger matching, matrix
// expansion, needs scheduling, per-cell job execution and reporting. The
// CLI and the HTTP service both drive runs through an Engine.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/internal/cache"
	"github.com/zacharyburnett/matrixci/internal/config"
	"github.com/zacharyburnett/matrixci/internal/coverage"
	"github.com/zacharyburnett/matrixci/internal/event"
	"github.com/zacharyburnett/matrixci/internal/executor"
	"github.com/zacharyburnett/matrixci/internal/expr"
	"github.com/zacharyburnett/matrixci/internal/metrics"
	"github.com/zacharyburnett/matrixci/internal/reporter"
	"github.com/zacharyburnett/matrixci/internal/secrets"
	"github.com/zacharyburnett/matrixci/pkg/logger"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// TriggerMismatchError reports that an event does not match a workflow's
// triggers. Callers treat it as "nothing to do", not as a failure.
type TriggerMismatchError struct {
	Workflow string
	Reason   string
}

func (e *TriggerMismatchError) Error() string {
	return fmt.Sprintf("workflow %q not triggered: %s", e.Workflow, e.Reason)
}

// Options adjusts a single Execute call.
type Options struct {
	// JobFilter restricts the run to the named jobs plus their transitive
	// needs. Empty runs every job.
	JobFilter []string

	// Force skips trigger matching.
	Force bool

	// FailFastOverride overrides every job's fail-fast setting.
	FailFastOverride *bool

	// MaxWorkers caps cells running at once for this run; 0 falls back to
	// the configured value, then NumCPU.
	MaxWorkers int

	// Workspace overrides the configured workspace root.
	Workspace string

	// KeepWorkspace preserves job directories even on success.
	KeepWorkspace bool

	// RunID fixes the run's identifier. Empty generates one. The HTTP
	// service assigns IDs up front so a queued run is addressable before
	// it starts.
	RunID string
}

// Engine executes workflows. One engine serves many runs; per-run state
// lives in the run context handed to the scheduler.
type Engine struct {
	cfg         *config.Config
	executors   *executor.Registry
	secrets     *secrets.Chain
	cache       *cache.Store
	coverage    executor.CoverageService
	reporters   *reporter.Manager
	broadcaster *Broadcaster
	log         *zap.Logger
}

// New wires an engine from the configuration: the default executor
// registry, a secrets chain (file provider when configured, then process
// environment), the cache store and, when an upload URL is configured,
// the coverage uploader.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	store, err := cache.NewStore(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening cache store: %w", err)
	}

	providers := make([]secrets.Provider, 0, 2)
	if cfg.Secrets.File != "" {
		fp, err := secrets.NewFileProvider(cfg.Secrets.File)
		if err != nil {
			return nil, fmt.Errorf("loading secrets file: %w", err)
		}
		providers = append(providers, fp)
	}
	providers = append(providers, secrets.NewEnvProvider())

	e := &Engine{
		cfg:         cfg,
		executors:   executor.DefaultRegistry,
		secrets:     secrets.NewChain(providers...),
		cache:       store,
		broadcaster: NewBroadcaster(),
		log:         logger.Named("engine"),
	}
	if cfg.Coverage.URL != "" {
		e.coverage = coverage.NewUploader(coverage.Config{
			URL:      cfg.Coverage.URL,
			Attempts: cfg.Coverage.Attempts,
			Backoff:  cfg.Coverage.Backoff,
			Timeout:  cfg.Coverage.Timeout,
		})
	}

	execConfigs := map[string]map[string]any{
		executor.RunExecutorType: {"shell": cfg.Runner.Shell},
	}
	if err := e.executors.InitAll(context.Background(), execConfigs); err != nil {
		return nil, err
	}
	return e, nil
}

// WithExecutors replaces the executor registry.
func (e *Engine) WithExecutors(reg *executor.Registry) *Engine {
	e.executors = reg
	return e
}

// WithSecrets replaces the secrets chain.
func (e *Engine) WithSecrets(chain *secrets.Chain) *Engine {
	e.secrets = chain
	return e
}

// WithCoverage replaces the coverage service.
func (e *Engine) WithCoverage(svc executor.CoverageService) *Engine {
	e.coverage = svc
	return e
}

// WithReporters sets the reporter manager notified after each run.
func (e *Engine) WithReporters(m *reporter.Manager) *Engine {
	e.reporters = m
	return e
}

// Broadcaster returns the run event stream.
func (e *Engine) Broadcaster() *Broadcaster {
	return e.broadcaster
}

// Cache returns the engine's cache store.
func (e *Engine) Cache() *cache.Store {
	return e.cache
}

// Close releases executor resources and closes the event stream.
func (e *Engine) Close(ctx context.Context) error {
	e.broadcaster.Close()
	return e.executors.CleanupAll(ctx)
}

// Execute runs a workflow for an event and returns the completed run. A
// run whose jobs failed still returns a nil error; the error return is for
// runs that could not start (trigger mismatch, bad matrix, bad filter) or
// could not set up.
func (e *Engine) Execute(ctx context.Context, wf *types.Workflow, ev *types.Event, opts Options) (*types.Run, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow must not be nil")
	}
	if ev == nil {
		return nil, fmt.Errorf("event must not be nil")
	}

	if !opts.Force {
		if d := event.Match(&wf.On, ev); !d.Matched {
			return nil, &TriggerMismatchError{Workflow: wf.Name, Reason: d.Reason}
		}
	}

	jobs, err := selectJobs(wf, opts.JobFilter)
	if err != nil {
		return nil, err
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	run := &types.Run{
		ID:           runID,
		WorkflowName: wf.Name,
		WorkflowFile: wf.Source,
		Event:        ev,
		Status:       types.StatusQueued,
		CreatedAt:    time.Now(),
	}

	groups := make([]*jobGroup, 0, len(jobs))
	for _, job := range jobs {
		g, err := newJobGroup(job, opts.FailFastOverride)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", job.ID, err)
		}
		groups = append(groups, g)
		run.Jobs = append(run.Jobs, g.runs...)
	}

	col := metrics.NewCollector()
	rc := e.newRunContext(run, wf, ev, opts, col)

	run.Status = types.StatusInProgress
	run.StartedAt = time.Now()
	rc.emit(&types.RunEvent{Type: types.RunEventRunStarted, RunID: run.ID, Time: run.StartedAt})
	e.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("workflow", wf.Name),
		zap.String("event", string(ev.Type)),
		zap.Int("jobs", len(run.Jobs)))

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = e.cfg.Runner.MaxWorkers
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	newScheduler(groups, workers).run(ctx, rc)

	// The run directory disappears with its last cell workspace; a failed
	// or kept cell keeps it alive.
	_ = os.Remove(filepath.Join(rc.workspaceRoot, run.ID))

	run.Conclusion = runConclusion(run, wf, ctx.Err() != nil)
	run.Status = types.StatusCompleted
	run.FinishedAt = time.Now()
	rc.emit(&types.RunEvent{
		Type:       types.RunEventRunCompleted,
		RunID:      run.ID,
		Time:       run.FinishedAt,
		Conclusion: run.Conclusion,
	})
	e.log.Info("run completed",
		zap.String("run_id", run.ID),
		zap.String("conclusion", string(run.Conclusion)),
		zap.Duration("duration", run.Duration()))

	report := buildReport(run, col)
	if e.reporters != nil && e.reporters.Count() > 0 {
		if err := e.reporters.Report(ctx, report); err != nil {
			e.log.Warn("reporting failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return run, nil
}

// newRunContext assembles the per-run state shared by the scheduler and
// the job runners.
func (e *Engine) newRunContext(run *types.Run, wf *types.Workflow, ev *types.Event, opts Options, col *metrics.Collector) *runContext {
	root := opts.Workspace
	if root == "" {
		root = e.cfg.Runner.Workspace
	}
	masker := secrets.NewMasker()
	if e.secrets != nil {
		masker.Add(e.secrets.Values()...)
	}
	return &runContext{
		run:           run,
		workflow:      wf,
		event:         ev,
		executors:     e.executors,
		secrets:       e.secrets,
		masker:        masker,
		cache:         e.cache,
		coverage:      e.coverage,
		workspaceRoot: root,
		keepWorkspace: opts.KeepWorkspace || e.cfg.Runner.KeepWorkspace,
		jobTimeout:    e.cfg.Runner.JobTimeout,
		collector:     col,
		broadcaster:   e.broadcaster,
		log:           e.log,
	}
}

// selectJobs returns the jobs to run in declaration order. A filter keeps
// the named jobs and everything they transitively need.
func selectJobs(wf *types.Workflow, filter []string) ([]*types.Job, error) {
	ordered := wf.OrderedJobs()
	if len(filter) == 0 {
		return ordered, nil
	}

	keep := make(map[string]bool)
	var mark func(id string) error
	mark = func(id string) error {
		if keep[id] {
			return nil
		}
		job, ok := wf.Jobs[id]
		if !ok {
			return fmt.Errorf("unknown job %q", id)
		}
		keep[id] = true
		for _, need := range job.Needs {
			if err := mark(need); err != nil {
				return err
			}
		}
		return nil
	}
	for _, id := range filter {
		if err := mark(id); err != nil {
			return nil, err
		}
	}

	out := make([]*types.Job, 0, len(keep))
	for _, job := range ordered {
		if keep[job.ID] {
			out = append(out, job)
		}
	}
	return out, nil
}

// runConclusion folds job conclusions into the run conclusion. Failed
// jobs marked continue-on-error do not fail the run; a run cancelled
// before completion concludes cancelled unless something already failed.
func runConclusion(run *types.Run, wf *types.Workflow, cancelled bool) types.Conclusion {
	sawCancelled := cancelled
	failed := false
	for _, jr := range run.Jobs {
		switch jr.Conclusion {
		case types.ConclusionFailure:
			if job, ok := wf.Jobs[jr.JobID]; !ok || !job.ContinueOnError {
				failed = true
			}
		case types.ConclusionCancelled:
			sawCancelled = true
		}
	}
	if failed {
		return types.ConclusionFailure
	}
	if sawCancelled {
		return types.ConclusionCancelled
	}
	return types.ConclusionSuccess
}

// runContext is the per-run state shared by the scheduler and the job
// runners.
type runContext struct {
	run      *types.Run
	workflow *types.Workflow
	event    *types.Event

	executors *executor.Registry
	secrets   *secrets.Chain
	masker    *secrets.Masker
	cache     *cache.Store
	coverage  executor.CoverageService

	workspaceRoot string
	keepWorkspace bool
	jobTimeout    time.Duration

	collector   *metrics.Collector
	broadcaster *Broadcaster
	log         *zap.Logger
}

// baseExprContext is the context job-level conditions evaluate in: run
// and event data plus secrets. Matrix and steps roots only exist inside a
// running cell.
func (rc *runContext) baseExprContext() *expr.Context {
	ci := map[string]any{
		"run_id":     rc.run.ID,
		"workflow":   rc.workflow.Name,
		"event_name": string(rc.event.Type),
		"event":      rc.event.ContextMap(),
		"ref":        rc.event.Ref,
		"sha":        rc.event.SHA,
		"repository": rc.event.Repository,
		"actor":      rc.event.Actor,
	}
	ec := expr.NewContext().WithValue("ci", ci)
	if rc.secrets != nil {
		ec.WithValue("secrets", rc.secrets.ContextMap())
	}
	return ec
}

// emit feeds the metrics collector and publishes the event.
func (rc *runContext) emit(ev *types.RunEvent) {
	if rc.collector != nil {
		switch ev.Type {
		case types.RunEventStepCompleted:
			rc.collector.ObserveStep(ev.Step)
		case types.RunEventJobCompleted:
			rc.collector.ObserveJob(ev.Job)
		}
	}
	if rc.broadcaster != nil {
		rc.broadcaster.Publish(ev)
	}
}

// Job events carry a snapshot so subscribers never see a JobRun the
// engine is still mutating.
func (rc *runContext) emitJobStarted(jr *types.JobRun) {
	snap := *jr
	rc.emit(&types.RunEvent{
		Type:  types.RunEventJobStarted,
		RunID: rc.run.ID,
		Time:  jr.StartedAt,
		Job:   &snap,
	})
}

func (rc *runContext) emitJobCompleted(jr *types.JobRun) {
	snap := *jr
	rc.emit(&types.RunEvent{
		Type:  types.RunEventJobCompleted,
		RunID: rc.run.ID,
		Time:  jr.FinishedAt,
		Job:   &snap,
	})
}

func (rc *runContext) emitStepStarted(jr *types.JobRun, res *types.StepResult) {
	snap := *jr
	rc.emit(&types.RunEvent{
		Type:  types.RunEventStepStarted,
		RunID: rc.run.ID,
		Time:  res.StartedAt,
		Job:   &snap,
		Step:  res,
	})
}

func (rc *runContext) emitStepCompleted(jr *types.JobRun, res *types.StepResult) {
	snap := *jr
	rc.emit(&types.RunEvent{
		Type:  types.RunEventStepCompleted,
		RunID: rc.run.ID,
		Time:  res.FinishedAt,
		Job:   &snap,
		Step:  res,
	})
}

func (rc *runContext) emitLog(jr *types.JobRun, step, line string) {
	now := time.Now()
	rc.emit(&types.RunEvent{
		Type:  types.RunEventLogLine,
		RunID: rc.run.ID,
		Time:  now,
		Line: &types.LogLine{
			JobRunID: jr.ID,
			JobName:  jr.Name,
			Step:     step,
			Text:     line,
			Time:     now,
		},
	})
}

// BuildReport derives the reporter payload from a completed run,
// recomputing timing statistics from the recorded step results. Execute
// does this with its live collector; BuildReport serves callers that only
// hold the run.
func BuildReport(run *types.Run) *types.RunReport {
	col := metrics.NewCollector()
	for _, jr := range run.Jobs {
		for _, sr := range jr.Steps {
			col.ObserveStep(sr)
		}
		col.ObserveJob(jr)
	}
	return buildReport(run, col)
}

func buildReport(run *types.Run, col *metrics.Collector) *types.RunReport {
	rep := &types.RunReport{
		RunID:        run.ID,
		WorkflowName: run.WorkflowName,
		WorkflowFile: run.WorkflowFile,
		Event:        run.Event,
		Status:       run.Status,
		Conclusion:   run.Conclusion,
		Error:        run.Error,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		DurationMs:   run.Duration().Milliseconds(),
		StepTimings:  col.StepTimings(),
		Totals:       col.Totals(),
	}
	for _, jr := range run.Jobs {
		jrep := &types.JobReport{
			JobID:      jr.JobID,
			Name:       jr.Name,
			RunsOn:     jr.RunsOn,
			Matrix:     jr.Matrix,
			Conclusion: jr.Conclusion,
			DurationMs: jr.Duration().Milliseconds(),
			Outputs:    jr.Outputs,
			Error:      jr.Error,
		}
		for _, sr := range jr.Steps {
			jrep.Steps = append(jrep.Steps, &types.StepReport{
				Name:       sr.Name,
				Conclusion: sr.Conclusion,
				Outcome:    sr.Outcome,
				ExitCode:   sr.ExitCode,
				DurationMs: sr.Duration().Milliseconds(),
				Error:      sr.Error,
				LogTail:    sr.LogTail,
			})
		}
		rep.Jobs = append(rep.Jobs, jrep)
	}
	return rep
}
