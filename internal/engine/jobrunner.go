package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/internal/cache"
	"github.com/zacharyburnett/matrixci/internal/executor"
	"github.com/zacharyburnett/matrixci/internal/expr"
	"github.com/zacharyburnett/matrixci/internal/matrix"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

const (
	statusSuccess   = "success"
	statusFailure   = "failure"
	statusCancelled = "cancelled"
)

// jobRunner executes one matrix cell of one job: workspace setup, the step
// lifecycle, post hooks, job outputs and workspace cleanup.
type jobRunner struct {
	rc    *runContext
	job   *types.Job
	jr    *types.JobRun
	cell  matrix.Cell
	needs map[string]any

	workspace string
	sc        *executor.StepContext
	base      *expr.Context

	// status is the job status the expression status functions see. It
	// starts at success and is downgraded by the first failing or
	// cancelled step.
	status string

	// steps is the steps root of the expression context, keyed by step id.
	steps map[string]any

	currentStep string
}

func newJobRunner(rc *runContext, job *types.Job, jr *types.JobRun, cell matrix.Cell, needs map[string]any) *jobRunner {
	return &jobRunner{
		rc:     rc,
		job:    job,
		jr:     jr,
		cell:   cell,
		needs:  needs,
		status: statusSuccess,
		steps:  make(map[string]any),
	}
}

// run drives the cell from job_started to job_completed.
func (r *jobRunner) run(ctx context.Context) {
	r.jr.Status = types.StatusInProgress
	r.jr.StartedAt = time.Now()
	r.rc.emitJobStarted(r.jr)

	timeout := r.job.Timeout()
	if timeout <= 0 {
		timeout = r.rc.jobTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := r.exec(ctx)

	var conclusion types.Conclusion
	switch {
	case err != nil:
		r.jr.Error = err.Error()
		conclusion = types.ConclusionFailure
	case r.status == statusCancelled:
		// A job whose deadline expired failed; only an outside cancel
		// concludes cancelled.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			conclusion = types.ConclusionFailure
			r.jr.Error = fmt.Sprintf("job timed out after %s", timeout)
		} else {
			conclusion = types.ConclusionCancelled
		}
	case r.status == statusFailure:
		conclusion = types.ConclusionFailure
	default:
		conclusion = types.ConclusionSuccess
	}
	r.jr.Complete(conclusion)

	r.cleanup()
	r.rc.emitJobCompleted(r.jr)
}

// exec sets up the workspace and context, runs the steps and the post
// phase, and evaluates the job outputs. The returned error is a job-level
// failure independent of step results.
func (r *jobRunner) exec(ctx context.Context) error {
	ws := filepath.Join(r.rc.workspaceRoot, r.rc.run.ID, r.jr.ID)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	r.workspace = ws

	sink := func(line string) {
		r.rc.emitLog(r.jr, r.currentStep, line)
	}

	sc := executor.NewStepContext(ws).
		WithEvent(r.rc.event).
		WithMatrix(r.jr.Matrix).
		WithSink(sink)
	sc.RunID = r.rc.run.ID
	sc.Workflow = r.rc.workflow.Name
	sc.JobID = r.job.ID
	sc.JobRunID = r.jr.ID
	sc.JobName = r.jr.Name
	sc.Masker = r.rc.masker
	sc.Secrets = r.rc.secrets
	sc.Cache = r.rc.cache
	sc.Coverage = r.rc.coverage
	r.sc = sc

	r.base = r.baseContext(ws)

	for i, step := range r.job.Steps {
		r.runStep(ctx, i, step)
	}

	r.runPosts(ctx)

	if r.status == statusSuccess && len(r.job.Outputs) > 0 {
		outputs, err := r.evalOutputs()
		if err != nil {
			return err
		}
		r.jr.Outputs = outputs
	}
	return nil
}

// baseContext builds the per-job part of the expression context. The env
// and steps roots and the status are refreshed per step on a clone.
func (r *jobRunner) baseContext(workspace string) *expr.Context {
	ev := r.rc.event
	ci := map[string]any{
		"run_id":     r.rc.run.ID,
		"workflow":   r.rc.workflow.Name,
		"job":        r.job.ID,
		"event_name": string(ev.Type),
		"event":      ev.ContextMap(),
		"ref":        ev.Ref,
		"sha":        ev.SHA,
		"repository": ev.Repository,
		"actor":      ev.Actor,
		"workspace":  workspace,
	}
	runnerCtx := map[string]any{
		"name":      "matrixci",
		"os":        runtime.GOOS,
		"arch":      runtime.GOARCH,
		"temp":      os.TempDir(),
		"workspace": workspace,
	}

	ec := expr.NewContext().
		WithValue("ci", ci).
		WithValue("runner", runnerCtx).
		WithValue("needs", r.needs).
		WithFunc("hashfiles", hashFilesFunc(workspace))
	if r.jr.Matrix != nil {
		ec.WithValue("matrix", r.jr.Matrix)
	}
	if r.rc.secrets != nil {
		ec.WithValue("secrets", r.rc.secrets.ContextMap())
	}
	return ec
}

// stepContext clones the job context and installs the step's merged env,
// the steps recorded so far and the current status.
func (r *jobRunner) stepContext(env map[string]string) *expr.Context {
	envAny := make(map[string]any, len(env))
	for k, v := range env {
		envAny[k] = v
	}
	return r.base.Clone().
		WithValue("env", envAny).
		WithValue("steps", r.steps).
		WithStatus(r.status)
}

// runStep applies the step lifecycle: condition, env merge, execution,
// result recording. Failures downgrade the job status, which in turn
// skips later steps through their default success() condition.
func (r *jobRunner) runStep(ctx context.Context, index int, step *types.Step) {
	step = r.effectiveStep(step)
	name := step.DisplayName()

	// Once the job context is gone nothing else runs; remaining steps are
	// recorded as cancelled.
	if ctx.Err() != nil || r.status == statusCancelled {
		res := types.NewStepResult(index, step.ID, name)
		res.Cancel()
		res.Finish(false)
		if r.status != statusCancelled {
			r.status = statusCancelled
		}
		r.record(step, res)
		return
	}

	// The condition sees the workflow and job env; the step's own env
	// layer is only resolved once the step actually runs.
	baseEnv, err := r.mergedEnv(nil)
	if err != nil {
		res := types.NewStepResult(index, step.ID, name)
		res.Fail(fmt.Errorf("resolving job environment: %w", err))
		res.Finish(step.ContinueOnError)
		r.noteOutcome(res)
		r.record(step, res)
		return
	}

	cond := strings.TrimSpace(step.If)
	if cond == "" {
		cond = "success()"
	}
	ok, err := expr.EvaluateBool(cond, r.stepContext(baseEnv))
	if err != nil {
		res := types.NewStepResult(index, step.ID, name)
		res.Fail(fmt.Errorf("evaluating step condition: %w", err))
		res.Finish(step.ContinueOnError)
		r.noteOutcome(res)
		r.record(step, res)
		return
	}
	if !ok {
		res := types.NewStepResult(index, step.ID, name)
		res.Skip()
		r.record(step, res)
		return
	}

	env, err := r.mergedEnv(step)
	if err != nil {
		res := types.NewStepResult(index, step.ID, name)
		res.Fail(fmt.Errorf("resolving step environment: %w", err))
		res.Finish(step.ContinueOnError)
		r.noteOutcome(res)
		r.record(step, res)
		return
	}
	r.sc.WithEnv(env).WithExpr(r.stepContext(env))
	r.currentStep = name
	defer func() { r.currentStep = "" }()

	r.rc.emitStepStarted(r.jr, types.NewStepResult(index, step.ID, name))

	stepCtx := ctx
	if t := step.Timeout(); t > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	exec, err := r.rc.executors.GetOrError(executorTypeFor(step))
	if err != nil {
		res := types.NewStepResult(index, step.ID, name)
		res.Fail(err)
		res.Finish(step.ContinueOnError)
		r.noteOutcome(res)
		r.record(step, res)
		return
	}

	res, execErr := exec.Execute(stepCtx, step, r.sc)
	if res == nil {
		res = types.NewStepResult(index, step.ID, name)
	}
	res.Index = index
	if execErr != nil {
		res.Fail(execErr)
	}
	res.Finish(step.ContinueOnError)

	r.noteOutcome(res)
	r.record(step, res)
}

// noteOutcome downgrades the job status from a finished step result.
func (r *jobRunner) noteOutcome(res *types.StepResult) {
	switch {
	case res.Outcome == types.ConclusionCancelled:
		r.status = statusCancelled
	case res.Conclusion == types.ConclusionFailure:
		r.status = statusFailure
	}
}

// record appends the result to the job run, exposes it to later steps
// under its id and emits the step_completed event.
func (r *jobRunner) record(step *types.Step, res *types.StepResult) {
	r.jr.Steps = append(r.jr.Steps, res)
	if step.ID != "" {
		outputs := make(map[string]any, len(res.Outputs))
		for k, v := range res.Outputs {
			outputs[k] = v
		}
		r.steps[step.ID] = map[string]any{
			"outputs":    outputs,
			"outcome":    string(res.Outcome),
			"conclusion": string(res.Conclusion),
		}
	}
	r.rc.emitStepCompleted(r.jr, res)
}

// mergedEnv layers workflow, job and step env and folds in the values
// exported by earlier steps, interpolating each declared value. Later
// layers win; a layer's expressions see the env merged so far, so step
// env can reference job and workflow env.
func (r *jobRunner) mergedEnv(step *types.Step) (map[string]string, error) {
	env := make(map[string]string)
	envAny := make(map[string]any)
	layers := []map[string]string{r.rc.workflow.Env, r.job.Env}
	if step != nil {
		layers = append(layers, step.Env)
	}

	ec := r.base.Clone().
		WithValue("env", envAny).
		WithValue("steps", r.steps).
		WithStatus(r.status)
	for _, layer := range layers {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, err := expr.Interpolate(layer[k], ec)
			if err != nil {
				return nil, fmt.Errorf("env %s: %w", k, err)
			}
			env[k] = v
			envAny[k] = v
		}
	}
	for k, v := range r.sc.Exported() {
		env[k] = v
	}
	return env, nil
}

// runPosts runs the deferred hooks registered by steps, most recent
// first. Hook errors are logged, they never change the job conclusion.
func (r *jobRunner) runPosts(ctx context.Context) {
	jobFailed := r.status != statusSuccess
	for _, hook := range r.sc.TakePosts() {
		if err := hook.Run(ctx, jobFailed); err != nil {
			r.sc.Logf("post %s: %v", hook.Name, err)
		}
	}
}

// evalOutputs resolves the job's outputs mapping against the final steps
// context.
func (r *jobRunner) evalOutputs() (map[string]string, error) {
	env, err := r.mergedEnv(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving job environment: %w", err)
	}
	ec := r.stepContext(env)

	outputs := make(map[string]string, len(r.job.Outputs))
	for name, tmpl := range r.job.Outputs {
		v, err := expr.Interpolate(tmpl, ec)
		if err != nil {
			return nil, fmt.Errorf("evaluating output %q: %w", name, err)
		}
		outputs[name] = v
	}
	return outputs, nil
}

// cleanup removes the cell workspace. Failed cells keep theirs for
// debugging, as does an explicit keep-workspace run.
func (r *jobRunner) cleanup() {
	if r.workspace == "" || r.rc.keepWorkspace {
		return
	}
	if r.jr.Conclusion == types.ConclusionFailure {
		return
	}
	if err := os.RemoveAll(r.workspace); err != nil {
		r.rc.log.Warn("failed to remove workspace",
			zap.String("workspace", r.workspace), zap.Error(err))
	}
}

// effectiveStep fills a run step's shell and working directory from the
// workflow run defaults, leaving declared values alone. The original step
// is never modified.
func (r *jobRunner) effectiveStep(step *types.Step) *types.Step {
	if step.Uses != "" || r.rc.workflow.Defaults == nil || r.rc.workflow.Defaults.Run == nil {
		return step
	}
	d := r.rc.workflow.Defaults.Run
	needShell := step.Shell == "" && d.Shell != ""
	needDir := step.WorkingDirectory == "" && d.WorkingDirectory != ""
	if !needShell && !needDir {
		return step
	}
	eff := *step
	if needShell {
		eff.Shell = d.Shell
	}
	if needDir {
		eff.WorkingDirectory = d.WorkingDirectory
	}
	return &eff
}

// executorTypeFor routes a step to its executor: uses steps to the action
// executor, run steps to the shell or, for script shells, the JavaScript
// executor.
func executorTypeFor(step *types.Step) string {
	if step.Uses != "" {
		return executor.UsesExecutorType
	}
	if executor.IsScriptShell(step.Shell) {
		return executor.ScriptExecutorType
	}
	return executor.RunExecutorType
}

// hashFilesFunc exposes cache.HashFiles as the hashFiles expression
// function, rooted at the cell workspace.
func hashFilesFunc(workspace string) expr.Func {
	return func(_ *expr.Context, args []any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("hashFiles requires at least one pattern")
		}
		patterns := make([]string, 0, len(args))
		for _, a := range args {
			s, ok := a.(string)
			if !ok {
				return nil, fmt.Errorf("hashFiles pattern must be a string, got %T", a)
			}
			patterns = append(patterns, s)
		}
		sum, err := cache.HashFiles(workspace, patterns...)
		if err != nil {
			return nil, err
		}
		return sum, nil
	}
}
