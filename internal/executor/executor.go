// Package executor runs workflow steps. The run and script executors handle
// run: steps, the uses executor dispatches uses: steps to built-in actions.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/zacharyburnett/matrixci/internal/cache"
	"github.com/zacharyburnett/matrixci/internal/coverage"
	"github.com/zacharyburnett/matrixci/internal/expr"
	"github.com/zacharyburnett/matrixci/internal/secrets"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// Executor runs steps of one kind.
type Executor interface {
	// Type returns the executor type identifier.
	Type() string

	// Init prepares the executor with its configuration.
	Init(ctx context.Context, config map[string]any) error

	// Execute runs a single step. Step-level failures are reported on the
	// returned result, not as an error; a non-nil error means the executor
	// itself could not run the step.
	Execute(ctx context.Context, step *types.Step, sc *StepContext) (*types.StepResult, error)

	// Cleanup releases resources held by the executor.
	Cleanup(ctx context.Context) error
}

// LogSink receives one line of step output at a time.
type LogSink func(line string)

// SecretSource resolves named secrets for actions that need a raw value,
// such as the coverage upload token.
type SecretSource interface {
	Get(name string) (string, bool)
}

// CoverageService uploads coverage reports. The concrete implementation is
// coverage.Uploader.
type CoverageService interface {
	Upload(ctx context.Context, req *coverage.UploadRequest) (*coverage.UploadResult, error)
}

// PostHook is deferred work registered by a step and run by the job runner
// after the job's last step, in reverse registration order.
type PostHook struct {
	Name string

	// Run receives whether the job has failed so hooks can skip work that
	// only makes sense for passing jobs.
	Run func(ctx context.Context, jobFailed bool) error
}

// StepContext carries everything a step execution may touch: the job's
// identity, workspace, merged environment, expression context and the
// services shared across the job. The job runner owns one per job and
// refreshes Env and Expr before each step.
type StepContext struct {
	RunID    string
	Workflow string

	// JobID is the workflow job id, JobRunID the id of this matrix cell.
	JobID    string
	JobRunID string
	JobName  string

	Workspace string

	// Env is the fully merged environment for the current step
	// (workflow < job < step, plus values exported by earlier steps).
	Env map[string]string

	// Matrix holds the cell's axis values, nil for non-matrix jobs.
	Matrix map[string]any

	Event *types.Event

	// Expr is the expression context ${{ }} interpolation evaluates
	// against.
	Expr *expr.Context

	Masker   *secrets.Masker
	Secrets  SecretSource
	Cache    *cache.Store
	Coverage CoverageService
	Sink     LogSink

	mu       sync.Mutex
	exported map[string]string
	posts    []PostHook
}

// NewStepContext creates a StepContext rooted at the given workspace.
func NewStepContext(workspace string) *StepContext {
	return &StepContext{
		Workspace: workspace,
		Env:       make(map[string]string),
		exported:  make(map[string]string),
	}
}

// WithEnv sets the merged environment and returns the context for chaining.
func (c *StepContext) WithEnv(env map[string]string) *StepContext {
	c.Env = env
	return c
}

// WithExpr sets the expression context.
func (c *StepContext) WithExpr(ec *expr.Context) *StepContext {
	c.Expr = ec
	return c
}

// WithEvent sets the triggering event.
func (c *StepContext) WithEvent(ev *types.Event) *StepContext {
	c.Event = ev
	return c
}

// WithMatrix sets the matrix cell values.
func (c *StepContext) WithMatrix(cell map[string]any) *StepContext {
	c.Matrix = cell
	return c
}

// WithSink sets the log sink.
func (c *StepContext) WithSink(sink LogSink) *StepContext {
	c.Sink = sink
	return c
}

// Log emits one line of step output, redacting secrets on the way out.
func (c *StepContext) Log(line string) {
	if c.Masker != nil {
		line = c.Masker.Redact(line)
	}
	if c.Sink != nil {
		c.Sink(line)
	}
}

// Logf formats and emits one line of step output.
func (c *StepContext) Logf(format string, args ...any) {
	c.Log(fmt.Sprintf(format, args...))
}

// Interpolate resolves ${{ }} expressions against the step's context.
func (c *StepContext) Interpolate(s string) (string, error) {
	return expr.Interpolate(s, c.exprContext())
}

// InterpolateMap resolves ${{ }} expressions in every value of m.
func (c *StepContext) InterpolateMap(m map[string]string) (map[string]string, error) {
	return expr.InterpolateMap(m, c.exprContext())
}

func (c *StepContext) exprContext() *expr.Context {
	if c.Expr != nil {
		return c.Expr
	}
	return expr.NewContext()
}

// ExportEnv makes an environment value visible to the remaining steps of
// the job. The job runner folds exports into each later step's Env.
func (c *StepContext) ExportEnv(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exported == nil {
		c.exported = make(map[string]string)
	}
	c.exported[name] = value
}

// Exported returns a snapshot of the values exported so far.
func (c *StepContext) Exported() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.exported))
	for k, v := range c.exported {
		out[k] = v
	}
	return out
}

// AddPost registers a hook to run after the job's last step.
func (c *StepContext) AddPost(hook PostHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = append(c.posts, hook)
}

// TakePosts removes and returns the registered hooks in reverse
// registration order, the order the job runner executes them in.
func (c *StepContext) TakePosts() []PostHook {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PostHook, 0, len(c.posts))
	for i := len(c.posts) - 1; i >= 0; i-- {
		out = append(out, c.posts[i])
	}
	c.posts = nil
	return out
}
