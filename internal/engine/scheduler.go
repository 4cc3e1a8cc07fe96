package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zacharyburnett/matrixci/internal/expr"
	"github.com/zacharyburnett/matrixci/internal/matrix"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// jobGroup is the scheduling unit for one workflow job: every matrix cell
// of the job plus the shared fail-fast scope. The done channel closes once
// all cells are terminal, which is what dependents wait on.
type jobGroup struct {
	job      *types.Job
	cells    []matrix.Cell
	runs     []*types.JobRun
	failFast bool
	parallel int

	done chan struct{}
}

// newJobGroup expands the job's matrix and creates one queued JobRun per
// cell. Jobs without a matrix get a single cell.
func newJobGroup(job *types.Job, failFastOverride *bool) (*jobGroup, error) {
	g := &jobGroup{
		job:      job,
		failFast: job.FailFast(),
		done:     make(chan struct{}),
	}
	if failFastOverride != nil {
		g.failFast = *failFastOverride
	}
	if job.Strategy != nil {
		g.parallel = job.Strategy.MaxParallel
	}

	if job.Strategy != nil && job.Strategy.Matrix != nil {
		cells, err := matrix.Expand(job.Strategy.Matrix)
		if err != nil {
			return nil, err
		}
		g.cells = cells
	}
	if len(g.cells) == 0 {
		g.cells = []matrix.Cell{{}}
	}

	for _, cell := range g.cells {
		g.runs = append(g.runs, newJobRun(job, cell))
	}
	return g, nil
}

// newJobRun builds the queued JobRun for one cell, decorating the job name
// with the cell values the way run listings show them.
func newJobRun(job *types.Job, cell matrix.Cell) *types.JobRun {
	name := job.DisplayName()
	var mx map[string]any
	if len(cell.Values) > 0 {
		name = cell.DecorateName(name)
		mx = cell.ContextMap()
	}
	return &types.JobRun{
		ID:     uuid.New().String(),
		JobID:  job.ID,
		Name:   name,
		RunsOn: job.RunsOn,
		Matrix: mx,
		Needs:  job.Needs,
		Status: types.StatusQueued,
	}
}

// scheduler drives job groups through the needs DAG. Each group runs in
// its own goroutine, blocked on the done channels of its needs; cells
// compete for a global worker pool, bounded further by the job's
// max-parallel setting.
type scheduler struct {
	groups map[string]*jobGroup
	order  []string
	slots  chan struct{}
}

func newScheduler(groups []*jobGroup, workers int) *scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &scheduler{
		groups: make(map[string]*jobGroup, len(groups)),
		slots:  make(chan struct{}, workers),
	}
	for _, g := range groups {
		s.groups[g.job.ID] = g
		s.order = append(s.order, g.job.ID)
	}
	return s
}

// run executes every group and returns once all cells are terminal.
func (s *scheduler) run(ctx context.Context, rc *runContext) {
	var wg sync.WaitGroup
	for _, id := range s.order {
		g := s.groups[id]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer close(g.done)
			s.runGroup(ctx, rc, g)
		}()
	}
	wg.Wait()
}

// runGroup waits for the group's needs, gates on their results and the
// job condition, and then dispatches the cells.
func (s *scheduler) runGroup(ctx context.Context, rc *runContext, g *jobGroup) {
	for _, need := range g.job.Needs {
		dep, ok := s.groups[need]
		if !ok {
			// The parser validates needs references; a missing group can
			// only mean a filter bug, treated as a failed dependency.
			s.skipGroup(rc, g)
			return
		}
		select {
		case <-dep.done:
		case <-ctx.Done():
			s.cancelGroup(rc, g)
			return
		}
	}
	if ctx.Err() != nil {
		s.cancelGroup(rc, g)
		return
	}

	ok, err := s.gate(rc, g)
	if err != nil {
		s.failGroup(rc, g, err)
		return
	}
	if !ok {
		s.skipGroup(rc, g)
		return
	}

	needsCtx := s.needsContext(g.job.Needs)

	// Cells share one cancel scope: with fail-fast the first failure
	// cancels in-flight siblings and pending cells never start.
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cellSlots chan struct{}
	if g.parallel > 0 && g.parallel < len(g.runs) {
		cellSlots = make(chan struct{}, g.parallel)
	}

	var wg sync.WaitGroup
	for i := range g.runs {
		jr, cell := g.runs[i], g.cells[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			if cellSlots != nil {
				select {
				case cellSlots <- struct{}{}:
					defer func() { <-cellSlots }()
				case <-groupCtx.Done():
					s.completeUnstarted(rc, jr, types.ConclusionCancelled, "")
					return
				}
			}
			select {
			case s.slots <- struct{}{}:
				defer func() { <-s.slots }()
			case <-groupCtx.Done():
				s.completeUnstarted(rc, jr, types.ConclusionCancelled, "")
				return
			}
			if groupCtx.Err() != nil {
				s.completeUnstarted(rc, jr, types.ConclusionCancelled, "")
				return
			}

			newJobRunner(rc, g.job, jr, cell, needsCtx).run(groupCtx)

			if jr.Conclusion == types.ConclusionFailure && g.failFast {
				cancel()
			}
		}()
	}
	wg.Wait()
}

// gate decides whether the group runs. Without a condition a job runs only
// when every cell of every needed job passed; a condition is evaluated at
// dequeue time with the needs context and a status reflecting them, so
// always()/failure() conditions can run after a failed dependency.
func (s *scheduler) gate(rc *runContext, g *jobGroup) (bool, error) {
	needsOK := true
	for _, need := range g.job.Needs {
		dep, ok := s.groups[need]
		if !ok {
			needsOK = false
			continue
		}
		for _, jr := range dep.runs {
			if !jr.Conclusion.OK() {
				needsOK = false
			}
		}
	}

	cond := strings.TrimSpace(g.job.If)
	if cond == "" {
		return needsOK, nil
	}

	status := "success"
	if !needsOK {
		status = "failure"
	}
	ec := rc.baseExprContext().
		WithValue("needs", s.needsContext(g.job.Needs)).
		WithStatus(status)
	ok, err := expr.EvaluateBool(cond, ec)
	if err != nil {
		return false, fmt.Errorf("evaluating job condition: %w", err)
	}
	return ok, nil
}

// needsContext builds the needs root for expressions: result and outputs
// per needed job. For matrix jobs the outputs of the last successful cell
// win.
func (s *scheduler) needsContext(needs []string) map[string]any {
	out := make(map[string]any, len(needs))
	for _, need := range needs {
		g, ok := s.groups[need]
		if !ok {
			continue
		}
		outputs := make(map[string]any)
		for _, jr := range g.runs {
			if jr.Conclusion != types.ConclusionSuccess {
				continue
			}
			for k, v := range jr.Outputs {
				outputs[k] = v
			}
		}
		out[need] = map[string]any{
			"result":  string(groupConclusion(g.runs)),
			"outputs": outputs,
		}
	}
	return out
}

// groupConclusion folds cell conclusions into one job-level result:
// failure beats cancelled beats success; a job whose cells were all
// skipped is skipped.
func groupConclusion(runs []*types.JobRun) types.Conclusion {
	sawSuccess := false
	sawCancelled := false
	for _, jr := range runs {
		switch jr.Conclusion {
		case types.ConclusionFailure:
			return types.ConclusionFailure
		case types.ConclusionCancelled:
			sawCancelled = true
		case types.ConclusionSuccess:
			sawSuccess = true
		}
	}
	if sawCancelled {
		return types.ConclusionCancelled
	}
	if !sawSuccess {
		return types.ConclusionSkipped
	}
	return types.ConclusionSuccess
}

func (s *scheduler) skipGroup(rc *runContext, g *jobGroup) {
	for _, jr := range g.runs {
		s.completeUnstarted(rc, jr, types.ConclusionSkipped, "")
	}
}

func (s *scheduler) cancelGroup(rc *runContext, g *jobGroup) {
	for _, jr := range g.runs {
		s.completeUnstarted(rc, jr, types.ConclusionCancelled, "")
	}
}

func (s *scheduler) failGroup(rc *runContext, g *jobGroup, err error) {
	for _, jr := range g.runs {
		s.completeUnstarted(rc, jr, types.ConclusionFailure, err.Error())
	}
}

// completeUnstarted finishes a JobRun that never ran a step. There is no
// job_started event for these, only the terminal one.
func (s *scheduler) completeUnstarted(rc *runContext, jr *types.JobRun, c types.Conclusion, errMsg string) {
	jr.Error = errMsg
	jr.Complete(c)
	rc.emitJobCompleted(jr)
}
