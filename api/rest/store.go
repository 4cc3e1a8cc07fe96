package rest

import (
	"context"
	"sync"
	"time"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// logTailLimit caps the log lines retained per run.
const logTailLimit = 4096

// runStore is the server's in-memory run history. Entries are inserted when
// a run is queued and then updated from the engine's event stream, so a run
// is addressable the moment its id is handed out. Job frames on the stream
// are immutable snapshots; the store only ever replaces pointers, which
// keeps reads race-free without copying whole runs.
type runStore struct {
	mu    sync.RWMutex
	runs  map[string]*runEntry
	order []string
	limit int
}

type runEntry struct {
	run      *types.Run
	jobIndex map[string]int
	logs     []types.LogLine

	// cancel is bound while a worker executes the run. cancelPending
	// records a cancel that arrived before the worker picked the run up.
	cancel        context.CancelFunc
	cancelPending bool
}

func newRunStore(limit int) *runStore {
	if limit <= 0 {
		limit = 256
	}
	return &runStore{
		runs:  make(map[string]*runEntry),
		limit: limit,
	}
}

// newQueuedRun builds the placeholder entry inserted at enqueue time.
func newQueuedRun(id string, wf *types.Workflow, ev *types.Event) *types.Run {
	return &types.Run{
		ID:           id,
		WorkflowName: wf.Name,
		WorkflowFile: wf.Source,
		Event:        ev,
		Status:       types.StatusQueued,
		CreatedAt:    time.Now(),
	}
}

// consume applies engine events until the stream closes.
func (s *runStore) consume(ch <-chan *types.RunEvent) {
	for ev := range ch {
		s.apply(ev)
	}
}

func (s *runStore) apply(ev *types.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.runs[ev.RunID]
	if !ok {
		// Runs started outside the queue (CLI sharing the engine) are
		// not tracked here.
		return
	}

	switch ev.Type {
	case types.RunEventRunStarted:
		e.run.Status = types.StatusInProgress
		e.run.StartedAt = ev.Time

	case types.RunEventRunCompleted:
		e.run.Status = types.StatusCompleted
		e.run.Conclusion = ev.Conclusion
		e.run.FinishedAt = ev.Time
		s.evictLocked()

	case types.RunEventJobStarted, types.RunEventJobCompleted:
		if ev.Job == nil {
			return
		}
		if idx, ok := e.jobIndex[ev.Job.ID]; ok {
			e.run.Jobs[idx] = ev.Job
		} else {
			e.jobIndex[ev.Job.ID] = len(e.run.Jobs)
			e.run.Jobs = append(e.run.Jobs, ev.Job)
		}

	case types.RunEventLogLine:
		if ev.Line == nil {
			return
		}
		e.logs = append(e.logs, *ev.Line)
		if len(e.logs) > logTailLimit {
			e.logs = e.logs[len(e.logs)-logTailLimit:]
		}
	}
}

// add inserts a queued run.
func (s *runStore) add(run *types.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = &runEntry{run: run, jobIndex: make(map[string]int)}
	s.order = append(s.order, run.ID)
	s.evictLocked()
}

// remove drops an entry whose enqueue was rolled back.
func (s *runStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(id)
}

// finish swaps in the completed run returned by the engine. The stream
// drops frames under pressure, so the authoritative final state always
// comes from here.
func (s *runStore) finish(run *types.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[run.ID]
	if !ok {
		return
	}
	e.run = run
	e.jobIndex = make(map[string]int, len(run.Jobs))
	for i, jr := range run.Jobs {
		e.jobIndex[jr.ID] = i
	}
	s.evictLocked()
}

// fail marks a run that could not start as failed.
func (s *runStore) fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return
	}
	e.run.Status = types.StatusCompleted
	e.run.Conclusion = types.ConclusionFailure
	e.run.Error = err.Error()
	e.run.FinishedAt = time.Now()
	s.evictLocked()
}

// get returns a point-in-time copy of a run.
func (s *runStore) get(id string) (*types.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return snapshotRun(e.run), true
}

// runFilter narrows list results.
type runFilter struct {
	status   string
	workflow string
	limit    int
}

// list returns matching runs, newest first.
func (s *runStore) list(f runFilter) []*types.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Run, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.runs[s.order[i]]
		if f.status != "" && string(e.run.Status) != f.status {
			continue
		}
		if f.workflow != "" && e.run.WorkflowName != f.workflow {
			continue
		}
		out = append(out, snapshotRun(e.run))
		if f.limit > 0 && len(out) >= f.limit {
			break
		}
	}
	return out
}

// logs returns the retained log tail, optionally filtered to one job by
// its id, cell name or job run id.
func (s *runStore) logs(id, job string) ([]types.LogLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	if job == "" {
		return append([]types.LogLine(nil), e.logs...), true
	}
	jobRunIDs := make(map[string]bool)
	for _, jr := range e.run.Jobs {
		if jr.JobID == job || jr.Name == job {
			jobRunIDs[jr.ID] = true
		}
	}
	var out []types.LogLine
	for _, ln := range e.logs {
		if ln.JobRunID == job || ln.JobName == job || jobRunIDs[ln.JobRunID] {
			out = append(out, ln)
		}
	}
	return out, true
}

// count returns the number of tracked runs.
func (s *runStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// bindCancel attaches the worker's cancel func and reports whether a
// cancel was already requested while the run sat in the queue.
func (s *runStore) bindCancel(id string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return false
	}
	e.cancel = cancel
	return e.cancelPending
}

// releaseCancel detaches the worker's cancel func once the run finished.
func (s *runStore) releaseCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.runs[id]; ok {
		e.cancel = nil
	}
}

// requestCancel cancels a run. A running run is cancelled through its
// worker context; a queued run is flagged and cancelled as soon as a
// worker picks it up. The returned status tells the caller which case it
// hit.
func (s *runStore) requestCancel(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	if !ok {
		return "", false
	}
	if e.run.Status == types.StatusCompleted {
		return "completed", true
	}
	if e.cancel != nil {
		e.cancel()
		return "cancelling", true
	}
	e.cancelPending = true
	return "cancelling", true
}

// evictLocked drops the oldest completed runs once the history limit is
// exceeded. Queued and running entries are never evicted.
func (s *runStore) evictLocked() {
	for len(s.order) > s.limit {
		evicted := false
		for _, id := range s.order {
			if s.runs[id].run.Status == types.StatusCompleted {
				s.deleteLocked(id)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func (s *runStore) deleteLocked(id string) {
	if _, ok := s.runs[id]; !ok {
		return
	}
	delete(s.runs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// snapshotRun copies the run header and its job slice. Job entries are
// stream snapshots that are replaced, never mutated, so sharing their
// pointers is safe.
func snapshotRun(run *types.Run) *types.Run {
	cp := *run
	cp.Jobs = append([]*types.JobRun(nil), run.Jobs...)
	return &cp
}
