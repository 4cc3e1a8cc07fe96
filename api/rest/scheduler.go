package rest

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/pkg/logger"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

// cronScheduler turns the schedule triggers of the loaded workflows into
// cron entries that feed synthetic schedule events into the run queue.
type cronScheduler struct {
	cron      *cron.Cron
	queue     *dispatcher
	store     *runStore
	workflows *workflowSet

	mu      sync.Mutex
	entries []cron.EntryID
	log     *zap.Logger
}

func newCronScheduler(queue *dispatcher, store *runStore, workflows *workflowSet) *cronScheduler {
	return &cronScheduler{
		cron:      cron.New(),
		queue:     queue,
		store:     store,
		workflows: workflows,
		log:       logger.Named("cron"),
	}
}

// rebuild replaces the cron entries with one per schedule trigger of every
// loaded workflow. Called at startup and after each workflow reload.
func (cs *cronScheduler) rebuild() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	for _, id := range cs.entries {
		cs.cron.Remove(id)
	}
	cs.entries = cs.entries[:0]

	for _, wf := range cs.workflows.list() {
		for _, st := range wf.On.Schedule {
			wf, spec := wf, st.Cron
			id, err := cs.cron.AddFunc(spec, func() {
				cs.fire(wf, spec)
			})
			if err != nil {
				cs.log.Warn("skipping schedule entry",
					zap.String("workflow", wf.Name),
					zap.String("cron", spec),
					zap.Error(err))
				continue
			}
			cs.entries = append(cs.entries, id)
		}
	}

	if len(cs.entries) > 0 {
		cs.log.Info("schedules registered", zap.Int("entries", len(cs.entries)))
	}
}

// fire enqueues one scheduled run. A full queue drops the occurrence; the
// next cron tick tries again.
func (cs *cronScheduler) fire(wf *types.Workflow, spec string) {
	ev := &types.Event{
		Type:    types.EventSchedule,
		Time:    time.Now(),
		Payload: map[string]any{"schedule": spec},
	}
	runID := uuid.New().String()
	cs.store.add(newQueuedRun(runID, wf, ev))
	if err := cs.queue.enqueue(queueItem{runID: runID, wf: wf, ev: ev}); err != nil {
		cs.store.remove(runID)
		cs.log.Warn("dropping scheduled run",
			zap.String("workflow", wf.Name),
			zap.String("cron", spec),
			zap.Error(err))
		return
	}
	cs.log.Info("scheduled run queued",
		zap.String("run_id", runID),
		zap.String("workflow", wf.Name),
		zap.String("cron", spec))
}

func (cs *cronScheduler) start() {
	cs.cron.Start()
}

// stop halts the cron loop and waits for in-flight fire callbacks.
func (cs *cronScheduler) stop() {
	<-cs.cron.Stop().Done()
}
