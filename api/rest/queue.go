package rest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/zacharyburnett/matrixci/internal/engine"
	"github.com/zacharyburnett/matrixci/pkg/logger"
	"github.com/zacharyburnett/matrixci/pkg/types"
)

var (
	errQueueFull   = errors.New("run queue is full")
	errQueueClosed = errors.New("run queue is shut down")
)

// queueItem pairs a pre-assigned run id with the matched workflow and event.
type queueItem struct {
	runID string
	wf    *types.Workflow
	ev    *types.Event
}

// dispatcher owns the run queue and its worker pool. Run ids are assigned
// at enqueue time so the store can answer for a run before it starts.
type dispatcher struct {
	engine *engine.Engine
	store  *runStore

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  chan queueItem
	closed bool

	wg  sync.WaitGroup
	log *zap.Logger
}

func newDispatcher(eng *engine.Engine, store *runStore, size, workers int) *dispatcher {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &dispatcher{
		engine: eng,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan queueItem, size),
		log:    logger.Named("dispatch"),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

func (d *dispatcher) depth() int    { return len(d.queue) }
func (d *dispatcher) capacity() int { return cap(d.queue) }

// enqueue hands a matched run to the worker pool without blocking.
func (d *dispatcher) enqueue(item queueItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errQueueClosed
	}
	select {
	case d.queue <- item:
		return nil
	default:
		return errQueueFull
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.queue {
		d.execute(item)
	}
}

func (d *dispatcher) execute(item queueItem) {
	ctx, cancel := context.WithCancel(d.ctx)
	defer cancel()

	// A cancel that arrived while the run was queued takes effect now:
	// the run still flows through the engine so it concludes cancelled
	// with the usual events.
	if d.store.bindCancel(item.runID, cancel) {
		cancel()
	}
	defer d.store.releaseCancel(item.runID)

	// Trigger matching happened at enqueue time.
	run, err := d.engine.Execute(ctx, item.wf, item.ev, engine.Options{
		RunID: item.runID,
		Force: true,
	})
	if err != nil {
		d.log.Error("queued run could not start",
			zap.String("run_id", item.runID),
			zap.String("workflow", item.wf.Name),
			zap.Error(err))
		d.store.fail(item.runID, err)
		return
	}
	d.store.finish(run)
}

// close stops intake, cancels in-flight runs and waits for the workers.
// Items still queued are drained through the cancelled context, so their
// runs conclude cancelled rather than vanish.
func (d *dispatcher) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}
