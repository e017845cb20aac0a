package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/jobs/runtime"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type Config struct {
	Concurrency   int
	QueueSize     int
	SweepInterval time.Duration
}

// Worker runs summarize tasks on a fixed pool. Tasks enter through Schedule
// (new uploads) or the periodic sweep of pending rows (restart resume).
type Worker struct {
	log     *logger.Logger
	repo    prdrepo.TaskRepo
	handler runtime.Handler
	notify  services.TaskNotifier
	cfg     Config

	queue chan int64

	mu       sync.Mutex
	inflight map[int64]struct{}

	wg sync.WaitGroup
}

var _ services.TaskScheduler = (*Worker)(nil)

func NewWorker(baseLog *logger.Logger, repo prdrepo.TaskRepo, handler runtime.Handler, notify services.TaskNotifier, cfg Config) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 256
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &Worker{
		log:      baseLog.With("component", "TaskWorker"),
		repo:     repo,
		handler:  handler,
		notify:   notify,
		cfg:      cfg,
		queue:    make(chan int64, cfg.QueueSize),
		inflight: map[int64]struct{}{},
	}
}

// Schedule queues taskID unless it is already queued or running here. It
// never blocks; a full queue leaves the task for the next sweep.
func (w *Worker) Schedule(taskID int64) bool {
	if taskID <= 0 {
		return false
	}
	w.mu.Lock()
	if _, ok := w.inflight[taskID]; ok {
		w.mu.Unlock()
		return false
	}
	w.inflight[taskID] = struct{}{}
	w.mu.Unlock()

	select {
	case w.queue <- taskID:
		return true
	default:
		w.release(taskID)
		w.log.Warn("task queue full; deferring to sweep", "task_id", taskID)
		return false
	}
}

func (w *Worker) release(taskID int64) {
	w.mu.Lock()
	delete(w.inflight, taskID)
	w.mu.Unlock()
}

// Start resumes pending tasks and launches the pool. It returns immediately.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info("Starting task worker pool", "concurrency", w.cfg.Concurrency)
	for i := 0; i < w.cfg.Concurrency; i++ {
		workerID := i + 1
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.sweepLoop(ctx)
	}()
}

// Wait blocks until every loop has exited after ctx cancellation.
func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) sweepLoop(ctx context.Context) {
	w.Sweep(ctx)
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep schedules every pending task not already owned by this process and
// returns how many were queued.
func (w *Worker) Sweep(ctx context.Context) int {
	ids, err := w.repo.ListPendingIDs(dbctx.With(ctx))
	if err != nil {
		w.log.Warn("ListPendingIDs failed", "error", err)
		return 0
	}
	n := 0
	for _, id := range ids {
		if w.Schedule(id) {
			n++
		}
	}
	if n > 0 {
		w.log.Info("resumed pending tasks", "count", n)
	}
	return n
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case id := <-w.queue:
			w.process(ctx, workerID, id)
			w.release(id)
		}
	}
}

// Process runs one task synchronously. Exposed for the CLI and tests.
func (w *Worker) Process(ctx context.Context, taskID int64) error {
	return w.process(ctx, 0, taskID)
}

func (w *Worker) process(ctx context.Context, workerID int, taskID int64) (err error) {
	task, err := w.repo.GetByID(dbctx.With(ctx), taskID)
	if err != nil {
		w.log.Warn("load task failed", "worker_id", workerID, "task_id", taskID, "error", err)
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", taskID)
	}
	if task.Status == types.TaskDone {
		return nil
	}

	observability.Current().WorkerInflightInc()
	defer observability.Current().WorkerInflightDec()

	jc := runtime.NewContext(ctx, task, w.repo, w.notify)
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Task handler panic",
				"worker_id", workerID,
				"task_id", task.ID,
				"panic", r,
			)
			err = errFromRecover(r)
			jc.Fail("panic", err)
		}
	}()

	start := time.Now()
	if runErr := w.handler.Run(jc); runErr != nil {
		if ctx.Err() != nil && errors.Is(runErr, ctx.Err()) {
			return runErr
		}
		// Pipelines usually record their own failure; cover the ones that did not.
		jc.Fail("run", runErr)
		return runErr
	}
	w.log.Info("task finished",
		"worker_id", workerID,
		"task_id", task.ID,
		"session_id", task.SessionID,
		"status", task.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func errFromRecover(v any) error { return &panicError{Val: v} }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }
