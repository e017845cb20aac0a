package services

import (
	"context"
	"time"

	"github.com/yungbote/prdsmith-backend/internal/clients/redis"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

// TaskNotifier fans task transitions out to external consumers. Delivery is
// best effort and never fails the caller.
type TaskNotifier interface {
	Notify(ctx context.Context, ev types.TaskEvent)
}

// TaskScheduler queues a task for the worker pool. It reports false when the
// task is already queued or running in this process.
type TaskScheduler interface {
	Schedule(taskID int64) bool
}

type taskNotifier struct {
	log *logger.Logger
	bus redis.EventBus
}

// NewTaskNotifier logs every event and also publishes it when bus is non-nil.
func NewTaskNotifier(baseLog *logger.Logger, bus redis.EventBus) TaskNotifier {
	return &taskNotifier{
		log: baseLog.With("service", "TaskNotifier"),
		bus: bus,
	}
}

func (n *taskNotifier) Notify(ctx context.Context, ev types.TaskEvent) {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	if ev.TaskID > 0 && ev.Status != "" {
		observability.Current().IncTaskTransition(ev.Status)
	}
	n.log.Debug("task event",
		"event", ev.Event,
		"task_id", ev.TaskID,
		"session_id", ev.SessionID,
		"status", ev.Status,
		"chunk_index", ev.ChunkIndex,
	)
	if n.bus == nil {
		return
	}
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("task event publish failed", "event", ev.Event, "task_id", ev.TaskID, "error", err)
	}
}

type nopScheduler struct{}

func (nopScheduler) Schedule(int64) bool { return false }

// NopScheduler is used by CLI commands that ingest without running workers.
func NopScheduler() TaskScheduler { return nopScheduler{} }
