package runtime

import (
	"context"
	"time"
	"unicode/utf8"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

// MaxErrorChars bounds the error text stored on a failed task.
const MaxErrorChars = 2000

// Handler runs one task to a terminal state.
type Handler interface {
	Type() string
	Run(jc *Context) error
}

/*
Context is the execution handle for a single task run. Pipelines never touch
the prd_task row directly; they report through Checkpoint, SetStatus, Fail
and Succeed so the row, the in-memory copy and the notifier stay in step.
*/
type Context struct {
	Ctx    context.Context
	Task   *types.Task
	Repo   prdrepo.TaskRepo
	Notify services.TaskNotifier
	now    func() time.Time
}

func NewContext(ctx context.Context, task *types.Task, repo prdrepo.TaskRepo, notify services.TaskNotifier) *Context {
	return &Context{
		Ctx:    ctx,
		Task:   task,
		Repo:   repo,
		Notify: notify,
		now:    time.Now,
	}
}

func (c *Context) dbc() dbctx.Context {
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return dbctx.With(ctx)
}

func (c *Context) emit(event string, extra func(ev *types.TaskEvent)) {
	if c.Notify == nil || c.Task == nil {
		return
	}
	ev := types.TaskEvent{
		Event:     event,
		TaskID:    c.Task.ID,
		SessionID: c.Task.SessionID,
		Status:    c.Task.Status,
		Completed: c.Task.CompletedChunks(),
		Total:     c.Task.TotalChunks,
		At:        c.now().UnixMilli(),
	}
	if extra != nil {
		extra(&ev)
	}
	c.Notify.Notify(c.dbc().Ctx, ev)
}

// SetStatus persists a non-terminal status change.
func (c *Context) SetStatus(status string) error {
	if c == nil || c.Task == nil {
		return nil
	}
	if err := c.Repo.UpdateProgress(c.dbc(), c.Task.ID, prdrepo.TaskProgress{Status: status}); err != nil {
		return err
	}
	c.Task.Status = status
	c.Task.UpdatedAt = c.now().Unix()
	c.emit(status, nil)
	return nil
}

// Checkpoint records that every chunk below next has a summary on disk.
func (c *Context) Checkpoint(chunkIndex, next int) error {
	if c == nil || c.Task == nil {
		return nil
	}
	if err := c.Repo.UpdateProgress(c.dbc(), c.Task.ID, prdrepo.TaskProgress{
		Status:         types.TaskSummarizing,
		NextChunkIndex: &next,
	}); err != nil {
		return err
	}
	c.Task.Status = types.TaskSummarizing
	c.Task.NextChunkIndex = next
	c.Task.UpdatedAt = c.now().Unix()
	c.emit(types.EventChunkDone, func(ev *types.TaskEvent) { ev.ChunkIndex = chunkIndex })
	return nil
}

// Fail marks the task failed with a bounded error message. The cursor is
// left where it is so a requeue resumes from the last checkpoint.
func (c *Context) Fail(stage string, err error) {
	if c == nil || c.Task == nil {
		return
	}
	msg := stage
	if err != nil {
		msg = stage + ": " + err.Error()
	}
	msg = TruncateError(msg)
	if uErr := c.Repo.UpdateProgress(c.dbc(), c.Task.ID, prdrepo.TaskProgress{
		Status: types.TaskFailed,
		Error:  &msg,
	}); uErr != nil {
		return
	}
	c.Task.Status = types.TaskFailed
	c.Task.Error = msg
	c.Task.UpdatedAt = c.now().Unix()
	c.emit(types.EventTaskFailed, func(ev *types.TaskEvent) { ev.Error = msg })
}

// Succeed marks the task done and clears any earlier error.
func (c *Context) Succeed(recordID int64) error {
	if c == nil || c.Task == nil {
		return nil
	}
	empty := ""
	if err := c.Repo.UpdateProgress(c.dbc(), c.Task.ID, prdrepo.TaskProgress{
		Status: types.TaskDone,
		Error:  &empty,
	}); err != nil {
		return err
	}
	c.Task.Status = types.TaskDone
	c.Task.Error = ""
	c.Task.UpdatedAt = c.now().Unix()
	c.emit(types.EventTaskDone, func(ev *types.TaskEvent) { ev.RecordID = recordID })
	return nil
}

// TruncateError keeps the first MaxErrorChars characters of msg.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorChars {
		return msg
	}
	return string([]rune(msg)[:MaxErrorChars])
}
