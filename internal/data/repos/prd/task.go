package prd

import (
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type TaskRepo interface {
	Create(dbc dbctx.Context, task *types.Task) (*types.Task, error)
	GetByID(dbc dbctx.Context, id int64) (*types.Task, error)
	ListBySession(dbc dbctx.Context, sessionID string) ([]*types.Task, error)
	LatestBySession(dbc dbctx.Context, sessionID string) (*types.Task, error)
	ListRecent(dbc dbctx.Context, status string, limit int) ([]*types.Task, error)
	ListPendingIDs(dbc dbctx.Context) ([]int64, error)
	MaxEndChunkIndex(dbc dbctx.Context, sessionID string) (int, error)
	ListUnfolded(dbc dbctx.Context, sessionID string) ([]*types.Task, error)
	MarkFolded(dbc dbctx.Context, id int64, throughChunk int) error
	UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error
	UpdateProgress(dbc dbctx.Context, id int64, update TaskProgress) error
}

// TaskProgress is a partial update; nil fields are left alone.
type TaskProgress struct {
	Status         string
	NextChunkIndex *int
	Error          *string
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{
		db:  db,
		log: baseLog.With("repo", "TaskRepo"),
	}
}

func (r *taskRepo) Create(dbc dbctx.Context, task *types.Task) (*types.Task, error) {
	if task == nil {
		return nil, nil
	}
	if err := dbc.Conn(r.db).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepo) GetByID(dbc dbctx.Context, id int64) (*types.Task, error) {
	if id <= 0 {
		return nil, nil
	}
	var out []*types.Task
	if err := dbc.Conn(r.db).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *taskRepo) ListBySession(dbc dbctx.Context, sessionID string) ([]*types.Task, error) {
	var out []*types.Task
	if sessionID == "" {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) LatestBySession(dbc dbctx.Context, sessionID string) (*types.Task, error) {
	if sessionID == "" {
		return nil, nil
	}
	var out []*types.Task
	if err := dbc.Conn(r.db).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *taskRepo) ListRecent(dbc dbctx.Context, status string, limit int) ([]*types.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	q := dbc.Conn(r.db).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []*types.Task
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) ListPendingIDs(dbc dbctx.Context) ([]int64, error) {
	var ids []int64
	if err := dbc.Conn(r.db).
		Model(&types.Task{}).
		Where("status IN ?", types.PendingStatuses).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// MaxEndChunkIndex is 0 for a session without tasks.
func (r *taskRepo) MaxEndChunkIndex(dbc dbctx.Context, sessionID string) (int, error) {
	var highest int
	if err := dbc.Conn(r.db).
		Model(&types.Task{}).
		Select("COALESCE(MAX(end_chunk_index), 0)").
		Where("session_id = ?", sessionID).
		Scan(&highest).Error; err != nil {
		return 0, err
	}
	return highest, nil
}

// ListUnfolded returns the session's tasks with summarized chunks that have
// not reached the PRD yet, in chunk order. Status is not filtered: a failed
// task's finished chunks count too.
func (r *taskRepo) ListUnfolded(dbc dbctx.Context, sessionID string) ([]*types.Task, error) {
	var out []*types.Task
	if err := dbc.Conn(r.db).
		Where("session_id = ?", sessionID).
		Where("next_chunk_index > start_chunk_index").
		Where("folded_through_chunk < next_chunk_index - 1").
		Order("start_chunk_index ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MarkFolded raises the task's fold watermark; it never moves it back.
func (r *taskRepo) MarkFolded(dbc dbctx.Context, id int64, throughChunk int) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{
		"folded_through_chunk": gorm.Expr("MAX(folded_through_chunk, ?)", throughChunk),
	})
}

func (r *taskRepo) UpdateFields(dbc dbctx.Context, id int64, updates map[string]interface{}) error {
	if id <= 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().Unix()
	}
	return dbc.Conn(r.db).
		Model(&types.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) UpdateProgress(dbc dbctx.Context, id int64, update TaskProgress) error {
	updates := map[string]interface{}{}
	if update.Status != "" {
		updates["status"] = update.Status
	}
	if update.NextChunkIndex != nil {
		updates["next_chunk_index"] = *update.NextChunkIndex
	}
	if update.Error != nil {
		updates["error"] = *update.Error
	}
	return r.UpdateFields(dbc, id, updates)
}
