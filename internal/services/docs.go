package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

// DocsService is the read side of the document pipeline plus task admin.
type DocsService interface {
	Status(ctx context.Context, taskID int64, sessionID string) (*TaskStatus, error)
	Summaries(ctx context.Context, sessionID string) (*SummaryList, error)
	Cumulative(ctx context.Context, sessionID string) (*CumulativeDoc, error)
	OriginalFile(ctx context.Context, sessionID, filename string) (*DownloadFile, error)
	CumulativeFile(ctx context.Context, sessionID string) (*DownloadFile, error)
	ListTasks(ctx context.Context, sessionID, status string, limit int) ([]*TaskStatus, error)
	Requeue(ctx context.Context, taskID int64) (*TaskStatus, error)
}

type TaskStatus struct {
	TaskID          int64  `json:"task_id"`
	SessionID       string `json:"session_id"`
	Filename        string `json:"filename"`
	Status          string `json:"status"`
	TotalChunks     int    `json:"total_chunks"`
	CompletedChunks int    `json:"completed_chunks"`
	StartChunkIndex int    `json:"start_chunk_index"`
	EndChunkIndex   int    `json:"end_chunk_index"`
	NextChunkIndex  int    `json:"next_chunk_index"`
	Error           string `json:"error,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

type SummaryItem struct {
	ChunkIndex *int   `json:"chunk_index"`
	Kind       string `json:"kind"`
	Filename   string `json:"filename"`
	Timestamp  int64  `json:"timestamp"`
	CreatedAt  int64  `json:"created_at"`
	Content    string `json:"content"`
}

type SummaryList struct {
	SessionID string        `json:"session_id"`
	Items     []SummaryItem `json:"items"`
}

type CumulativeDoc struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Exists    bool   `json:"exists"`
}

// DownloadFile is a sandbox-checked absolute path plus the name to serve.
type DownloadFile struct {
	Path        string
	Filename    string
	ContentType string
}

type docsService struct {
	log       *logger.Logger
	tasks     prdrepo.TaskRepo
	files     *sessionfs.Store
	scheduler TaskScheduler
}

func NewDocsService(baseLog *logger.Logger, tasks prdrepo.TaskRepo, files *sessionfs.Store, scheduler TaskScheduler) DocsService {
	if scheduler == nil {
		scheduler = NopScheduler()
	}
	return &docsService{
		log:       baseLog.With("service", "DocsService"),
		tasks:     tasks,
		files:     files,
		scheduler: scheduler,
	}
}

func toTaskStatus(t *types.Task) *TaskStatus {
	return &TaskStatus{
		TaskID:          t.ID,
		SessionID:       t.SessionID,
		Filename:        t.Filename,
		Status:          t.Status,
		TotalChunks:     t.TotalChunks,
		CompletedChunks: t.CompletedChunks(),
		StartChunkIndex: t.StartChunkIndex,
		EndChunkIndex:   t.EndChunkIndex,
		NextChunkIndex:  t.NextChunkIndex,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

// Status looks a task up by id, or the session's newest task when id is 0.
func (s *docsService) Status(ctx context.Context, taskID int64, sessionID string) (*TaskStatus, error) {
	dbc := dbctx.With(ctx)
	var (
		task *types.Task
		err  error
	)
	switch {
	case taskID > 0:
		task, err = s.tasks.GetByID(dbc, taskID)
	case strings.TrimSpace(sessionID) != "":
		if vErr := sessionfs.ValidateSegment(sessionID); vErr != nil {
			return nil, apierr.BadRequest("invalid_session_id", vErr)
		}
		task, err = s.tasks.LatestBySession(dbc, strings.TrimSpace(sessionID))
	default:
		return nil, apierr.BadRequest("missing_task_or_session", errors.New("task_id or session_id is required"))
	}
	if err != nil {
		return nil, apierr.Internal("task_lookup_failed", err)
	}
	if task == nil {
		return nil, apierr.NotFound("task_not_found", errors.New("task not found"))
	}
	return toTaskStatus(task), nil
}

func (s *docsService) Summaries(ctx context.Context, sessionID string) (*SummaryList, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	files, err := s.files.ListSummaries(sessionID)
	if err != nil {
		return nil, apierr.Internal("summaries_list_failed", err)
	}
	out := &SummaryList{SessionID: sessionID, Items: make([]SummaryItem, 0, len(files))}
	for _, sf := range files {
		content, err := s.files.ReadSummary(sf)
		if err != nil {
			s.log.Warn("summary unreadable", "session_id", sessionID, "filename", sf.Filename, "error", err)
			content = ""
		}
		item := SummaryItem{
			Kind:      sf.Kind,
			Filename:  sf.Filename,
			Timestamp: sf.TimestampMs,
			CreatedAt: sf.TimestampMs,
			Content:   content,
		}
		if sf.Kind == sessionfs.KindChunk {
			idx := sf.ChunkIndex
			item.ChunkIndex = &idx
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (s *docsService) Cumulative(ctx context.Context, sessionID string) (*CumulativeDoc, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	content, ok, err := s.files.ReadPRD(sessionID)
	if err != nil {
		return nil, apierr.Internal("prd_read_failed", err)
	}
	return &CumulativeDoc{SessionID: sessionID, Content: content, Exists: ok}, nil
}

func (s *docsService) OriginalFile(ctx context.Context, sessionID, filename string) (*DownloadFile, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	if err := sessionfs.ValidateSegment(filename); err != nil {
		return nil, apierr.BadRequest("invalid_filename", err)
	}
	p, err := s.files.OriginalPath(sessionID, filename)
	if err != nil {
		return nil, apierr.BadRequest("invalid_path", err)
	}
	if err := mustExist(p); err != nil {
		return nil, err
	}
	return &DownloadFile{Path: p, Filename: filename, ContentType: "text/plain; charset=utf-8"}, nil
}

func (s *docsService) CumulativeFile(ctx context.Context, sessionID string) (*DownloadFile, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	p, err := s.files.PRDPath(sessionID)
	if err != nil {
		return nil, apierr.BadRequest("invalid_path", err)
	}
	if err := mustExist(p); err != nil {
		return nil, err
	}
	return &DownloadFile{Path: p, Filename: "prd_" + sessionID + ".md", ContentType: "text/markdown; charset=utf-8"}, nil
}

func (s *docsService) ListTasks(ctx context.Context, sessionID, status string, limit int) ([]*TaskStatus, error) {
	dbc := dbctx.With(ctx)
	var (
		tasks []*types.Task
		err   error
	)
	if strings.TrimSpace(sessionID) != "" {
		if vErr := sessionfs.ValidateSegment(sessionID); vErr != nil {
			return nil, apierr.BadRequest("invalid_session_id", vErr)
		}
		tasks, err = s.tasks.ListBySession(dbc, sessionID)
	} else {
		tasks, err = s.tasks.ListRecent(dbc, status, limit)
	}
	if err != nil {
		return nil, apierr.Internal("task_list_failed", err)
	}
	out := make([]*TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		if sessionID != "" && status != "" && t.Status != status {
			continue
		}
		out = append(out, toTaskStatus(t))
	}
	return out, nil
}

// Requeue puts a failed or stuck task back in the queue. The cursor is kept,
// so summarization resumes where it stopped.
func (s *docsService) Requeue(ctx context.Context, taskID int64) (*TaskStatus, error) {
	dbc := dbctx.With(ctx)
	task, err := s.tasks.GetByID(dbc, taskID)
	if err != nil {
		return nil, apierr.Internal("task_lookup_failed", err)
	}
	if task == nil {
		return nil, apierr.NotFound("task_not_found", fmt.Errorf("task %d not found", taskID))
	}
	if task.Status == types.TaskDone {
		return toTaskStatus(task), nil
	}
	empty := ""
	if err := s.tasks.UpdateProgress(dbc, taskID, prdrepo.TaskProgress{Status: types.TaskQueued, Error: &empty}); err != nil {
		return nil, apierr.Internal("task_requeue_failed", err)
	}
	task.Status = types.TaskQueued
	task.Error = ""
	s.scheduler.Schedule(taskID)
	s.log.Info("task requeued", "task_id", taskID, "session_id", task.SessionID, "next_chunk_index", task.NextChunkIndex)
	return toTaskStatus(task), nil
}

func mustExist(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apierr.NotFound("file_not_found", errors.New("file not found"))
		}
		return apierr.Internal("file_stat_failed", err)
	}
	if info.IsDir() {
		return apierr.NotFound("file_not_found", errors.New("file not found"))
	}
	return nil
}
