package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/ingestion/extractor"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

type IngestService interface {
	Upload(ctx context.Context, in UploadInput) (*IngestResult, error)
	AppendVoice(ctx context.Context, in VoiceInput) (*IngestResult, error)
}

type IngestConfig struct {
	DefaultChunkSize int
	VoiceChunkSize   int
	MinChunkSize     int
	MaxUploadBytes   int64
}

type UploadInput struct {
	SessionID   string
	Filename    string
	ContentType string
	Data        []byte
	ChunkSize   int
}

type VoiceInput struct {
	SessionID string
	Text      string
	ChunkSize int
	Source    string
}

type IngestResult struct {
	TaskID          int64  `json:"task_id"`
	SessionID       string `json:"session_id"`
	Filename        string `json:"filename"`
	TotalChunks     int    `json:"total_chunks"`
	StartChunkIndex int    `json:"start_chunk_index"`
	EndChunkIndex   int    `json:"end_chunk_index"`
	Status          string `json:"status"`
}

type ingestService struct {
	db        *gorm.DB
	log       *logger.Logger
	tasks     prdrepo.TaskRepo
	files     *sessionfs.Store
	scheduler TaskScheduler
	notifier  TaskNotifier
	cfg       IngestConfig
	now       func() time.Time
}

func NewIngestService(
	db *gorm.DB,
	baseLog *logger.Logger,
	tasks prdrepo.TaskRepo,
	files *sessionfs.Store,
	scheduler TaskScheduler,
	notifier TaskNotifier,
	cfg IngestConfig,
) IngestService {
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = 1000
	}
	if cfg.VoiceChunkSize <= 0 {
		cfg.VoiceChunkSize = 500
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = 200
	}
	if scheduler == nil {
		scheduler = NopScheduler()
	}
	return &ingestService{
		db:        db,
		log:       baseLog.With("service", "IngestService"),
		tasks:     tasks,
		files:     files,
		scheduler: scheduler,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

type ingestRequest struct {
	sessionID string
	filename  string
	text      string
	chunkSize int
	meta      types.TaskMetadata
}

func (s *ingestService) Upload(ctx context.Context, in UploadInput) (*IngestResult, error) {
	if s.cfg.MaxUploadBytes > 0 && int64(len(in.Data)) > s.cfg.MaxUploadBytes {
		return nil, apierr.BadRequest("file_too_large",
			fmt.Errorf("upload is %d bytes, limit is %d", len(in.Data), s.cfg.MaxUploadBytes))
	}
	name, err := uploadFilename(in.Filename)
	if err != nil {
		return nil, apierr.BadRequest("invalid_filename", err)
	}
	text, err := extractor.ExtractText(name, in.ContentType, in.Data)
	if err != nil {
		return nil, extractionError(err)
	}
	chunkSize := in.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.DefaultChunkSize
	}
	return s.ingest(ctx, ingestRequest{
		sessionID: in.SessionID,
		filename:  name,
		text:      text,
		chunkSize: chunkSize,
		meta: types.TaskMetadata{
			Source:      types.SourceUpload,
			ContentType: in.ContentType,
			Bytes:       int64(len(in.Data)),
		},
	})
}

func (s *ingestService) AppendVoice(ctx context.Context, in VoiceInput) (*IngestResult, error) {
	chunkSize := in.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.VoiceChunkSize
	}
	source := in.Source
	if source == "" {
		source = types.SourceVoice
	}
	return s.ingest(ctx, ingestRequest{
		sessionID: in.SessionID,
		filename:  types.VoiceFilePrefix + s.now().Format("20060102_150405") + ".txt",
		text:      in.Text,
		chunkSize: chunkSize,
		meta:      types.TaskMetadata{Source: source, Bytes: int64(len(in.Text))},
	})
}

func (s *ingestService) ingest(ctx context.Context, req ingestRequest) (*IngestResult, error) {
	sessionID := strings.TrimSpace(req.sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	if req.chunkSize < s.cfg.MinChunkSize {
		return nil, apierr.BadRequest("chunk_size_too_small",
			fmt.Errorf("chunk_size must be at least %d, got %d", s.cfg.MinChunkSize, req.chunkSize))
	}
	text := strings.TrimSpace(req.text)
	if text == "" {
		return nil, apierr.BadRequest("empty_text", fmt.Errorf("no text to ingest"))
	}
	chunks := extractor.Chunk(text, req.chunkSize)
	if len(chunks) == 0 {
		return nil, apierr.BadRequest("no_chunks", fmt.Errorf("text produced no chunks"))
	}

	if err := s.files.EnsureSession(sessionID); err != nil {
		return nil, apierr.Internal("session_dir_failed", err)
	}
	req.meta.TextChars = len([]rune(text))
	metaRaw, err := json.Marshal(req.meta)
	if err != nil {
		return nil, apierr.Internal("metadata_encode_failed", err)
	}

	// The single SQLite connection serializes these transactions, so name
	// choice and index allocation cannot race within a process.
	var written []string
	var task *types.Task
	filename := req.filename
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		name, err := s.files.UniqueOriginalName(sessionID, req.filename)
		if err != nil {
			return fmt.Errorf("original name: %w", err)
		}
		filename = name
		sourcePath, err := s.files.WriteOriginal(sessionID, filename, text)
		if err != nil {
			return fmt.Errorf("write original: %w", err)
		}
		if p, err := s.files.Resolve(sourcePath); err == nil {
			written = append(written, p)
		}
		fileMax, err := s.files.MaxChunkIndex(sessionID)
		if err != nil {
			return fmt.Errorf("scan chunk files: %w", err)
		}
		dbMax, err := s.tasks.MaxEndChunkIndex(dbc, sessionID)
		if err != nil {
			return fmt.Errorf("max end chunk index: %w", err)
		}
		start := max(fileMax, dbMax) + 1
		for i, c := range chunks {
			p, err := s.files.WriteChunk(sessionID, start+i, c)
			if err != nil {
				return fmt.Errorf("write chunk %d: %w", start+i, err)
			}
			written = append(written, p)
		}
		task = &types.Task{
			SessionID:       sessionID,
			Filename:        filename,
			SourceFilePath:  sourcePath,
			ChunkSize:       req.chunkSize,
			TotalChunks:     len(chunks),
			StartChunkIndex: start,
			EndChunkIndex:   start + len(chunks) - 1,
			NextChunkIndex:  start,
			Status:          types.TaskQueued,
			Metadata:        datatypes.JSON(metaRaw),
		}
		_, err = s.tasks.Create(dbc, task)
		return err
	})
	if err != nil {
		s.files.RemoveFiles(written)
		s.log.Error("ingest failed", "session_id", sessionID, "filename", filename, "error", err)
		return nil, apierr.Internal("ingest_failed", err)
	}

	s.log.Info("task queued",
		"task_id", task.ID,
		"session_id", sessionID,
		"filename", filename,
		"chunks", task.TotalChunks,
		"start", task.StartChunkIndex,
		"end", task.EndChunkIndex,
	)
	observability.Current().AddIngestedChunks(req.meta.Source, task.TotalChunks)
	if s.notifier != nil {
		s.notifier.Notify(ctx, types.TaskEvent{
			Event:     types.EventTaskQueued,
			TaskID:    task.ID,
			SessionID: sessionID,
			Status:    types.TaskQueued,
			Total:     task.TotalChunks,
		})
	}
	s.scheduler.Schedule(task.ID)

	return &IngestResult{
		TaskID:          task.ID,
		SessionID:       sessionID,
		Filename:        filename,
		TotalChunks:     task.TotalChunks,
		StartChunkIndex: task.StartChunkIndex,
		EndChunkIndex:   task.EndChunkIndex,
		Status:          task.Status,
	}, nil
}

// uploadFilename rejects names with a ".." element and keeps only the base
// name of anything else.
func uploadFilename(raw string) (string, error) {
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == '\\' }) {
		if strings.TrimSpace(part) == ".." {
			return "", fmt.Errorf("%w: %q", sessionfs.ErrInvalidName, raw)
		}
	}
	name := sessionfs.SanitizeFilename(raw)
	if err := sessionfs.ValidateSegment(name); err != nil {
		return "", err
	}
	return name, nil
}

func extractionError(err error) error {
	switch {
	case errors.Is(err, extractor.ErrEmptyFile):
		return apierr.BadRequest("empty_file", err)
	case errors.Is(err, extractor.ErrUnsupported):
		return apierr.BadRequest("unsupported_file_type", err)
	default:
		return apierr.BadRequest("extraction_failed", err)
	}
}
