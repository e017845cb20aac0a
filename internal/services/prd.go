package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/modules/prddoc"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

type PRDService interface {
	List(ctx context.Context) ([]*types.PrdRecord, error)
	Latest(ctx context.Context, sessionID string) (*LatestPRD, error)
	Download(ctx context.Context, recordID int64) (*DownloadFile, error)
	Finalize(ctx context.Context, sessionID string) (*FinalizeResult, error)
}

type LatestPRD struct {
	Record   *types.PrdRecord `json:"record"`
	Filename *string          `json:"filename"`
	Content  *string          `json:"content"`
}

type FinalizeResult struct {
	Record       *types.PrdRecord `json:"record"`
	Content      string           `json:"content"`
	FoldedChunks int              `json:"folded_chunks"`
	Fallback     bool             `json:"fallback"`
	Unchanged    bool             `json:"unchanged"`
}

type prdService struct {
	log     *logger.Logger
	records prdrepo.PrdRecordRepo
	files   *sessionfs.Store
	folder  PRDFolder
}

func NewPRDService(baseLog *logger.Logger, records prdrepo.PrdRecordRepo, files *sessionfs.Store, folder PRDFolder) PRDService {
	return &prdService{
		log:     baseLog.With("service", "PRDService"),
		records: records,
		files:   files,
		folder:  folder,
	}
}

func (s *prdService) List(ctx context.Context) ([]*types.PrdRecord, error) {
	recs, err := s.records.ListAll(dbctx.With(ctx))
	if err != nil {
		return nil, apierr.Internal("prd_list_failed", err)
	}
	if recs == nil {
		recs = []*types.PrdRecord{}
	}
	return recs, nil
}

// Latest returns the session's record with its document. All fields are nil
// when the session has no record; content is nil when the file is gone.
func (s *prdService) Latest(ctx context.Context, sessionID string) (*LatestPRD, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	rec, err := s.records.LatestBySession(dbctx.With(ctx), sessionID)
	if err != nil {
		return nil, apierr.Internal("prd_lookup_failed", err)
	}
	out := &LatestPRD{Record: rec}
	if rec == nil || rec.FilePath == "" {
		return out, nil
	}
	p, err := s.files.Resolve(rec.FilePath)
	if err != nil {
		s.log.Warn("prd record path rejected", "record_id", rec.ID, "file_path", rec.FilePath, "error", err)
		return out, nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("prd file unreadable", "record_id", rec.ID, "error", err)
		}
		return out, nil
	}
	name := filepath.Base(p)
	content := string(b)
	out.Filename = &name
	out.Content = &content
	return out, nil
}

func (s *prdService) Download(ctx context.Context, recordID int64) (*DownloadFile, error) {
	rec, err := s.records.GetByID(dbctx.With(ctx), recordID)
	if err != nil {
		return nil, apierr.Internal("prd_lookup_failed", err)
	}
	if rec == nil || rec.FilePath == "" {
		return nil, apierr.NotFound("prd_not_found", fmt.Errorf("prd record %d not found", recordID))
	}
	p, err := s.files.Resolve(rec.FilePath)
	if err != nil {
		return nil, apierr.BadRequest("invalid_path", err)
	}
	if err := mustExist(p); err != nil {
		return nil, err
	}
	return &DownloadFile{Path: p, Filename: filepath.Base(p), ContentType: "text/markdown; charset=utf-8"}, nil
}

// Finalize folds every task chunk whose summary is not in the PRD yet, such
// as voice appends, which never fold on their own. With nothing new it
// returns the current document untouched.
func (s *prdService) Finalize(ctx context.Context, sessionID string) (*FinalizeResult, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	all, err := s.files.ListSummaries(sessionID)
	if err != nil {
		return nil, apierr.Internal("summaries_list_failed", err)
	}
	if len(all) == 0 {
		return nil, apierr.BadRequest("no_summaries", fmt.Errorf("session %s has no summaries", sessionID))
	}

	res, err := s.folder.FoldPending(ctx, PendingFoldInput{SessionID: sessionID, Trigger: FoldTriggerFinalize})
	if err != nil {
		return nil, foldError(err)
	}
	if !res.Unchanged {
		return &FinalizeResult{
			Record:       res.Record,
			Content:      res.Content,
			FoldedChunks: res.FoldedChunks,
			Fallback:     res.Fallback,
		}, nil
	}
	if res.Record != nil && res.Content != "" {
		return &FinalizeResult{Record: res.Record, Content: res.Content, Unchanged: true}, nil
	}

	// Only chat digests so far: fold those.
	items, err := s.readChatDigests(all)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, apierr.BadRequest("no_summaries", fmt.Errorf("session %s has nothing new to fold", sessionID))
	}
	return s.fold(ctx, sessionID, items)
}

func (s *prdService) readChatDigests(all []sessionfs.SummaryFile) ([]prddoc.Summary, error) {
	var items []prddoc.Summary
	for _, sf := range all {
		if sf.Kind != sessionfs.KindChat {
			continue
		}
		body, err := s.files.ReadSummary(sf)
		if err != nil {
			return nil, apierr.Internal("summary_read_failed", err)
		}
		items = append(items, prddoc.Summary{Content: body})
	}
	return items, nil
}

func (s *prdService) fold(ctx context.Context, sessionID string, items []prddoc.Summary) (*FinalizeResult, error) {
	res, err := s.folder.Fold(ctx, FoldInput{
		SessionID: sessionID,
		Summaries: items,
		Status:    types.RecordDone,
		Trigger:   FoldTriggerFinalize,
	})
	if err != nil {
		return nil, foldError(err)
	}
	return &FinalizeResult{
		Record:   res.Record,
		Content:  res.Content,
		Fallback: res.Fallback,
	}, nil
}

func foldError(err error) error {
	if _, ok := apierr.As(err); ok {
		return err
	}
	if errors.Is(err, prddoc.ErrPromptBudget) {
		return apierr.BadRequest("prompt_budget", err)
	}
	return apierr.Internal("prd_fold_failed", err)
}
