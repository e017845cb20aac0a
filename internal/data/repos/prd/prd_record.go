package prd

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type PrdRecordRepo interface {
	LatestBySession(dbc dbctx.Context, sessionID string) (*types.PrdRecord, error)
	ListAll(dbc dbctx.Context) ([]*types.PrdRecord, error)
	GetByID(dbc dbctx.Context, id int64) (*types.PrdRecord, error)
	UpsertForSession(dbc dbctx.Context, in PrdRecordUpsert) (*types.PrdRecord, bool, error)
}

// PrdRecordUpsert carries the fields written on every fold.
// FoldedThroughChunk only ever moves forward.
type PrdRecordUpsert struct {
	SessionID          string
	FilePath           string
	Title              string
	Summary            string
	Status             string
	FoldedThroughChunk int
	Now                time.Time
}

type prdRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPrdRecordRepo(db *gorm.DB, baseLog *logger.Logger) PrdRecordRepo {
	return &prdRecordRepo{
		db:  db,
		log: baseLog.With("repo", "PrdRecordRepo"),
	}
}

func (r *prdRecordRepo) LatestBySession(dbc dbctx.Context, sessionID string) (*types.PrdRecord, error) {
	if sessionID == "" {
		return nil, nil
	}
	return r.latest(dbc.Conn(r.db), sessionID)
}

func (r *prdRecordRepo) latest(tx *gorm.DB, sessionID string) (*types.PrdRecord, error) {
	var out []*types.PrdRecord
	if err := tx.
		Where("session_id = ?", sessionID).
		Order("version DESC").
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

func (r *prdRecordRepo) ListAll(dbc dbctx.Context) ([]*types.PrdRecord, error) {
	var out []*types.PrdRecord
	if err := dbc.Conn(r.db).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *prdRecordRepo) GetByID(dbc dbctx.Context, id int64) (*types.PrdRecord, error) {
	if id <= 0 {
		return nil, nil
	}
	var out []*types.PrdRecord
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

// UpsertForSession creates version max+1 when the session has no record and
// otherwise updates the latest one, in one transaction. The bool reports
// whether a row was created.
func (r *prdRecordRepo) UpsertForSession(dbc dbctx.Context, in PrdRecordUpsert) (*types.PrdRecord, bool, error) {
	if in.SessionID == "" {
		return nil, false, fmt.Errorf("upsert prd record: empty session id")
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	ts := now.Unix()

	var out *types.PrdRecord
	created := false
	err := dbc.Conn(r.db).Transaction(func(txx *gorm.DB) error {
		existing, err := r.latest(txx, in.SessionID)
		if err != nil {
			return err
		}
		if existing == nil {
			var maxVersion int
			if err := txx.Model(&types.PrdRecord{}).
				Select("COALESCE(MAX(version), 0)").
				Where("session_id = ?", in.SessionID).
				Scan(&maxVersion).Error; err != nil {
				return err
			}
			rec := &types.PrdRecord{
				SessionID:          in.SessionID,
				FilePath:           in.FilePath,
				Title:              in.Title,
				Summary:            in.Summary,
				Version:            maxVersion + 1,
				Status:             in.Status,
				FoldedThroughChunk: in.FoldedThroughChunk,
				CreatedAt:          ts,
				UpdatedAt:          ts,
			}
			if err := txx.Create(rec).Error; err != nil {
				return err
			}
			out, created = rec, true
			return nil
		}

		folded := existing.FoldedThroughChunk
		if in.FoldedThroughChunk > folded {
			folded = in.FoldedThroughChunk
		}
		if ts <= existing.UpdatedAt {
			ts = existing.UpdatedAt + 1
		}
		updates := map[string]interface{}{
			"file_path":            in.FilePath,
			"title":                in.Title,
			"summary":              in.Summary,
			"status":               in.Status,
			"folded_through_chunk": folded,
			"updated_at":           ts,
		}
		if err := txx.Model(&types.PrdRecord{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		existing.FilePath = in.FilePath
		existing.Title = in.Title
		existing.Summary = in.Summary
		existing.Status = in.Status
		existing.FoldedThroughChunk = folded
		existing.UpdatedAt = ts
		out = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}
