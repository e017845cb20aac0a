package prd

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type ChatMessageRepo interface {
	Create(dbc dbctx.Context, msgs ...*types.ChatMessage) error
	RecentBySession(dbc dbctx.Context, sessionID string, limit int) ([]*types.ChatMessage, error)
	ListAfter(dbc dbctx.Context, sessionID string, afterID int64, limit int) ([]*types.ChatMessage, error)
	PendingDigests(dbc dbctx.Context) ([]PendingDigest, error)
	GetDigestCursor(dbc dbctx.Context, sessionID string) (int64, error)
	SetDigestCursor(dbc dbctx.Context, sessionID string, lastMessageID int64) error
}

// PendingDigest is a session with chat messages past its digest cursor.
type PendingDigest struct {
	SessionID string
	MaxID     int64
}

type chatMessageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatMessageRepo(db *gorm.DB, baseLog *logger.Logger) ChatMessageRepo {
	return &chatMessageRepo{
		db:  db,
		log: baseLog.With("repo", "ChatMessageRepo"),
	}
}

func (r *chatMessageRepo) Create(dbc dbctx.Context, msgs ...*types.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, m := range msgs {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
	}
	return dbc.Conn(r.db).Create(&msgs).Error
}

// RecentBySession returns the newest limit messages, oldest first.
func (r *chatMessageRepo) RecentBySession(dbc dbctx.Context, sessionID string, limit int) ([]*types.ChatMessage, error) {
	var out []*types.ChatMessage
	if sessionID == "" || limit <= 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *chatMessageRepo) ListAfter(dbc dbctx.Context, sessionID string, afterID int64, limit int) ([]*types.ChatMessage, error) {
	var out []*types.ChatMessage
	if sessionID == "" {
		return out, nil
	}
	q := dbc.Conn(r.db).
		Where("session_id = ? AND id > ?", sessionID, afterID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatMessageRepo) PendingDigests(dbc dbctx.Context) ([]PendingDigest, error) {
	var out []PendingDigest
	if err := dbc.Conn(r.db).
		Table("prd_chat_message AS m").
		Select("m.session_id AS session_id, MAX(m.id) AS max_id").
		Joins("LEFT JOIN prd_chat_digest_cursor AS c ON c.session_id = m.session_id").
		Where("m.id > COALESCE(c.last_message_id, 0)").
		Group("m.session_id").
		Order("m.session_id ASC").
		Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *chatMessageRepo) GetDigestCursor(dbc dbctx.Context, sessionID string) (int64, error) {
	var out []*types.ChatDigestCursor
	if err := dbc.Conn(r.db).
		Where("session_id = ?", sessionID).
		Limit(1).
		Find(&out).Error; err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, nil
	}
	return out[0].LastMessageID, nil
}

func (r *chatMessageRepo) SetDigestCursor(dbc dbctx.Context, sessionID string, lastMessageID int64) error {
	row := &types.ChatDigestCursor{
		SessionID:     sessionID,
		LastMessageID: lastMessageID,
		UpdatedAt:     time.Now().UTC(),
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_message_id", "updated_at"}),
		}).
		Create(row).Error
}
