package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Task{},
		&types.PrdRecord{},
		&types.ChatMessage{},
		&types.ChatDigestCursor{},
	)
}

func EnsureIndexes(db *gorm.DB) error {
	// Pending sweep and per-session listing.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_prd_task_session_end
		ON prd_task (session_id, end_chunk_index DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_prd_task_session_end: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_prd_management_updated
		ON prd_management (updated_at DESC, id DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_prd_management_updated: %w", err)
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_prd_chat_message_session_id
		ON prd_chat_message (session_id, id DESC);
	`).Error; err != nil {
		return fmt.Errorf("create idx_prd_chat_message_session_id: %w", err)
	}
	return nil
}

func (s *SQLiteService) AutoMigrateAll() error {
	s.log.Info("Auto migrating sqlite tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureIndexes(s.db); err != nil {
		s.log.Error("Index migration failed", "error", err)
		return err
	}
	return nil
}
