package prd

import (
	"gorm.io/gorm"

	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

// Set groups the repos the app wires together.
type Set struct {
	Tasks   TaskRepo
	Records PrdRecordRepo
	Chat    ChatMessageRepo
}

func NewSet(db *gorm.DB, baseLog *logger.Logger) Set {
	return Set{
		Tasks:   NewTaskRepo(db, baseLog),
		Records: NewPrdRecordRepo(db, baseLog),
		Chat:    NewChatMessageRepo(db, baseLog),
	}
}
