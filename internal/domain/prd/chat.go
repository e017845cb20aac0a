package prd

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ChatMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"column:session_id;not null;index" json:"session_id"`
	Role      string    `gorm:"column:role;not null" json:"role"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "prd_chat_message" }

// ChatDigestCursor records the last chat message folded into a digest.
type ChatDigestCursor struct {
	SessionID     string    `gorm:"column:session_id;primaryKey" json:"session_id"`
	LastMessageID int64     `gorm:"column:last_message_id;not null" json:"last_message_id"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (ChatDigestCursor) TableName() string { return "prd_chat_digest_cursor" }
