package prd

const (
	RecordRunning = "running"
	RecordDone    = "done"
	RecordDraft   = "draft"
)

// PrdRecord is the single evolving catalog row for a session's PRD.
type PrdRecord struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID          string `gorm:"column:session_id;not null;uniqueIndex:idx_prd_session_version,priority:1" json:"session_id"`
	FilePath           string `gorm:"column:file_path;not null" json:"file_path"`
	Title              string `gorm:"column:title" json:"title"`
	Summary            string `gorm:"column:summary;type:text" json:"summary"`
	Version            int    `gorm:"column:version;not null;uniqueIndex:idx_prd_session_version,priority:2" json:"version"`
	Status             string `gorm:"column:status;not null" json:"status"`
	FoldedThroughChunk int    `gorm:"column:folded_through_chunk;not null;default:0" json:"folded_through_chunk"`
	CreatedAt          int64  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          int64  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PrdRecord) TableName() string { return "prd_management" }
