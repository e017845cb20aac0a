package prd

import (
	"strings"

	"gorm.io/datatypes"
)

const (
	TaskQueued        = "queued"
	TaskRunning       = "running"
	TaskSummarizing   = "summarizing"
	TaskGeneratingPRD = "generating_prd"
	TaskDone          = "done"
	TaskFailed        = "failed"
)

// PendingStatuses are re-scheduled at start-up and by the periodic sweep.
var PendingStatuses = []string{TaskQueued, TaskRunning, TaskSummarizing, TaskGeneratingPRD}

const VoiceFilePrefix = "voice_"

// Task is one ingested file and its contiguous, session-global chunk range.
// NextChunkIndex is the resume cursor: chunks below it have summaries on disk.
// FoldedThroughChunk is the highest chunk of this task already in the PRD.
type Task struct {
	ID                 int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID          string         `gorm:"column:session_id;not null;index" json:"session_id"`
	Filename           string         `gorm:"column:filename;not null" json:"filename"`
	SourceFilePath     string         `gorm:"column:source_file_path;not null" json:"source_file_path"`
	ChunkSize          int            `gorm:"column:chunk_size;not null" json:"chunk_size"`
	TotalChunks        int            `gorm:"column:total_chunks;not null" json:"total_chunks"`
	StartChunkIndex    int            `gorm:"column:start_chunk_index;not null" json:"start_chunk_index"`
	EndChunkIndex      int            `gorm:"column:end_chunk_index;not null" json:"end_chunk_index"`
	NextChunkIndex     int            `gorm:"column:next_chunk_index;not null" json:"next_chunk_index"`
	FoldedThroughChunk int            `gorm:"column:folded_through_chunk;not null;default:0" json:"folded_through_chunk"`
	Status             string         `gorm:"column:status;not null;index" json:"status"`
	Error              string         `gorm:"column:error;type:text" json:"error,omitempty"`
	Metadata           datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt          int64          `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          int64          `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Task) TableName() string { return "prd_task" }

// CompletedChunks is next - start, clamped to [0, total].
func (t *Task) CompletedChunks() int {
	done := t.NextChunkIndex - t.StartChunkIndex
	if done < 0 {
		return 0
	}
	if done > t.TotalChunks {
		return t.TotalChunks
	}
	return done
}

// UnfoldedRange is the span of summarized chunks not yet folded into the PRD.
func (t *Task) UnfoldedRange() (from, to int, ok bool) {
	from = t.StartChunkIndex
	if t.FoldedThroughChunk+1 > from {
		from = t.FoldedThroughChunk + 1
	}
	to = t.NextChunkIndex - 1
	if to > t.EndChunkIndex {
		to = t.EndChunkIndex
	}
	return from, to, from <= to
}

func (t *Task) IsVoice() bool {
	return strings.HasPrefix(t.Filename, VoiceFilePrefix)
}

func (t *Task) IsTerminal() bool {
	return t.Status == TaskDone || t.Status == TaskFailed
}

// TaskMetadata is the decoded form of Task.Metadata.
type TaskMetadata struct {
	Source      string `json:"source"`
	ContentType string `json:"content_type,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	TextChars   int    `json:"text_chars,omitempty"`
}

const (
	SourceUpload = "upload"
	SourceVoice  = "voice"
	SourceASR    = "asr"
)
