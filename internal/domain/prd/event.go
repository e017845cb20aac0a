package prd

const (
	EventTaskQueued        = "queued"
	EventTaskSummarizing   = "summarizing"
	EventChunkDone         = "chunk_done"
	EventTaskGeneratingPRD = "generating_prd"
	EventTaskDone          = "done"
	EventTaskFailed        = "failed"
	EventPRDUpdated        = "prd_updated"
)

// TaskEvent is published on every task transition and PRD update.
type TaskEvent struct {
	Event      string `json:"event"`
	TaskID     int64  `json:"task_id,omitempty"`
	SessionID  string `json:"session_id"`
	Status     string `json:"status,omitempty"`
	ChunkIndex int    `json:"chunk_index,omitempty"`
	Completed  int    `json:"completed_chunks,omitempty"`
	Total      int    `json:"total_chunks,omitempty"`
	RecordID   int64  `json:"record_id,omitempty"`
	Error      string `json:"error,omitempty"`
	At         int64  `json:"at"`
}
