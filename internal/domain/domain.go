package domain

import "github.com/yungbote/prdsmith-backend/internal/domain/prd"

type Task = prd.Task
type TaskMetadata = prd.TaskMetadata
type PrdRecord = prd.PrdRecord
type ChatMessage = prd.ChatMessage
type ChatDigestCursor = prd.ChatDigestCursor

const (
	TaskQueued        = prd.TaskQueued
	TaskRunning       = prd.TaskRunning
	TaskSummarizing   = prd.TaskSummarizing
	TaskGeneratingPRD = prd.TaskGeneratingPRD
	TaskDone          = prd.TaskDone
	TaskFailed        = prd.TaskFailed

	RecordRunning = prd.RecordRunning
	RecordDone    = prd.RecordDone
	RecordDraft   = prd.RecordDraft

	RoleUser      = prd.RoleUser
	RoleAssistant = prd.RoleAssistant

	SourceUpload = prd.SourceUpload
	SourceVoice  = prd.SourceVoice
	SourceASR    = prd.SourceASR

	VoiceFilePrefix = prd.VoiceFilePrefix
)

var PendingStatuses = prd.PendingStatuses

type TaskEvent = prd.TaskEvent

const (
	EventTaskQueued        = prd.EventTaskQueued
	EventTaskSummarizing   = prd.EventTaskSummarizing
	EventChunkDone         = prd.EventChunkDone
	EventTaskGeneratingPRD = prd.EventTaskGeneratingPRD
	EventTaskDone          = prd.EventTaskDone
	EventTaskFailed        = prd.EventTaskFailed
	EventPRDUpdated        = prd.EventPRDUpdated
)
