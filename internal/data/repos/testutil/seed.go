package testutil

import (
	"context"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
)

func SeedTask(tb testing.TB, ctx context.Context, tx *gorm.DB, sessionID string, start, end int, status string) *types.Task {
	tb.Helper()
	t := &types.Task{
		SessionID:       sessionID,
		Filename:        "doc.txt",
		SourceFilePath:  sessionID + "/original/doc.txt",
		ChunkSize:       1000,
		TotalChunks:     end - start + 1,
		StartChunkIndex: start,
		EndChunkIndex:   end,
		NextChunkIndex:  start,
		Status:          status,
		Metadata:        datatypes.JSON([]byte(`{"source":"upload"}`)),
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed task: %v", err)
	}
	return t
}

func SeedChatMessage(tb testing.TB, ctx context.Context, tx *gorm.DB, m *types.ChatMessage) *types.ChatMessage {
	tb.Helper()
	if err := tx.WithContext(ctx).Create(m).Error; err != nil {
		tb.Fatalf("seed chat message: %v", err)
	}
	return m
}
