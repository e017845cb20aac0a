package prd_summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	types "github.com/yungbote/prdsmith-backend/internal/domain"
	jobrt "github.com/yungbote/prdsmith-backend/internal/jobs/runtime"
	"github.com/yungbote/prdsmith-backend/internal/modules/prddoc"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Task == nil {
		return nil
	}
	task := jc.Task
	if task.Status == types.TaskDone {
		return nil
	}
	ctx := jc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := observability.StartSpan(ctx, "prd_summarize.run")
	defer span.End()

	next := task.NextChunkIndex
	if next < task.StartChunkIndex {
		next = task.StartChunkIndex
	}
	if next <= task.EndChunkIndex {
		if err := jc.SetStatus(types.TaskSummarizing); err != nil {
			jc.Fail("summarize", err)
			return nil
		}
	}

	for idx := next; idx <= task.EndChunkIndex; idx++ {
		if err := ctx.Err(); err != nil {
			// Shutdown: leave the cursor at the last checkpoint for resume.
			p.log.Info("task interrupted", "task_id", task.ID, "next_chunk_index", idx)
			return err
		}
		if err := p.summarizeChunk(ctx, task, idx); err != nil {
			jc.Fail("summarize", err)
			return nil
		}
		if err := jc.Checkpoint(idx, idx+1); err != nil {
			jc.Fail("checkpoint", err)
			return nil
		}
	}

	if task.IsVoice() {
		if err := jc.Succeed(0); err != nil {
			p.log.Warn("succeed failed", "task_id", task.ID, "error", err)
		}
		return nil
	}

	if err := jc.SetStatus(types.TaskGeneratingPRD); err != nil {
		jc.Fail("generate_prd", err)
		return nil
	}
	res, err := p.folder.FoldPending(ctx, services.PendingFoldInput{
		SessionID: task.SessionID,
		TaskID:    task.ID,
		Trigger:   services.FoldTriggerWorker,
	})
	if err != nil {
		jc.Fail("generate_prd", err)
		return nil
	}
	var recordID int64
	if res.Record != nil {
		recordID = res.Record.ID
	}
	if err := jc.Succeed(recordID); err != nil {
		p.log.Warn("succeed failed", "task_id", task.ID, "error", err)
	}
	return nil
}

// summarizeChunk writes exactly one summary file for idx. Model failures fall
// back to an excerpt; only prompt budget and file errors are fatal.
func (p *Pipeline) summarizeChunk(ctx context.Context, task *types.Task, idx int) error {
	text, err := p.files.ReadChunk(task.SessionID, idx)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", idx, err)
	}
	prompt, err := prddoc.BuildChunkSummaryPrompt(text, idx, task.Filename, p.cfg.MaxInputBytes)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", idx, err)
	}

	content, reason := p.runAgent(ctx, task, prompt)
	fallback := reason != ""
	if fallback {
		content = prddoc.FallbackChunkSummary(idx, text, reason)
	}
	if _, err := p.files.WriteSummary(task.SessionID, idx, content); err != nil {
		return fmt.Errorf("write summary %d: %w", idx, err)
	}
	observability.Current().IncChunkSummarized(fallback)
	p.log.Debug("chunk summarized", "task_id", task.ID, "chunk_index", idx, "fallback", fallback)
	return nil
}

// runAgent returns the summary, or a non-empty reason when the caller should
// fall back.
func (p *Pipeline) runAgent(ctx context.Context, task *types.Task, prompt string) (string, string) {
	if p.agent == nil {
		return "", "agent not configured"
	}
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.AgentTimeout)
	defer cancel()
	res, err := p.agent.Run(callCtx, prompt, task.SessionID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", "timeout"
		}
		p.log.Warn("summary agent failed", "task_id", task.ID, "error", err)
		return "", "agent error"
	}
	content := strings.TrimSpace(prddoc.StripCodeFence(res.Content))
	if content == "" {
		return "", "empty reply"
	}
	return content + "\n", ""
}
