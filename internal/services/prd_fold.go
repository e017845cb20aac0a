package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/modules/prddoc"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

const (
	FoldTriggerWorker     = "worker"
	FoldTriggerFinalize   = "finalize"
	FoldTriggerChatDigest = "chat_digest"
)

// PRDFolder merges new summaries into a session's cumulative PRD and keeps the
// session's PRD record in step with the file.
type PRDFolder interface {
	Fold(ctx context.Context, in FoldInput) (*FoldResult, error)
	FoldPending(ctx context.Context, in PendingFoldInput) (*FoldResult, error)
}

// PendingFoldInput selects a session whose unfolded task summaries should be
// merged. TaskID only labels logs and events.
type PendingFoldInput struct {
	SessionID string
	TaskID    int64
	Trigger   string
}

type FoldInput struct {
	SessionID          string
	TaskID             int64
	Summaries          []prddoc.Summary
	FoldedThroughChunk int
	Status             string
	Trigger            string
}

// FoldResult describes one fold. FoldedChunks and Unchanged are only set by
// FoldPending.
type FoldResult struct {
	Record       *types.PrdRecord `json:"record"`
	Content      string           `json:"content"`
	Fallback     bool             `json:"fallback"`
	Created      bool             `json:"created"`
	FoldedChunks int              `json:"folded_chunks"`
	Unchanged    bool             `json:"unchanged"`
}

type FoldConfig struct {
	MaxInputBytes int
	AgentTimeout  time.Duration
}

type prdFolder struct {
	log      *logger.Logger
	records  prdrepo.PrdRecordRepo
	tasks    prdrepo.TaskRepo
	files    *sessionfs.Store
	agent    llm.Agent
	notifier TaskNotifier
	cfg      FoldConfig
	locks    *sessionLocks
	now      func() time.Time
}

// NewPRDFolder builds the fold routine. A nil agent always takes the
// deterministic fallback path.
func NewPRDFolder(
	baseLog *logger.Logger,
	records prdrepo.PrdRecordRepo,
	tasks prdrepo.TaskRepo,
	files *sessionfs.Store,
	agent llm.Agent,
	notifier TaskNotifier,
	cfg FoldConfig,
) PRDFolder {
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = prddoc.DefaultMaxInputBytes
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 20 * time.Minute
	}
	return &prdFolder{
		log:      baseLog.With("service", "PRDFolder"),
		records:  records,
		tasks:    tasks,
		files:    files,
		agent:    agent,
		notifier: notifier,
		cfg:      cfg,
		locks:    newSessionLocks(),
		now:      time.Now,
	}
}

func (f *prdFolder) Fold(ctx context.Context, in FoldInput) (*FoldResult, error) {
	if err := sessionfs.ValidateSegment(in.SessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	joined := prddoc.JoinSummaries(in.Summaries)
	if strings.TrimSpace(joined) == "" {
		return nil, apierr.BadRequest("no_summaries", fmt.Errorf("nothing to fold for session %s", in.SessionID))
	}
	status := in.Status
	if status == "" {
		status = types.RecordDone
	}

	unlock := f.locks.Lock(in.SessionID)
	defer unlock()
	return f.foldLocked(ctx, in, joined, status)
}

// FoldPending folds the summaries of every task chunk not yet in the PRD, in
// chunk order, and advances each task's watermark. With nothing pending it
// returns the current record and document with Unchanged set.
func (f *prdFolder) FoldPending(ctx context.Context, in PendingFoldInput) (*FoldResult, error) {
	if err := sessionfs.ValidateSegment(in.SessionID); err != nil {
		return nil, apierr.BadRequest("invalid_session_id", err)
	}
	unlock := f.locks.Lock(in.SessionID)
	defer unlock()

	dbc := dbctx.With(ctx)
	tasks, err := f.tasks.ListUnfolded(dbc, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list unfolded tasks: %w", err)
	}

	type mark struct {
		taskID  int64
		through int
	}
	var items []prddoc.Summary
	var marks []mark
	through := 0
	for _, t := range tasks {
		from, to, ok := t.UnfoldedRange()
		if !ok {
			continue
		}
		latest, err := f.files.LatestSummaries(in.SessionID, from, to)
		if err != nil {
			return nil, fmt.Errorf("list summaries of task %d: %w", t.ID, err)
		}
		for idx := from; idx <= to; idx++ {
			sf, ok := latest[idx]
			if !ok {
				continue
			}
			body, err := f.files.ReadSummary(sf)
			if err != nil {
				return nil, fmt.Errorf("read summary %d: %w", idx, err)
			}
			items = append(items, prddoc.Summary{ChunkIndex: idx, Content: body})
		}
		marks = append(marks, mark{taskID: t.ID, through: to})
		through = max(through, to)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].ChunkIndex < items[j].ChunkIndex })

	joined := prddoc.JoinSummaries(items)
	if strings.TrimSpace(joined) == "" {
		rec, err := f.records.LatestBySession(dbc, in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("latest prd record: %w", err)
		}
		current, _, err := f.files.ReadPRD(in.SessionID)
		if err != nil {
			return nil, fmt.Errorf("read prd: %w", err)
		}
		return &FoldResult{Record: rec, Content: current, Unchanged: true}, nil
	}

	res, err := f.foldLocked(ctx, FoldInput{
		SessionID:          in.SessionID,
		TaskID:             in.TaskID,
		Summaries:          items,
		FoldedThroughChunk: through,
		Status:             types.RecordDone,
		Trigger:            in.Trigger,
	}, joined, types.RecordDone)
	if err != nil {
		return nil, err
	}
	for _, m := range marks {
		if err := f.tasks.MarkFolded(dbc, m.taskID, m.through); err != nil {
			return nil, fmt.Errorf("mark task %d folded: %w", m.taskID, err)
		}
	}
	res.FoldedChunks = len(items)
	return res, nil
}

func (f *prdFolder) foldLocked(ctx context.Context, in FoldInput, joined, status string) (*FoldResult, error) {
	start := f.now()
	previous, _, err := f.files.ReadPRD(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("read previous prd: %w", err)
	}
	prompt, err := prddoc.BuildPRDPrompt(previous, joined, f.cfg.MaxInputBytes)
	if err != nil {
		return nil, err
	}

	doc, fallback := f.generate(ctx, in, prompt)
	if fallback {
		doc = prddoc.FallbackPRD(in.SessionID, previous, in.Summaries, f.now())
	}

	rel, err := f.files.WritePRD(in.SessionID, doc)
	if err != nil {
		return nil, fmt.Errorf("write prd: %w", err)
	}
	rec, created, err := f.records.UpsertForSession(dbctx.With(ctx), prdrepo.PrdRecordUpsert{
		SessionID:          in.SessionID,
		FilePath:           rel,
		Title:              prddoc.DeriveTitle(doc, in.SessionID),
		Summary:            prddoc.DeriveSummary(doc),
		Status:             status,
		FoldedThroughChunk: in.FoldedThroughChunk,
		Now:                f.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert prd record: %w", err)
	}
	if err := f.files.WriteRecordMarker(in.SessionID, rec.ID); err != nil {
		f.log.Warn("record marker write failed", "session_id", in.SessionID, "record_id", rec.ID, "error", err)
	}

	observability.Current().ObserveFold(in.Trigger, fallback, f.now().Sub(start))
	f.log.Info("prd folded",
		"session_id", in.SessionID,
		"task_id", in.TaskID,
		"trigger", in.Trigger,
		"record_id", rec.ID,
		"version", rec.Version,
		"summaries", len(in.Summaries),
		"fallback", fallback,
	)
	if f.notifier != nil {
		f.notifier.Notify(ctx, types.TaskEvent{
			Event:     types.EventPRDUpdated,
			TaskID:    in.TaskID,
			SessionID: in.SessionID,
			RecordID:  rec.ID,
		})
	}
	return &FoldResult{Record: rec, Content: doc, Fallback: fallback, Created: created}, nil
}

// generate returns the model's document and whether the caller must fall back.
func (f *prdFolder) generate(ctx context.Context, in FoldInput, prompt string) (string, bool) {
	if f.agent == nil {
		return "", true
	}
	callCtx, cancel := context.WithTimeout(ctx, f.cfg.AgentTimeout)
	defer cancel()
	res, err := f.agent.Run(callCtx, prompt, in.SessionID)
	if err != nil {
		lvl := f.log.Warn
		if errors.Is(err, context.Canceled) {
			lvl = f.log.Info
		}
		lvl("prd agent failed; using fallback", "session_id", in.SessionID, "task_id", in.TaskID, "error", err)
		return "", true
	}
	doc := prddoc.StripCodeFence(res.Content)
	if !prddoc.LooksLikePRD(doc) {
		f.log.Warn("prd agent reply rejected; using fallback", "session_id", in.SessionID, "task_id", in.TaskID, "reply_chars", len([]rune(doc)))
		return "", true
	}
	return doc + "\n", false
}
