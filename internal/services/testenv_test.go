package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	"github.com/yungbote/prdsmith-backend/internal/data/repos/testutil"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

type testEnv struct {
	db     *gorm.DB
	repos  prdrepo.Set
	files  *sessionfs.Store
	notify TaskNotifier
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	files, err := sessionfs.New(t.TempDir())
	require.NoError(t, err)
	return testEnv{
		db:     db,
		repos:  prdrepo.NewSet(db, log),
		files:  files,
		notify: NewTaskNotifier(log, nil),
	}
}

func (e testEnv) ingest(t *testing.T, sched TaskScheduler) IngestService {
	return NewIngestService(e.db, testutil.Logger(t), e.repos.Tasks, e.files, sched, e.notify, IngestConfig{})
}

func (e testEnv) folder(t *testing.T, agent llm.Agent) PRDFolder {
	return NewPRDFolder(testutil.Logger(t), e.repos.Records, e.repos.Tasks, e.files, agent, e.notify, FoldConfig{})
}

// summarizedTask records a finished task covering the given chunks and
// writes their summaries.
func (e testEnv) summarizedTask(t *testing.T, sessionID string, bodies map[int]string) int64 {
	t.Helper()
	start, end := 0, 0
	for idx, body := range bodies {
		if start == 0 || idx < start {
			start = idx
		}
		if idx > end {
			end = idx
		}
		_, err := e.files.WriteSummary(sessionID, idx, body)
		require.NoError(t, err)
	}
	ctx := context.Background()
	task := testutil.SeedTask(t, ctx, e.db, sessionID, start, end, "done")
	next := end + 1
	require.NoError(t, e.repos.Tasks.UpdateProgress(dbctx.With(ctx), task.ID, prdrepo.TaskProgress{NextChunkIndex: &next}))
	return task.ID
}

// prdAgent answers PRD prompts with doc and everything else with "- 要点".
func prdAgent(doc string) *llm.Recorder {
	return &llm.Recorder{Agent: llm.Func(func(_ context.Context, prompt, _ string, _ ...llm.Message) (*llm.RunResult, error) {
		if strings.Contains(prompt, "新增分段总结") {
			return &llm.RunResult{Content: doc}, nil
		}
		return &llm.RunResult{Content: "- 要点"}, nil
	})}
}

type recordingScheduler struct{ ids []int64 }

func (r *recordingScheduler) Schedule(id int64) bool {
	r.ids = append(r.ids, id)
	return true
}
