package worker

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	"github.com/yungbote/prdsmith-backend/internal/data/repos/testutil"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	jobrt "github.com/yungbote/prdsmith-backend/internal/jobs/runtime"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type handlerFunc func(jc *jobrt.Context) error

func (handlerFunc) Type() string                  { return "test" }
func (f handlerFunc) Run(jc *jobrt.Context) error { return f(jc) }

func succeed(jc *jobrt.Context) error { return jc.Succeed(0) }

func TestScheduleDedupesInflight(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := prdrepo.NewTaskRepo(db, log)
	w := NewWorker(log, repo, handlerFunc(succeed), services.NewTaskNotifier(log, nil), Config{QueueSize: 1})

	if !w.Schedule(1) {
		t.Fatalf("first schedule should queue")
	}
	if w.Schedule(1) {
		t.Fatalf("duplicate schedule should be rejected")
	}
	if w.Schedule(2) {
		t.Fatalf("full queue should reject")
	}
	if w.Schedule(0) {
		t.Fatalf("invalid id should be rejected")
	}
}

func TestSweepResumesPendingTasks(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	repo := prdrepo.NewTaskRepo(db, log)

	queued := testutil.SeedTask(t, ctx, db, "s1", 1, 2, types.TaskQueued)
	running := testutil.SeedTask(t, ctx, db, "s2", 1, 1, types.TaskSummarizing)
	testutil.SeedTask(t, ctx, db, "s3", 1, 1, types.TaskDone)
	testutil.SeedTask(t, ctx, db, "s4", 1, 1, types.TaskFailed)

	var runs atomic.Int32
	h := handlerFunc(func(jc *jobrt.Context) error {
		runs.Add(1)
		return jc.Succeed(0)
	})
	w := NewWorker(log, repo, h, services.NewTaskNotifier(log, nil), Config{Concurrency: 2, SweepInterval: time.Hour})

	runCtx, cancel := context.WithCancel(ctx)
	w.Start(runCtx)
	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	w.Wait()

	if runs.Load() != 2 {
		t.Fatalf("runs: want=2 got=%d", runs.Load())
	}
	for _, id := range []int64{queued.ID, running.ID} {
		got, err := repo.GetByID(dbctx.With(ctx), id)
		if err != nil || got == nil || got.Status != types.TaskDone {
			t.Fatalf("task %d: got=%+v err=%v", id, got, err)
		}
	}
}

func TestProcessRecoversPanics(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	repo := prdrepo.NewTaskRepo(db, log)
	task := testutil.SeedTask(t, ctx, db, "s1", 1, 1, types.TaskQueued)

	h := handlerFunc(func(*jobrt.Context) error { panic("boom") })
	w := NewWorker(log, repo, h, services.NewTaskNotifier(log, nil), Config{})
	if err := w.Process(ctx, task.ID); err == nil {
		t.Fatalf("expected panic error")
	}
	got, _ := repo.GetByID(dbctx.With(ctx), task.ID)
	if got.Status != types.TaskFailed || !strings.Contains(got.Error, "boom") {
		t.Fatalf("task should be failed with panic text: %+v", got)
	}
}

func TestProcessSkipsDoneTasks(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()
	repo := prdrepo.NewTaskRepo(db, log)
	task := testutil.SeedTask(t, ctx, db, "s1", 1, 1, types.TaskDone)

	called := false
	h := handlerFunc(func(*jobrt.Context) error { called = true; return nil })
	w := NewWorker(log, repo, h, services.NewTaskNotifier(log, nil), Config{})
	if err := w.Process(ctx, task.ID); err != nil || called {
		t.Fatalf("done task should be skipped: err=%v called=%v", err, called)
	}
	if err := w.Process(ctx, 9999); err == nil {
		t.Fatalf("missing task should error")
	}
}

type countingDigester struct{ n atomic.Int32 }

func (c *countingDigester) DigestPending(context.Context) (int, error) {
	c.n.Add(1)
	return 1, nil
}

func TestDigestLoopTicks(t *testing.T) {
	d := &countingDigester{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewDigestLoop(testutil.Logger(t), d, 5*time.Millisecond).Run(ctx)
		close(done)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for d.n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
	if d.n.Load() < 2 {
		t.Fatalf("digest loop should tick repeatedly, got %d", d.n.Load())
	}

	NewDigestLoop(testutil.Logger(t), d, 0).Run(context.Background())
}
