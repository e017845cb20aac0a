package services

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/prdsmith-backend/internal/data/repos/testutil"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
)

func requireAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok, "want *apierr.Error, got %T: %v", err, err)
	require.Equal(t, status, ae.Status)
	require.Equal(t, code, ae.Code)
}

func TestUploadAllocatesSequentialChunks(t *testing.T) {
	e := newTestEnv(t)
	sched := &recordingScheduler{}
	svc := e.ingest(t, sched)
	ctx := context.Background()

	doc := strings.Repeat("甲", 2000) + "\n\n" + strings.Repeat("乙", 2000) + "\n\n" + strings.Repeat("丙", 1000)
	first, err := svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "brief.txt", Data: []byte(doc), ChunkSize: 2000})
	require.NoError(t, err)
	require.Equal(t, 3, first.TotalChunks)
	require.Equal(t, 1, first.StartChunkIndex)
	require.Equal(t, 3, first.EndChunkIndex)
	require.Equal(t, "queued", first.Status)

	second, err := svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "brief.txt", Data: []byte("再来一段需求。"), ChunkSize: 2000})
	require.NoError(t, err)
	require.Equal(t, first.EndChunkIndex+1, second.StartChunkIndex)
	require.Equal(t, "brief_2.txt", second.Filename)
	require.Equal(t, []int64{first.TaskID, second.TaskID}, sched.ids)

	for idx := 1; idx <= 4; idx++ {
		_, err := e.files.ReadChunk("s1", idx)
		require.NoError(t, err, "chunk %d", idx)
	}
	task, err := e.repos.Tasks.GetByID(dbctx.With(ctx), second.TaskID)
	require.NoError(t, err)
	require.Equal(t, "s1/original/brief_2.txt", task.SourceFilePath)
}

func TestUploadRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)
	svc := NewIngestService(e.db, testutil.Logger(t), e.repos.Tasks, e.files, nil, nil, IngestConfig{MaxUploadBytes: 64})
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadInput{SessionID: "../etc", Filename: "a.txt", Data: []byte("hello world")})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_session_id")

	_, err = svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "../../a.txt", Data: []byte("hello world")})
	requireAPIError(t, err, http.StatusBadRequest, "invalid_filename")

	_, err = svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.txt", Data: []byte("hello"), ChunkSize: 100})
	requireAPIError(t, err, http.StatusBadRequest, "chunk_size_too_small")

	_, err = svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.txt", Data: []byte("   ")})
	requireAPIError(t, err, http.StatusBadRequest, "empty_text")

	_, err = svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.txt", Data: nil})
	requireAPIError(t, err, http.StatusBadRequest, "empty_file")

	_, err = svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.exe", ContentType: "application/x-msdownload", Data: []byte("MZ")})
	requireAPIError(t, err, http.StatusBadRequest, "unsupported_file_type")

	_, err = svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "a.txt", Data: []byte(strings.Repeat("x", 65))})
	requireAPIError(t, err, http.StatusBadRequest, "file_too_large")

	dir, err := e.files.SessionDir("s1")
	require.NoError(t, err)
	entries, _ := os.ReadDir(dir + "/chunks")
	require.Empty(t, entries, "rejected uploads must not leave chunk files")
}

func TestUploadStripsDirectories(t *testing.T) {
	e := newTestEnv(t)
	res, err := e.ingest(t, nil).Upload(context.Background(), UploadInput{
		Filename:  `C:\docs\brief.md`,
		Data:      []byte("# Brief\n\n内容"),
		ChunkSize: 1000,
	})
	require.NoError(t, err)
	require.Equal(t, "brief.md", res.Filename)
	require.NotEmpty(t, res.SessionID, "a session id is generated when none is given")
}

func TestAppendVoice(t *testing.T) {
	e := newTestEnv(t)
	res, err := e.ingest(t, nil).AppendVoice(context.Background(), VoiceInput{SessionID: "s1", Text: strings.Repeat("语音内容。", 150)})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(res.Filename, "voice_"))
	require.Equal(t, 2, res.TotalChunks, "voice defaults to 500 character chunks")
}

func TestConcurrentUploadsGetDisjointRanges(t *testing.T) {
	e := newTestEnv(t)
	svc := e.ingest(t, nil)
	ctx := context.Background()

	const workers = 16
	results := make([]*IngestResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Uneven chunk counts so a shared start would overlap.
			body := strings.Repeat(strings.Repeat("段", 100)+"\n\n", i%3+1)
			results[i], errs[i] = svc.Upload(ctx, UploadInput{
				SessionID: "s1",
				Filename:  "brief.txt",
				Data:      []byte(body),
				ChunkSize: 100,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "upload %d", i)
	}
	sort.Slice(results, func(a, b int) bool { return results[a].StartChunkIndex < results[b].StartChunkIndex })
	next := 1
	names := map[string]bool{}
	for _, r := range results {
		require.Equal(t, next, r.StartChunkIndex, "ranges must be contiguous")
		require.Equal(t, r.StartChunkIndex+r.TotalChunks-1, r.EndChunkIndex)
		next = r.EndChunkIndex + 1
		require.False(t, names[r.Filename], "original name %s reused", r.Filename)
		names[r.Filename] = true
	}

	maxIdx, err := e.files.MaxChunkIndex("s1")
	require.NoError(t, err)
	require.Equal(t, next-1, maxIdx)
	tasks, err := e.repos.Tasks.ListBySession(dbctx.With(ctx), "s1")
	require.NoError(t, err)
	require.Len(t, tasks, workers)
}

func TestFailedUploadRemovesItsFiles(t *testing.T) {
	e := newTestEnv(t)
	svc := e.ingest(t, nil)
	ctx := context.Background()
	require.NoError(t, e.db.Exec("DROP TABLE prd_task").Error)

	_, err := svc.Upload(ctx, UploadInput{SessionID: "s1", Filename: "brief.txt", Data: []byte("需要登录。"), ChunkSize: 1000})
	requireAPIError(t, err, http.StatusInternalServerError, "ingest_failed")

	orig, err := e.files.OriginalPath("s1", "brief.txt")
	require.NoError(t, err)
	_, statErr := os.Stat(orig)
	require.True(t, os.IsNotExist(statErr), "original should be removed, stat err: %v", statErr)
	maxIdx, err := e.files.MaxChunkIndex("s1")
	require.NoError(t, err)
	require.Zero(t, maxIdx, "no chunk files may remain")
}
