package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	"github.com/yungbote/prdsmith-backend/internal/data/repos/testutil"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/http/response"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type handlerEnv struct {
	router *gin.Engine
	files  *sessionfs.Store
	tasks  prdrepo.TaskRepo
	ingest services.IngestService
}

// newHandlerEnv mounts the handlers on a bare engine. Tasks are never
// scheduled, so they stay queued.
func newHandlerEnv(t *testing.T, chatAgent llm.Agent) handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	files, err := sessionfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("sessionfs: %v", err)
	}
	repos := prdrepo.NewSet(db, log)
	notify := services.NewTaskNotifier(log, nil)
	folder := services.NewPRDFolder(log, repos.Records, repos.Tasks, files, nil, notify, services.FoldConfig{})
	ingest := services.NewIngestService(db, log, repos.Tasks, files, services.NopScheduler(), notify, services.IngestConfig{MaxUploadBytes: 1 << 20})
	docs := services.NewDocsService(log, repos.Tasks, files, services.NopScheduler())
	prd := services.NewPRDService(log, repos.Records, files, folder)
	chat := services.NewChatService(log, repos.Chat, files, chatAgent, nil, folder, services.ChatConfig{HistoryMessages: 6})

	r := gin.New()
	docsH := NewDocsHandler(log, ingest, docs, 1<<20)
	voiceH := NewVoiceHandler(log, ingest)
	prdH := NewPRDHandler(log, prd)
	chatH := NewChatHandler(log, chat, 1<<20)
	r.GET("/healthcheck", NewHealthHandler(nil).HealthCheck)
	r.POST("/api/docs/upload", docsH.Upload)
	r.GET("/api/docs/status", docsH.Status)
	r.GET("/api/docs/summaries", docsH.Summaries)
	r.GET("/api/docs/cumulative", docsH.Cumulative)
	r.GET("/api/docs/download/original", docsH.DownloadOriginal)
	r.GET("/api/docs/download/cumulative", docsH.DownloadCumulative)
	r.GET("/api/docs/tasks", docsH.ListTasks)
	r.POST("/api/voice/append", voiceH.Append)
	r.GET("/api/prd/list", prdH.List)
	r.GET("/api/prd/latest", prdH.Latest)
	r.GET("/api/prd/download/:id", prdH.Download)
	r.POST("/api/prd/finalize", prdH.Finalize)
	r.POST("/api/chat", chatH.Send)
	r.POST("/api/chat/import", chatH.Import)
	r.GET("/ws/asr", NewASRHandler(log, nil, ingest, nil).Stream)
	return handlerEnv{router: r, files: files, tasks: repos.Tasks, ingest: ingest}
}

func (e handlerEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e handlerEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e handlerEnv) postJSON(path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return e.do(req)
}

func multipartUpload(t *testing.T, path, filename, content string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("field %s: %v", k, err)
		}
	}
	if filename != "" {
		fw, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		_, _ = fw.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status: want=%d got=%d body=%s", status, rec.Code, rec.Body.String())
	}
	env := decode[response.ErrorEnvelope](t, rec)
	if env.Error.Code != code {
		t.Fatalf("code: want=%q got=%q", code, env.Error.Code)
	}
	if env.Error.Message == "" {
		t.Fatalf("error message should not be empty")
	}
}

func TestHealthCheck(t *testing.T) {
	env := newHandlerEnv(t, nil)
	rec := env.get("/healthcheck")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: got=%d %q", rec.Code, rec.Body.String())
	}
}

func TestUploadStatusAndDownload(t *testing.T) {
	env := newHandlerEnv(t, nil)
	text := strings.Repeat("a", 5000)

	rec := env.do(multipartUpload(t, "/api/docs/upload", "brief.txt", text, map[string]string{
		"session_id": "s1",
		"chunk_size": "2000",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	up := decode[services.IngestResult](t, rec)
	if up.TotalChunks != 3 || up.StartChunkIndex != 1 || up.EndChunkIndex != 3 || up.Status != "queued" {
		t.Fatalf("upload result: %+v", up)
	}

	st := decode[services.TaskStatus](t, env.get("/api/docs/status?task_id="+itoa(up.TaskID)))
	if st.TotalChunks != 3 || st.CompletedChunks != 0 || st.NextChunkIndex != 1 {
		t.Fatalf("status: %+v", st)
	}
	bySession := decode[services.TaskStatus](t, env.get("/api/docs/status?session_id=s1"))
	if bySession.TaskID != up.TaskID {
		t.Fatalf("status by session: want=%d got=%d", up.TaskID, bySession.TaskID)
	}

	dl := env.get("/api/docs/download/original?session_id=s1&filename=brief.txt")
	if dl.Code != http.StatusOK || dl.Body.String() != text {
		t.Fatalf("download original: code=%d len=%d", dl.Code, dl.Body.Len())
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "brief.txt") {
		t.Fatalf("content disposition: %q", cd)
	}

	tasks := decode[struct {
		Tasks []services.TaskStatus `json:"tasks"`
	}](t, env.get("/api/docs/tasks?session_id=s1"))
	if len(tasks.Tasks) != 1 {
		t.Fatalf("task list: want=1 got=%d", len(tasks.Tasks))
	}
}

func TestUploadValidation(t *testing.T) {
	env := newHandlerEnv(t, nil)

	expectError(t, env.do(multipartUpload(t, "/api/docs/upload", "", "", map[string]string{"session_id": "s1"})),
		http.StatusBadRequest, "file_required")
	expectError(t, env.do(multipartUpload(t, "/api/docs/upload", "a.txt", "hello", map[string]string{"chunk_size": "big"})),
		http.StatusBadRequest, "invalid_chunk_size")
	expectError(t, env.do(multipartUpload(t, "/api/docs/upload", "a.txt", "hello", map[string]string{"chunk_size": "50"})),
		http.StatusBadRequest, "chunk_size_too_small")
	expectError(t, env.do(multipartUpload(t, "/api/docs/upload", "a.txt", "hello", map[string]string{"session_id": "../etc"})),
		http.StatusBadRequest, "invalid_session_id")

	expectError(t, env.get("/api/docs/download/original?session_id=s1&filename=../../etc/passwd"),
		http.StatusBadRequest, "invalid_filename")
	expectError(t, env.get("/api/docs/status"), http.StatusBadRequest, "missing_task_or_session")
	expectError(t, env.get("/api/docs/status?task_id=x"), http.StatusBadRequest, "invalid_task_id")
	expectError(t, env.get("/api/docs/status?task_id=999"), http.StatusNotFound, "task_not_found")
}

func TestVoiceAppendJSONAndForm(t *testing.T) {
	env := newHandlerEnv(t, nil)

	rec := env.postJSON("/api/voice/append", map[string]any{"session_id": "v1", "text": strings.Repeat("语", 600)})
	if rec.Code != http.StatusOK {
		t.Fatalf("json append: got=%d body=%s", rec.Code, rec.Body.String())
	}
	first := decode[services.IngestResult](t, rec)
	if first.TotalChunks != 2 || !strings.HasPrefix(first.Filename, "voice_") {
		t.Fatalf("json append result: %+v", first)
	}

	form := strings.NewReader("session_id=v1&text=" + strings.Repeat("b", 300) + "&chunk_size=200")
	req := httptest.NewRequest(http.MethodPost, "/api/voice/append", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = env.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("form append: got=%d body=%s", rec.Code, rec.Body.String())
	}
	second := decode[services.IngestResult](t, rec)
	if second.StartChunkIndex != first.EndChunkIndex+1 {
		t.Fatalf("second append start: want=%d got=%d", first.EndChunkIndex+1, second.StartChunkIndex)
	}

	expectError(t, env.postJSON("/api/voice/append", map[string]any{"session_id": "v1", "text": "  "}),
		http.StatusBadRequest, "empty_text")
}

func TestPRDEndpointsWithoutRecord(t *testing.T) {
	env := newHandlerEnv(t, nil)

	rec := env.get("/api/prd/latest?session_id=none")
	if rec.Code != http.StatusOK {
		t.Fatalf("latest: got=%d", rec.Code)
	}
	latest := decode[map[string]any](t, rec)
	if latest["record"] != nil || latest["content"] != nil {
		t.Fatalf("latest without record should be null: %v", latest)
	}

	list := env.get("/api/prd/list")
	if list.Code != http.StatusOK || strings.TrimSpace(list.Body.String()) != "[]" {
		t.Fatalf("list: got=%d %s", list.Code, list.Body.String())
	}

	expectError(t, env.get("/api/prd/download/42"), http.StatusNotFound, "prd_not_found")
	expectError(t, env.get("/api/prd/download/abc"), http.StatusBadRequest, "invalid_id")
	expectError(t, env.postJSON("/api/prd/finalize", map[string]string{"session_id": "none"}),
		http.StatusBadRequest, "no_summaries")
	expectError(t, env.get("/api/docs/download/cumulative?session_id=none"), http.StatusNotFound, "file_not_found")
}

func TestFinalizeFoldsSummaries(t *testing.T) {
	env := newHandlerEnv(t, nil)
	ctx := context.Background()
	voice, err := env.ingest.AppendVoice(ctx, services.VoiceInput{SessionID: "s9", Text: "需要登录功能。"})
	if err != nil {
		t.Fatalf("append voice: %v", err)
	}
	if _, err := env.files.WriteSummary("s9", voice.StartChunkIndex, "- 登录需求"); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	next := voice.EndChunkIndex + 1
	if err := env.tasks.UpdateProgress(dbctx.With(ctx), voice.TaskID, prdrepo.TaskProgress{Status: types.TaskDone, NextChunkIndex: &next}); err != nil {
		t.Fatalf("progress: %v", err)
	}

	rec := env.postJSON("/api/prd/finalize", map[string]string{"session_id": "s9"})
	if rec.Code != http.StatusOK {
		t.Fatalf("finalize: got=%d body=%s", rec.Code, rec.Body.String())
	}
	res := decode[services.FinalizeResult](t, rec)
	if res.Record == nil || res.Record.Version != 1 || !strings.Contains(res.Content, "登录需求") {
		t.Fatalf("finalize result: %+v", res)
	}

	cum := decode[services.CumulativeDoc](t, env.get("/api/docs/cumulative?session_id=s9"))
	if cum.Content != res.Content {
		t.Fatalf("cumulative should match the folded prd")
	}
	dl := env.get("/api/prd/download/" + itoa(res.Record.ID))
	if dl.Code != http.StatusOK || dl.Body.String() != res.Content {
		t.Fatalf("prd download: got=%d", dl.Code)
	}
	sums := decode[services.SummaryList](t, env.get("/api/docs/summaries?session_id=s9"))
	if len(sums.Items) != 1 || sums.Items[0].ChunkIndex == nil || *sums.Items[0].ChunkIndex != 1 {
		t.Fatalf("summaries: %+v", sums.Items)
	}
}

func TestChatEndpoints(t *testing.T) {
	env := newHandlerEnv(t, nil)
	expectError(t, env.postJSON("/api/chat", map[string]string{"message": "hi"}),
		http.StatusServiceUnavailable, "chat_unavailable")

	agent := llm.Func(func(_ context.Context, prompt, _ string, _ ...llm.Message) (*llm.RunResult, error) {
		return &llm.RunResult{Content: "echo: " + prompt}, nil
	})
	env = newHandlerEnv(t, agent)
	expectError(t, env.postJSON("/api/chat", map[string]string{"message": "   "}),
		http.StatusBadRequest, "message_required")

	rec := env.postJSON("/api/chat", map[string]string{"session_id": "c1", "message": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: got=%d body=%s", rec.Code, rec.Body.String())
	}
	reply := decode[services.ChatReply](t, rec)
	if reply.SessionID != "c1" || reply.Content != "echo: hello" {
		t.Fatalf("chat reply: %+v", reply)
	}

	rec = env.do(multipartUpload(t, "/api/chat/import", "notes.md", strings.Repeat("x", 450), map[string]string{
		"session_id": "c1",
		"chunk_size": "200",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("import: got=%d body=%s", rec.Code, rec.Body.String())
	}
	imp := decode[services.ChatImportResult](t, rec)
	if imp.TotalChunks != 3 || len(imp.Replies) != 3 {
		t.Fatalf("import result: %+v", imp)
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
