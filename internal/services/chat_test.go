package services

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	"github.com/yungbote/prdsmith-backend/internal/data/repos/testutil"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
)

type historyAgent struct {
	mu        sync.Mutex
	histories [][]llm.Message
	prompts   []string
}

func (h *historyAgent) Run(_ context.Context, prompt, sessionID string, history ...llm.Message) (*llm.RunResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prompts = append(h.prompts, prompt)
	h.histories = append(h.histories, append([]llm.Message(nil), history...))
	return &llm.RunResult{Content: "reply to " + prompt, SessionID: sessionID}, nil
}

func (e testEnv) chat(t *testing.T, agent, digester llm.Agent, cfg ChatConfig) ChatService {
	return NewChatService(testutil.Logger(t), e.repos.Chat, e.files, agent, digester, e.folder(t, nil), cfg)
}

func TestChatSendKeepsHistoryWindow(t *testing.T) {
	e := newTestEnv(t)
	agent := &historyAgent{}
	svc := e.chat(t, agent, nil, ChatConfig{HistoryMessages: 2, MaxChatInputBytes: 12})
	ctx := context.Background()

	_, err := svc.Send(ctx, ChatInput{SessionID: "s1", Message: "   "})
	requireAPIError(t, err, http.StatusBadRequest, "message_required")

	first, err := svc.Send(ctx, ChatInput{SessionID: "s1", Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "s1", first.SessionID)
	require.Equal(t, "reply to hello", first.Content)
	require.Empty(t, agent.histories[0])

	_, err = svc.Send(ctx, ChatInput{SessionID: "s1", Message: "0123456789abcdef"})
	require.NoError(t, err)
	require.Equal(t, "456789abcdef", agent.prompts[1], "oversized messages keep their tail")
	require.Len(t, agent.histories[1], 2)
	require.Equal(t, "user", agent.histories[1][0].Role)
	require.Equal(t, "hello", agent.histories[1][0].Content)

	msgs, err := e.repos.Chat.RecentBySession(dbctx.With(ctx), "s1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
}

func TestChatUnavailableWithoutAgent(t *testing.T) {
	e := newTestEnv(t)
	svc := e.chat(t, nil, nil, ChatConfig{})
	_, err := svc.Send(context.Background(), ChatInput{Message: "hi"})
	requireAPIError(t, err, http.StatusServiceUnavailable, "chat_unavailable")
}

func TestChatImportSendsParts(t *testing.T) {
	e := newTestEnv(t)
	agent := &historyAgent{}
	svc := e.chat(t, agent, nil, ChatConfig{HistoryMessages: 6})
	doc := strings.Repeat("甲", 300) + "\n\n" + strings.Repeat("乙", 300)

	res, err := svc.Import(context.Background(), ChatImportInput{SessionID: "s1", Filename: "a.txt", Data: []byte(doc), ChunkSize: 300})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalChunks)
	require.Len(t, res.Replies, 2)
	require.True(t, strings.HasPrefix(agent.prompts[0], "这是导入文档的第 1/2 部分：\n"))
	require.True(t, strings.HasPrefix(agent.prompts[1], "这是导入文档的第 2/2 部分：\n"))

	_, err = svc.Import(context.Background(), ChatImportInput{SessionID: "s1", Filename: "a.txt", Data: []byte(doc), ChunkSize: 10})
	requireAPIError(t, err, http.StatusBadRequest, "chunk_size_too_small")
}

func TestDigestPendingFoldsChat(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	digester := &llm.Recorder{Agent: llm.Func(func(context.Context, string, string, ...llm.Message) (*llm.RunResult, error) {
		return &llm.RunResult{Content: "- 讨论了登录"}, nil
	})}
	svc := e.chat(t, &historyAgent{}, digester, ChatConfig{DigestWindow: time.Minute})

	_, err := svc.Send(ctx, ChatInput{SessionID: "s1", Message: "登录要支持短信"})
	require.NoError(t, err)

	n, err := svc.DigestPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, digester.Prompts()[0], "user: 登录要支持短信")

	sums, err := e.files.ListSummaries("s1")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	require.Equal(t, "chat", sums[0].Kind)

	rec, err := e.repos.Records.LatestBySession(dbctx.With(ctx), "s1")
	require.NoError(t, err)
	require.Equal(t, "running", rec.Status)
	require.Equal(t, 0, rec.FoldedThroughChunk)

	n, err = svc.DigestPending(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "nothing new after the cursor")
}
