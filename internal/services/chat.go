package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	prdrepo "github.com/yungbote/prdsmith-backend/internal/data/repos/prd"
	types "github.com/yungbote/prdsmith-backend/internal/domain"
	"github.com/yungbote/prdsmith-backend/internal/ingestion/extractor"
	"github.com/yungbote/prdsmith-backend/internal/modules/prddoc"
	"github.com/yungbote/prdsmith-backend/internal/platform/apierr"
	"github.com/yungbote/prdsmith-backend/internal/platform/dbctx"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
)

const digestBatchLimit = 500

type ChatService interface {
	Send(ctx context.Context, in ChatInput) (*ChatReply, error)
	Import(ctx context.Context, in ChatImportInput) (*ChatImportResult, error)
	DigestPending(ctx context.Context) (int, error)
}

type ChatConfig struct {
	MaxChatInputBytes int
	HistoryMessages   int
	DefaultChunkSize  int
	MinChunkSize      int
	MaxUploadBytes    int64
	MaxInputBytes     int
	DigestWindow      time.Duration
	AgentTimeout      time.Duration
}

type ChatInput struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type ChatReply struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

type ChatImportInput struct {
	SessionID   string
	Filename    string
	ContentType string
	Data        []byte
	ChunkSize   int
}

type ChatImportResult struct {
	SessionID   string   `json:"session_id"`
	TotalChunks int      `json:"total_chunks"`
	Chunks      []string `json:"chunks"`
	Replies     []string `json:"replies"`
}

type chatService struct {
	log    *logger.Logger
	chat   prdrepo.ChatMessageRepo
	files  *sessionfs.Store
	agent  llm.Agent
	digest llm.Agent
	folder PRDFolder
	cfg    ChatConfig
	now    func() time.Time
}

// NewChatService wires the chat endpoint. agent answers users; digester
// summarizes chat windows for the PRD. Either may be nil.
func NewChatService(
	baseLog *logger.Logger,
	chat prdrepo.ChatMessageRepo,
	files *sessionfs.Store,
	agent llm.Agent,
	digester llm.Agent,
	folder PRDFolder,
	cfg ChatConfig,
) ChatService {
	if cfg.MaxChatInputBytes <= 0 {
		cfg.MaxChatInputBytes = 100000
	}
	if cfg.HistoryMessages < 0 {
		cfg.HistoryMessages = 0
	}
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = 1000
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = 200
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = prddoc.DefaultMaxInputBytes
	}
	if cfg.DigestWindow <= 0 {
		cfg.DigestWindow = 5 * time.Minute
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 20 * time.Minute
	}
	return &chatService{
		log:    baseLog.With("service", "ChatService"),
		chat:   chat,
		files:  files,
		agent:  agent,
		digest: digester,
		folder: folder,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (s *chatService) Send(ctx context.Context, in ChatInput) (*ChatReply, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return nil, apierr.BadRequest("message_required", errors.New("message is required"))
	}
	if len(msg) > s.cfg.MaxChatInputBytes {
		msg = prddoc.TrimToUTF8Bytes(msg, s.cfg.MaxChatInputBytes, true)
	}
	if s.agent == nil {
		return nil, apierr.Unavailable("chat_unavailable", errors.New("chat agent is not configured"))
	}
	sessionID, err := chatSession(in.SessionID)
	if err != nil {
		return nil, err
	}
	content, err := s.exchange(ctx, sessionID, msg)
	if err != nil {
		return nil, err
	}
	return &ChatReply{SessionID: sessionID, Content: content, CreatedAt: s.now().Unix()}, nil
}

// Import replays a document into the chat, one chunk per turn.
func (s *chatService) Import(ctx context.Context, in ChatImportInput) (*ChatImportResult, error) {
	if s.agent == nil {
		return nil, apierr.Unavailable("chat_unavailable", errors.New("chat agent is not configured"))
	}
	chunkSize := in.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.cfg.DefaultChunkSize
	}
	if chunkSize < s.cfg.MinChunkSize {
		return nil, apierr.BadRequest("chunk_size_too_small",
			fmt.Errorf("chunk_size must be at least %d, got %d", s.cfg.MinChunkSize, chunkSize))
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(in.Data)) > s.cfg.MaxUploadBytes {
		return nil, apierr.BadRequest("file_too_large",
			fmt.Errorf("upload is %d bytes, limit is %d", len(in.Data), s.cfg.MaxUploadBytes))
	}
	name, err := uploadFilename(in.Filename)
	if err != nil {
		return nil, apierr.BadRequest("invalid_filename", err)
	}
	text, err := extractor.ExtractText(name, in.ContentType, in.Data)
	if err != nil {
		return nil, extractionError(err)
	}
	if text == "" {
		return nil, apierr.BadRequest("empty_text", errors.New("file has no text"))
	}
	chunks := extractor.Chunk(text, chunkSize)
	if len(chunks) == 0 {
		return nil, apierr.BadRequest("no_chunks", errors.New("text produced no chunks"))
	}
	sessionID, err := chatSession(in.SessionID)
	if err != nil {
		return nil, err
	}

	out := &ChatImportResult{SessionID: sessionID, TotalChunks: len(chunks), Chunks: chunks, Replies: make([]string, 0, len(chunks))}
	for i, chunk := range chunks {
		prompt := fmt.Sprintf("这是导入文档的第 %d/%d 部分：\n%s", i+1, len(chunks), chunk)
		if len(prompt) > s.cfg.MaxChatInputBytes {
			prompt = prddoc.TrimToUTF8Bytes(prompt, s.cfg.MaxChatInputBytes, true)
			if strings.TrimSpace(prompt) == "" {
				return nil, apierr.BadRequest("import_too_long", errors.New("chunk does not fit the chat input budget"))
			}
		}
		reply, err := s.exchange(ctx, sessionID, prompt)
		if err != nil {
			return nil, err
		}
		out.Replies = append(out.Replies, reply)
	}
	s.log.Info("document imported into chat", "session_id", sessionID, "filename", name, "chunks", len(chunks))
	return out, nil
}

// exchange sends one user turn with recent history and persists both sides.
func (s *chatService) exchange(ctx context.Context, sessionID, prompt string) (string, error) {
	dbc := dbctx.With(ctx)
	var history []llm.Message
	if s.cfg.HistoryMessages > 0 {
		recent, err := s.chat.RecentBySession(dbc, sessionID, s.cfg.HistoryMessages)
		if err != nil {
			return "", apierr.Internal("chat_history_failed", err)
		}
		history = make([]llm.Message, 0, len(recent))
		for _, m := range recent {
			history = append(history, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	defer cancel()
	asked := s.now()
	res, err := s.agent.Run(callCtx, prompt, sessionID, history...)
	if err != nil {
		s.log.Warn("chat agent failed", "session_id", sessionID, "error", err)
		return "", apierr.Internal("chat_agent_failed", err)
	}

	if err := s.chat.Create(dbc,
		&types.ChatMessage{SessionID: sessionID, Role: types.RoleUser, Content: prompt, CreatedAt: asked},
		&types.ChatMessage{SessionID: sessionID, Role: types.RoleAssistant, Content: res.Content, CreatedAt: s.now()},
	); err != nil {
		return "", apierr.Internal("chat_persist_failed", err)
	}
	return res.Content, nil
}

// DigestPending summarizes new chat in every session that has some and folds
// each digest into that session's PRD. It returns the number of sessions
// digested.
func (s *chatService) DigestPending(ctx context.Context) (int, error) {
	if s.digest == nil || s.folder == nil {
		return 0, nil
	}
	dbc := dbctx.With(ctx)
	pending, err := s.chat.PendingDigests(dbc)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		ok, err := s.digestSession(ctx, p.SessionID)
		if err != nil {
			s.log.Warn("chat digest failed", "session_id", p.SessionID, "error", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *chatService) digestSession(ctx context.Context, sessionID string) (bool, error) {
	if err := sessionfs.ValidateSegment(sessionID); err != nil {
		return false, err
	}
	dbc := dbctx.With(ctx)
	after, err := s.chat.GetDigestCursor(dbc, sessionID)
	if err != nil {
		return false, err
	}
	msgs, err := s.chat.ListAfter(dbc, sessionID, after, digestBatchLimit)
	if err != nil {
		return false, err
	}
	if len(msgs) == 0 {
		return false, nil
	}
	last := msgs[len(msgs)-1].ID

	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role+": "+strings.TrimSpace(m.Content))
	}
	prompt := prddoc.BuildChatDigestPrompt(strings.Join(lines, "\n"), s.cfg.DigestWindow, s.cfg.MaxInputBytes)
	if prompt == "" {
		return false, s.chat.SetDigestCursor(dbc, sessionID, last)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	defer cancel()
	res, err := s.digest.Run(callCtx, prompt, sessionID)
	if err != nil {
		return false, fmt.Errorf("digest agent: %w", err)
	}
	content := strings.TrimSpace(prddoc.StripCodeFence(res.Content))
	if content == "" {
		return false, s.chat.SetDigestCursor(dbc, sessionID, last)
	}
	if _, err := s.files.WriteChatDigest(sessionID, content+"\n"); err != nil {
		return false, fmt.Errorf("write chat digest: %w", err)
	}
	if _, err := s.folder.Fold(ctx, FoldInput{
		SessionID: sessionID,
		Summaries: []prddoc.Summary{{Content: content}},
		Status:    types.RecordRunning,
		Trigger:   FoldTriggerChatDigest,
	}); err != nil {
		return false, fmt.Errorf("fold chat digest: %w", err)
	}
	if err := s.chat.SetDigestCursor(dbc, sessionID, last); err != nil {
		return false, err
	}
	s.log.Info("chat digested", "session_id", sessionID, "messages", len(msgs), "last_message_id", last)
	return true, nil
}

func chatSession(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return uuid.NewString(), nil
	}
	if err := sessionfs.ValidateSegment(id); err != nil {
		return "", apierr.BadRequest("invalid_session_id", err)
	}
	return id, nil
}
