package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

var ErrEmptyReply = errors.New("agent returned an empty reply")

// Message is one prior chat turn.
type Message struct {
	Role    string
	Content string
}

type RunResult struct {
	Content   string
	SessionID string
}

// Agent answers a prompt in the context of a session. Implementations must
// honor ctx cancellation.
type Agent interface {
	Run(ctx context.Context, prompt, sessionID string, history ...Message) (*RunResult, error)
}

type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	Role         string
	SystemPrompt string
	MaxRetries   int
	Temperature  float32
}

type openAIAgent struct {
	log     *logger.Logger
	client  *openai.Client
	cfg     Config
	sleepFn func(time.Duration)
}

// NewOpenAIAgent returns an Agent backed by an OpenAI-compatible chat
// completions endpoint.
func NewOpenAIAgent(log *logger.Logger, cfg Config) (Agent, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		oc.BaseURL = base
	}
	return &openAIAgent{
		log:     log.With("service", "LLMAgent", "role", cfg.Role, "model", cfg.Model),
		client:  openai.NewClientWithConfig(oc),
		cfg:     cfg,
		sleepFn: time.Sleep,
	}, nil
}

func (a *openAIAgent) Run(ctx context.Context, prompt, sessionID string, history ...Message) (*RunResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if sys := strings.TrimSpace(a.cfg.SystemPrompt); sys != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: sys})
	}
	for _, h := range history {
		role := openai.ChatMessageRoleUser
		if h.Role == openai.ChatMessageRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: h.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		Temperature: a.cfg.Temperature,
		User:        sessionID,
	}

	backoff := 1 * time.Second
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		resp, err := a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			observability.Current().ObserveLLMRequest(a.cfg.Model, a.cfg.Role, "ok", time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
				return nil, ErrEmptyReply
			}
			return &RunResult{Content: resp.Choices[0].Message.Content, SessionID: sessionID}, nil
		}
		observability.Current().ObserveLLMRequest(a.cfg.Model, a.cfg.Role, statusLabel(err), time.Since(start), 0, 0)

		if !IsRetryable(err) || attempt == a.cfg.MaxRetries {
			return nil, fmt.Errorf("llm %s call failed: %w", a.cfg.Role, err)
		}
		sleepFor := jitter(backoff)
		a.log.Warn("LLM request retrying",
			"session_id", sessionID,
			"attempt", attempt+1,
			"max_retries", a.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		a.sleepFn(sleepFor)
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, fmt.Errorf("unreachable retry loop")
}

// IsRetryable reports rate limits, server errors and transport failures.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code := httpStatus(err); code != 0 {
		return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
	}
	return true
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func statusLabel(err error) string {
	if code := httpStatus(err); code != 0 {
		return fmt.Sprintf("%d", code)
	}
	return "error"
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
