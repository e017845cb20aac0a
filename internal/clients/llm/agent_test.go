package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

func newTestAgent(t *testing.T, handler http.HandlerFunc) Agent {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := NewOpenAIAgent(logger.Nop(), Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/v1",
		Model:      "test-model",
		Role:       "summary",
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("NewOpenAIAgent: %v", err)
	}
	a.(*openAIAgent).sleepFn = func(time.Duration) {}
	return a
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}}},
	})
}

func TestOpenAIAgentRunSendsHistory(t *testing.T) {
	var got openai.ChatCompletionRequest
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeCompletion(w, "summary text")
	})
	res, err := a.Run(context.Background(), "prompt", "sess-1", Message{Role: "user", Content: "hi"}, Message{Role: "assistant", Content: "hello"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Content != "summary text" || res.SessionID != "sess-1" {
		t.Fatalf("result: got=%+v", res)
	}
	if got.Model != "test-model" || got.User != "sess-1" || len(got.Messages) != 3 {
		t.Fatalf("request: model=%s user=%s messages=%d", got.Model, got.User, len(got.Messages))
	}
	if got.Messages[1].Role != "assistant" || got.Messages[2].Content != "prompt" {
		t.Fatalf("message order: %+v", got.Messages)
	}
}

func TestOpenAIAgentRetriesServerErrors(t *testing.T) {
	var calls int32
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, `{"error":{"message":"busy"}}`, http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, "ok")
	})
	res, err := a.Run(context.Background(), "p", "s")
	if err != nil || res.Content != "ok" {
		t.Fatalf("Run after retries: res=%+v err=%v", res, err)
	}
	if calls != 3 {
		t.Fatalf("calls: want=3 got=%d", calls)
	}
}

func TestOpenAIAgentDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad","type":"invalid_request_error"}}`))
	})
	if _, err := a.Run(context.Background(), "p", "s"); err == nil {
		t.Fatalf("want error on 400")
	}
	if calls != 1 {
		t.Fatalf("calls: want=1 got=%d", calls)
	}
}

func TestOpenAIAgentEmptyReply(t *testing.T) {
	a := newTestAgent(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "   ")
	})
	if _, err := a.Run(context.Background(), "p", "s"); !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("want ErrEmptyReply got=%v", err)
	}
}

func TestNewOpenAIAgentRequiresKey(t *testing.T) {
	if _, err := NewOpenAIAgent(logger.Nop(), Config{}); err == nil {
		t.Fatalf("want error without api key")
	}
}
