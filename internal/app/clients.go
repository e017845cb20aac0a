package app

import (
	"context"
	"fmt"

	"github.com/yungbote/prdsmith-backend/internal/clients/gcp"
	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	"github.com/yungbote/prdsmith-backend/internal/clients/redis"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

const (
	chatSystemPrompt = "你是一名资深产品经理助手，帮助用户梳理产品需求，回答简洁、结构化。"
	docSystemPrompt  = "你是PRD文档生成专家，只输出 markdown 文档本身。"
)

// Clients holds the optional collaborators. Any field may be nil: agents fall
// back to deterministic output, a nil bus only logs events and a nil speech
// recognizer disables /ws/asr.
type Clients struct {
	ChatAgent    llm.Agent
	SummaryAgent llm.Agent
	DocAgent     llm.Agent
	Bus          redis.EventBus
	Speech       gcp.Recognizer
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	if cfg.OpenAIAPIKey != "" {
		agent := func(role, model, system string) (llm.Agent, error) {
			return llm.NewOpenAIAgent(log, llm.Config{
				APIKey:       cfg.OpenAIAPIKey,
				BaseURL:      cfg.OpenAIBaseURL,
				Model:        model,
				Role:         role,
				SystemPrompt: system,
				MaxRetries:   cfg.LLMMaxRetries,
				Temperature:  float32(cfg.LLMTemperature),
			})
		}
		var err error
		if c.ChatAgent, err = agent("chat", cfg.ChatModel, chatSystemPrompt); err != nil {
			return Clients{}, fmt.Errorf("init chat agent: %w", err)
		}
		if c.SummaryAgent, err = agent("summary", cfg.SummaryModel, ""); err != nil {
			return Clients{}, fmt.Errorf("init summary agent: %w", err)
		}
		if c.DocAgent, err = agent("prd", cfg.DocModel, docSystemPrompt); err != nil {
			return Clients{}, fmt.Errorf("init prd agent: %w", err)
		}
	} else {
		log.Warn("OPENAI_API_KEY not set; summaries and PRDs use fallback output and chat is disabled")
	}

	if cfg.RedisAddr != "" {
		bus, err := redis.NewEventBus(log, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.RedisChannel,
		})
		if err != nil {
			return Clients{}, fmt.Errorf("init redis event bus: %w", err)
		}
		c.Bus = bus
	}

	if cfg.SpeechEnabled {
		rec, err := gcp.NewSpeech(ctx, log, gcp.SpeechConfig{Credentials: cfg.SpeechCredentials})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init speech client: %w", err)
		}
		c.Speech = rec
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Bus != nil {
		_ = c.Bus.Close()
	}
	if c.Speech != nil {
		_ = c.Speech.Close()
	}
}
