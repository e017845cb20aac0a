package app

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/prdsmith-backend/internal/http"
	httpH "github.com/yungbote/prdsmith-backend/internal/http/handlers"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type Handlers struct {
	Health *httpH.HealthHandler
	Docs   *httpH.DocsHandler
	Voice  *httpH.VoiceHandler
	PRD    *httpH.PRDHandler
	Chat   *httpH.ChatHandler
	ASR    *httpH.ASRHandler
}

func wireHandlers(log *logger.Logger, cfg Config, sqlDB *sql.DB, services Services) Handlers {
	log.Info("Wiring handlers...")
	h := Handlers{
		Health: httpH.NewHealthHandler(sqlDB),
		Docs:   httpH.NewDocsHandler(log, services.Ingest, services.Docs, cfg.MaxUploadBytes),
		Voice:  httpH.NewVoiceHandler(log, services.Ingest),
		PRD:    httpH.NewPRDHandler(log, services.PRD),
		Chat:   httpH.NewChatHandler(log, services.Chat, cfg.MaxUploadBytes),
		// Answers 503 itself when speech is not configured.
		ASR: httpH.NewASRHandler(log, services.Relay, services.Ingest, cfg.CORSOrigins),
	}
	return h
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, metrics *observability.Metrics) *gin.Engine {
	tracing := ""
	if cfg.Otel.Enabled {
		tracing = cfg.Otel.ServiceName
	}
	return http.NewRouter(http.RouterConfig{
		Log:            log,
		Metrics:        metrics,
		TracingService: tracing,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		HealthHandler:  handlers.Health,
		DocsHandler:    handlers.Docs,
		VoiceHandler:   handlers.Voice,
		PRDHandler:     handlers.PRD,
		ChatHandler:    handlers.Chat,
		ASRHandler:     handlers.ASR,
	})
}
