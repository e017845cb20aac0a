package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/prdsmith-backend/internal/http/handlers"
	httpMW "github.com/yungbote/prdsmith-backend/internal/http/middleware"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log     *logger.Logger
	Metrics *observability.Metrics

	// TracingService names the otelgin server spans; empty disables them.
	TracingService string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int

	HealthHandler *httpH.HealthHandler
	DocsHandler   *httpH.DocsHandler
	VoiceHandler  *httpH.VoiceHandler
	PRDHandler    *httpH.PRDHandler
	ChatHandler   *httpH.ChatHandler
	ASRHandler    *httpH.ASRHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.TracingService != "" {
		r.Use(otelgin.Middleware(cfg.TracingService))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, "/metrics", "/ws/asr"))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	// Prometheus
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	limited := httpMW.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	api := r.Group("/api")
	{
		// Documents
		if cfg.DocsHandler != nil {
			api.POST("/docs/upload", limited, cfg.DocsHandler.Upload)
			api.GET("/docs/status", cfg.DocsHandler.Status)
			api.GET("/docs/summaries", cfg.DocsHandler.Summaries)
			api.GET("/docs/cumulative", cfg.DocsHandler.Cumulative)
			api.GET("/docs/download/original", cfg.DocsHandler.DownloadOriginal)
			api.GET("/docs/download/cumulative", cfg.DocsHandler.DownloadCumulative)
			api.GET("/docs/tasks", cfg.DocsHandler.ListTasks)
			api.POST("/docs/requeue", cfg.DocsHandler.Requeue)
			api.GET("/prd/summaries", cfg.DocsHandler.Summaries)
		}

		// Voice
		if cfg.VoiceHandler != nil {
			api.POST("/voice/append", limited, cfg.VoiceHandler.Append)
		}

		// PRD records
		if cfg.PRDHandler != nil {
			api.GET("/prd/list", cfg.PRDHandler.List)
			api.GET("/prd/latest", cfg.PRDHandler.Latest)
			api.GET("/prd/download/:id", cfg.PRDHandler.Download)
			api.POST("/prd/finalize", limited, cfg.PRDHandler.Finalize)
		}

		// Chat
		if cfg.ChatHandler != nil {
			api.POST("/chat", limited, cfg.ChatHandler.Send)
			api.POST("/chat/import", limited, cfg.ChatHandler.Import)
		}
	}

	// Speech
	if cfg.ASRHandler != nil {
		r.GET("/ws/asr", cfg.ASRHandler.Stream)
	}

	return r
}
