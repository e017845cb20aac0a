package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/prdsmith-backend/internal/data/db"
	"github.com/yungbote/prdsmith-backend/internal/http"
	"github.com/yungbote/prdsmith-backend/internal/observability"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	Metrics  *observability.Metrics

	sqlite       *db.SQLiteService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// New builds the whole object graph without starting background work.
func New(ctx context.Context) (*App, error) {
	logMode := strings.TrimSpace(os.Getenv("LOG_MODE"))
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}
	if strings.EqualFold(cfg.LogMode, "production") || strings.EqualFold(cfg.LogMode, "prod") {
		gin.SetMode(gin.ReleaseMode)
	}

	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)
	metrics := observability.Init(log, cfg.MetricsEnabled)

	sqlite, err := db.NewSQLiteService(log, cfg.SQLitePath)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	if err := sqlite.AutoMigrateAll(); err != nil {
		_ = sqlite.Close()
		log.Sync()
		return nil, fmt.Errorf("sqlite automigrate: %w", err)
	}
	theDB := sqlite.DB()
	sqlDB, err := theDB.DB()
	if err != nil {
		_ = sqlite.Close()
		return nil, fmt.Errorf("sqlite pool: %w", err)
	}

	reposet := wireRepos(theDB, log)

	clientset, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = sqlite.Close()
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(theDB, log, cfg, reposet, clientset)
	if err != nil {
		clientset.Close()
		_ = sqlite.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, cfg, sqlDB, serviceset)
	router := wireRouter(log, cfg, handlerset, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Clients:      clientset,
		Services:     serviceset,
		Metrics:      metrics,
		sqlite:       sqlite,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the task worker pool and metric collectors. It returns
// immediately; Close stops them.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Services.Worker != nil {
		a.Services.Worker.Start(ctx)
	}
	a.Metrics.StartTaskQueueCollector(ctx, a.Log, a.DB)
	if a.Clients.Bus != nil {
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Bus.Client())
	}
}

// Run serves HTTP and runs the chat digest loop until ctx is cancelled or
// either fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + strings.TrimPrefix(a.Cfg.Port, ":")
		a.Log.Info("HTTP server listening", "addr", addr)
		return (&http.Server{Engine: a.Router}).Run(gctx, addr, a.Cfg.ShutdownWait)
	})
	if a.Services.Digest != nil {
		g.Go(func() error {
			a.Services.Digest.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
		if a.Services.Worker != nil {
			a.Services.Worker.Wait()
		}
	}
	a.Clients.Close()
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.Log.Warn("sqlite close failed", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownWait)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
