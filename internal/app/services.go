package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/prdsmith-backend/internal/clients/gcp"
	"github.com/yungbote/prdsmith-backend/internal/jobs/pipeline/prd_summarize"
	"github.com/yungbote/prdsmith-backend/internal/jobs/worker"
	"github.com/yungbote/prdsmith-backend/internal/modules/asr"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

type Services struct {
	Files *sessionfs.Store

	// Task events
	TaskNotifier services.TaskNotifier

	// PRD pipeline
	Folder   services.PRDFolder
	Ingest   services.IngestService
	Docs     services.DocsService
	PRD      services.PRDService
	Chat     services.ChatService
	Pipeline *prd_summarize.Pipeline

	// Background work
	Worker *worker.Worker
	Digest *worker.DigestLoop

	// Speech; nil when not configured
	Relay *asr.Relay
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	files, err := sessionfs.New(cfg.DataDir)
	if err != nil {
		return Services{}, fmt.Errorf("init data dir: %w", err)
	}

	notifier := services.NewTaskNotifier(log, clients.Bus)

	folder := services.NewPRDFolder(log, repos.Records, repos.Tasks, files, clients.DocAgent, notifier, services.FoldConfig{
		MaxInputBytes: cfg.MaxInputBytes,
		AgentTimeout:  cfg.AgentTimeout,
	})

	pipeline := prd_summarize.New(log, files, clients.SummaryAgent, folder, prd_summarize.Config{
		MaxInputBytes: cfg.MaxInputBytes,
		AgentTimeout:  cfg.AgentTimeout,
	})

	taskWorker := worker.NewWorker(log, repos.Tasks, pipeline, notifier, worker.Config{
		Concurrency:   cfg.WorkerConcurrency,
		SweepInterval: cfg.WorkerSweep,
	})

	ingest := services.NewIngestService(db, log, repos.Tasks, files, taskWorker, notifier, services.IngestConfig{
		DefaultChunkSize: cfg.DefaultChunkSize,
		VoiceChunkSize:   cfg.VoiceChunkSize,
		MinChunkSize:     cfg.MinChunkSize,
		MaxUploadBytes:   cfg.MaxUploadBytes,
	})

	docs := services.NewDocsService(log, repos.Tasks, files, taskWorker)
	prd := services.NewPRDService(log, repos.Records, files, folder)

	chat := services.NewChatService(log, repos.Chat, files, clients.ChatAgent, clients.SummaryAgent, folder, services.ChatConfig{
		MaxChatInputBytes: cfg.MaxChatInputBytes,
		HistoryMessages:   cfg.ChatHistory,
		DefaultChunkSize:  cfg.DefaultChunkSize,
		MinChunkSize:      cfg.MinChunkSize,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		MaxInputBytes:     cfg.MaxInputBytes,
		DigestWindow:      cfg.ChatDigestWindow,
		AgentTimeout:      cfg.AgentTimeout,
	})

	var digest *worker.DigestLoop
	if clients.SummaryAgent != nil {
		digest = worker.NewDigestLoop(log, chat, cfg.ChatDigestInterval)
	}

	var relay *asr.Relay
	if clients.Speech != nil {
		relay = asr.NewRelay(log, clients.Speech, asr.Config{
			Stream: gcp.StreamConfig{
				LanguageCode:    cfg.SpeechLanguage,
				SampleRateHertz: cfg.SpeechSampleRate,
				Encoding:        cfg.SpeechEncoding,
				Model:           cfg.SpeechModel,
				InterimResults:  true,
			},
		})
	}

	return Services{
		Files:        files,
		TaskNotifier: notifier,
		Folder:       folder,
		Ingest:       ingest,
		Docs:         docs,
		PRD:          prd,
		Chat:         chat,
		Pipeline:     pipeline,
		Worker:       taskWorker,
		Digest:       digest,
		Relay:        relay,
	}, nil
}
