package prd_summarize

import (
	"time"

	"github.com/yungbote/prdsmith-backend/internal/clients/llm"
	"github.com/yungbote/prdsmith-backend/internal/modules/prddoc"
	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
	"github.com/yungbote/prdsmith-backend/internal/platform/sessionfs"
	"github.com/yungbote/prdsmith-backend/internal/services"
)

const JobType = "prd_summarize"

type Config struct {
	MaxInputBytes int
	AgentTimeout  time.Duration
}

type Pipeline struct {
	log    *logger.Logger
	files  *sessionfs.Store
	agent  llm.Agent
	folder services.PRDFolder
	cfg    Config
}

// New builds the summarize pipeline. A nil agent makes every chunk take the
// fallback summary.
func New(
	baseLog *logger.Logger,
	files *sessionfs.Store,
	agent llm.Agent,
	folder services.PRDFolder,
	cfg Config,
) *Pipeline {
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = prddoc.DefaultMaxInputBytes
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 20 * time.Minute
	}
	return &Pipeline{
		log:    baseLog.With("job", JobType),
		files:  files,
		agent:  agent,
		folder: folder,
		cfg:    cfg,
	}
}

func (p *Pipeline) Type() string { return JobType }
