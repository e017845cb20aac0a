package worker

import (
	"context"
	"time"

	"github.com/yungbote/prdsmith-backend/internal/platform/logger"
)

// Digester folds recent chat into PRDs. Implemented by services.ChatService.
type Digester interface {
	DigestPending(ctx context.Context) (int, error)
}

// DigestLoop periodically runs Digester until ctx ends. A non-positive
// interval disables it.
type DigestLoop struct {
	log      *logger.Logger
	digester Digester
	interval time.Duration
}

func NewDigestLoop(baseLog *logger.Logger, digester Digester, interval time.Duration) *DigestLoop {
	return &DigestLoop{
		log:      baseLog.With("component", "ChatDigestLoop"),
		digester: digester,
		interval: interval,
	}
}

func (d *DigestLoop) Run(ctx context.Context) {
	if d == nil || d.digester == nil || d.interval <= 0 {
		return
	}
	d.log.Info("Starting chat digest loop", "interval", d.interval.String())
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.digester.DigestPending(ctx)
			if err != nil {
				d.log.Warn("chat digest failed", "error", err)
				continue
			}
			if n > 0 {
				d.log.Info("chat digested", "sessions", n)
			}
		}
	}
}
