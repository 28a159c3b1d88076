package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// SyncStarter starts a domain run; it must be a no-op for a domain already running.
type SyncStarter interface {
	StartSync(ctx context.Context, domain string) (model.SyncProgress, error)
}

// SyncScheduler periodically starts the configured sync domains.
type SyncScheduler struct {
	logger   *zap.Logger
	starter  SyncStarter
	domains  []string
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSyncScheduler constructs a scheduler that kicks every domain each interval.
func NewSyncScheduler(logger *zap.Logger, starter SyncStarter, domains []string, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		logger:   logger.Named("sync_scheduler"),
		starter:  starter,
		domains:  domains,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the schedule loop until Stop is called or ctx is cancelled.
func (s *SyncScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync_scheduler.started", zap.Duration("interval", s.interval), zap.Strings("domains", s.domains))

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stopCh:
			s.logger.Info("sync_scheduler.stopped (manual stop)")
			return
		case <-ctx.Done():
			s.logger.Info("sync_scheduler.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the scheduler.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *SyncScheduler) runOnce(ctx context.Context) {
	for _, domain := range s.domains {
		p, err := s.starter.StartSync(ctx, domain)
		if err != nil {
			s.logger.Warn("sync_scheduler.start_failed", zap.String("domain", domain), zap.Error(err))
			continue
		}
		s.logger.Info("sync_scheduler.kicked",
			zap.String("domain", domain),
			zap.String("status", string(p.Status)),
			zap.Int("processed", p.Processed),
			zap.Int("total", p.Total))
	}
}
