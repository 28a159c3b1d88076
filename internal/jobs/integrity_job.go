package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/integrity"
)

// IntegrityRunner is the engine surface the integrity job drives.
type IntegrityRunner interface {
	RunIntegrityCheck(ctx context.Context, opts integrity.Options) (integrity.Report, error)
	RepairRecentAnomalies(ctx context.Context, windowDays int) (integrity.RepairResult, error)
}

// repairable are the findings the repairer can correct.
var repairable = []string{
	integrity.ZeroRevenueRecent,
	integrity.OrderItemsMissingPriceAmountRecent,
	integrity.OrdersZeroTotalRecent,
}

// IntegrityJob periodically runs the integrity check and, when enabled, repairs
// revenue anomalies it finds.
type IntegrityJob struct {
	logger     *zap.Logger
	runner     IntegrityRunner
	opts       integrity.Options
	autoRepair bool
	repairDays int
	interval   time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewIntegrityJob constructs a background job that runs every interval.
func NewIntegrityJob(logger *zap.Logger, runner IntegrityRunner, opts integrity.Options, autoRepair bool, repairDays int, interval time.Duration) *IntegrityJob {
	return &IntegrityJob{
		logger:     logger.Named("integrity_job"),
		runner:     runner,
		opts:       opts,
		autoRepair: autoRepair,
		repairDays: repairDays,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// Start runs the check loop until Stop is called or ctx is cancelled.
func (j *IntegrityJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("integrity_job.started", zap.Duration("interval", j.interval), zap.Bool("auto_repair", j.autoRepair))

	for {
		select {
		case <-ticker.C:
			j.runOnce(ctx)
		case <-j.stopCh:
			j.logger.Info("integrity_job.stopped (manual stop)")
			return
		case <-ctx.Done():
			j.logger.Info("integrity_job.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the job.
func (j *IntegrityJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

// runOnce executes one check and, when needed, one repair.
func (j *IntegrityJob) runOnce(ctx context.Context) {
	start := time.Now()
	rep, err := j.runner.RunIntegrityCheck(ctx, j.opts)
	if err != nil {
		j.logger.Error("integrity_job.check_failed", zap.Error(err))
		return
	}

	if !j.autoRepair || !needsRepair(rep) {
		j.logger.Info("integrity_job.success",
			zap.Int64("findings", rep.FindingsCount),
			zap.Duration("duration", time.Since(start)))
		return
	}

	res, err := j.runner.RepairRecentAnomalies(ctx, j.repairDays)
	if err != nil {
		j.logger.Error("integrity_job.repair_failed", zap.Error(err))
		return
	}
	j.logger.Info("integrity_job.success",
		zap.Int64("findings", rep.FindingsCount),
		zap.Int64("repaired", res.Total),
		zap.Duration("duration", time.Since(start)))
}

func needsRepair(rep integrity.Report) bool {
	for _, c := range repairable {
		if rep.Counts[c] > 0 {
			return true
		}
	}
	return false
}
