package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/httpclient"
	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// Worker fetches and applies one identifier of a domain.
type Worker interface {
	Name() string
	// WorkList returns the identifiers of a run; order is normalized by the orchestrator.
	WorkList(ctx context.Context) ([]string, error)
	// Skip reports whether id can be skipped without any upstream call.
	Skip(ctx context.Context, id string) (bool, error)
	// Sync fetches id upstream and writes it; returns the number of rows written.
	Sync(ctx context.Context, id string) (int64, error)
}

// ProgressStore persists one checkpoint per domain.
type ProgressStore interface {
	Save(ctx context.Context, p model.SyncProgress) error
	Load(ctx context.Context, domain string) (*model.SyncProgress, error)
	Delete(ctx context.Context, domain string) error
}

// EventPublisher emits domain events; a nil publisher disables events.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, correlation uuid.UUID, payload any) error
}

// Options tunes a run.
type Options struct {
	BatchSize       int
	CheckpointEvery int
	MaxRetries      int
	BackoffBase     time.Duration
	MaxBackoff      time.Duration
	// BeforeBatch runs before each batch; used to refresh credentials close to expiry.
	BeforeBatch func(ctx context.Context) error
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 10
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Orchestrator drives resumable runs of one domain.
type Orchestrator struct {
	domain string
	worker Worker
	store  ProgressStore
	events EventPublisher
	logger *zap.Logger
	opts   Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	running bool
	current *model.SyncProgress
	last    *model.SyncProgress
	paused  atomic.Bool
}

// New creates an orchestrator for worker's domain.
func New(worker Worker, store ProgressStore, events EventPublisher, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		domain: worker.Name(),
		worker: worker,
		store:  store,
		events: events,
		logger: logger.With(zap.String("domain", worker.Name())),
		opts:   opts.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
		sleep:  sleepCtx,
	}
}

// Domain returns the domain this orchestrator runs.
func (o *Orchestrator) Domain() string { return o.domain }

// Running reports whether a run is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Pause asks the active run to stop after the identifier in flight. It returns false
// when nothing is running.
func (o *Orchestrator) Pause() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return false
	}
	o.paused.Store(true)
	return true
}

// Start launches a run in the background bound to ctx, which should outlive the caller's
// request. While a run is active it returns the current snapshot and false.
func (o *Orchestrator) Start(ctx context.Context) (model.SyncProgress, bool, error) {
	p, err := o.begin(ctx)
	if errors.Is(err, ErrAlreadyRunning) {
		return o.snapshot(), false, nil
	}
	if err != nil {
		return model.SyncProgress{}, false, err
	}
	snap := p.Clone()
	go func() {
		_, _ = o.execute(ctx, p)
	}()
	return snap, true, nil
}

// Run executes a run synchronously and returns the final progress.
func (o *Orchestrator) Run(ctx context.Context) (model.SyncProgress, error) {
	p, err := o.begin(ctx)
	if err != nil {
		return model.SyncProgress{}, err
	}
	return o.execute(ctx, p)
}

// Status returns the live progress of an active run, else the last finished run, else
// the stored checkpoint, else an idle record.
func (o *Orchestrator) Status(ctx context.Context) (model.SyncProgress, error) {
	o.mu.Lock()
	switch {
	case o.running && o.current != nil:
		snap := o.current.Clone()
		o.mu.Unlock()
		return snap, nil
	case o.last != nil:
		snap := o.last.Clone()
		o.mu.Unlock()
		return snap, nil
	}
	o.mu.Unlock()

	p, err := o.store.Load(ctx, o.domain)
	if err != nil {
		return model.SyncProgress{}, Storage(err)
	}
	if p == nil {
		return model.SyncProgress{Domain: o.domain, Status: model.SyncIdle, Failed: []model.FailedItem{}}, nil
	}
	return p.Clone(), nil
}

// Reset discards the checkpoint so the next run starts from the beginning.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return ErrSyncRunning
	}
	if err := o.store.Delete(ctx, o.domain); err != nil {
		return Storage(err)
	}
	o.last = nil
	o.logger.Info("syncer.progress_reset")
	return nil
}

func (o *Orchestrator) snapshot() model.SyncProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return model.SyncProgress{Domain: o.domain, Status: model.SyncRunning, Failed: []model.FailedItem{}}
	}
	return o.current.Clone()
}

// begin claims the domain and loads or creates the checkpoint.
func (o *Orchestrator) begin(ctx context.Context) (*model.SyncProgress, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.running = true
	o.paused.Store(false)
	o.mu.Unlock()

	p, err := o.store.Load(ctx, o.domain)
	if err != nil {
		o.release(nil)
		return nil, fmt.Errorf("load checkpoint: %w", Storage(err))
	}

	now := o.now()
	if p == nil || p.Status == model.SyncCompleted {
		p = model.NewSyncProgress(o.domain, now)
		o.logger.Info("syncer.run_started", zap.String("run_id", p.RunID.String()))
	} else {
		o.logger.Info("syncer.run_resumed",
			zap.String("run_id", p.RunID.String()),
			zap.String("after", p.LastProcessed),
			zap.String("previous_status", string(p.Status)))
		p.Status = model.SyncRunning
		p.LastError = ""
		p.LastUpdatedAt = now
		if p.Failed == nil {
			p.Failed = []model.FailedItem{}
		}
	}

	o.mu.Lock()
	o.current = p
	o.mu.Unlock()
	return p, nil
}

func (o *Orchestrator) release(final *model.SyncProgress) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.current = nil
	if final != nil {
		snap := final.Clone()
		o.last = &snap
	}
}

func (o *Orchestrator) execute(ctx context.Context, p *model.SyncProgress) (result model.SyncProgress, err error) {
	defer func() {
		o.release(p)
		result = o.locked(func() model.SyncProgress { return p.Clone() })
	}()

	ids, err := o.worker.WorkList(ctx)
	if err != nil {
		return model.SyncProgress{}, o.fail(ctx, p, fmt.Errorf("load work list: %w", err))
	}
	ids = normalize(ids)

	start := 0
	if p.LastProcessed != "" {
		start = sort.SearchStrings(ids, p.LastProcessed)
		if start < len(ids) && ids[start] == p.LastProcessed {
			start++
		}
	}
	o.update(func() {
		p.Total = len(ids)
		p.Processed = start
	})
	metrics.SetSyncProgress(o.domain, p.Processed, p.Total)

	if err := o.checkpoint(ctx, p); err != nil {
		return model.SyncProgress{}, o.fail(ctx, p, err)
	}

	sinceCheckpoint := 0
	for i := start; i < len(ids); i++ {
		if (i-start)%o.opts.BatchSize == 0 && o.opts.BeforeBatch != nil {
			if err := o.opts.BeforeBatch(ctx); err != nil {
				if Classify(err) == ClassFatalAuth {
					return model.SyncProgress{}, o.fail(ctx, p, err)
				}
				o.logger.Warn("syncer.before_batch_failed", zap.Error(err))
			}
		}

		if o.paused.Load() || ctx.Err() != nil {
			return model.SyncProgress{}, o.pause(ctx, p)
		}

		id := ids[i]
		skip, err := o.worker.Skip(ctx, id)
		if err != nil {
			if Classify(err) == ClassStorage {
				return model.SyncProgress{}, o.fail(ctx, p, err)
			}
			o.logger.Warn("syncer.skip_check_failed", zap.String("id", id), zap.Error(err))
		}

		if skip {
			metrics.IncSyncItem(o.domain, "skipped")
			o.update(func() {
				p.Skipped++
				p.Processed++
				p.LastProcessed = id
			})
		} else {
			n, failure, err := o.processOne(ctx, id)
			if err != nil {
				if ctx.Err() != nil {
					return model.SyncProgress{}, o.pause(ctx, p)
				}
				return model.SyncProgress{}, o.fail(ctx, p, err)
			}
			o.update(func() {
				p.Processed++
				p.LastProcessed = id
				p.Updated += n
				if failure != nil {
					p.Failed = append(p.Failed, *failure)
				}
			})
		}
		metrics.SetSyncProgress(o.domain, p.Processed, p.Total)

		sinceCheckpoint++
		if sinceCheckpoint >= o.opts.CheckpointEvery {
			sinceCheckpoint = 0
			if err := o.checkpoint(ctx, p); err != nil {
				return model.SyncProgress{}, o.fail(ctx, p, err)
			}
		}
	}

	return model.SyncProgress{}, o.complete(ctx, p)
}

// processOne applies the per-class failure policy to one identifier. A non-nil error
// aborts the run; a non-nil FailedItem records a give-up and lets the run advance.
func (o *Orchestrator) processOne(ctx context.Context, id string) (int64, *model.FailedItem, error) {
	for attempt := 1; ; attempt++ {
		n, err := o.worker.Sync(ctx, id)
		if err == nil {
			result := "updated"
			if n == 0 {
				result = "unchanged"
			}
			metrics.IncSyncItem(o.domain, result)
			return n, nil, nil
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}

		class := Classify(err)
		var wait time.Duration
		switch class {
		case ClassFatalAuth, ClassStorage:
			return 0, nil, err
		case ClassInvalid, ClassNotFound:
			return 0, o.giveUp(id, class, attempt, err), nil
		case ClassRateLimited:
			wait = o.opts.BackoffBase << (attempt - 1)
			if wait > o.opts.MaxBackoff || wait <= 0 {
				wait = o.opts.MaxBackoff
			}
			if ra := httpclient.RetryAfterOf(err); ra > wait {
				wait = ra
			}
		default:
			wait = o.opts.BackoffBase * time.Duration(attempt)
		}

		if attempt > o.opts.MaxRetries {
			return 0, o.giveUp(id, class, attempt, err), nil
		}

		metrics.IncSyncItem(o.domain, "retried")
		o.logger.Warn("syncer.item_retry",
			zap.String("id", id),
			zap.String("class", class),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
		if err := o.sleep(ctx, wait); err != nil {
			return 0, nil, err
		}
	}
}

func (o *Orchestrator) giveUp(id, class string, attempts int, err error) *model.FailedItem {
	metrics.IncSyncItem(o.domain, "failed")
	o.logger.Warn("syncer.item_failed",
		zap.String("id", id),
		zap.String("class", class),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return &model.FailedItem{
		ID:       id,
		Reason:   err.Error(),
		Class:    class,
		Attempts: attempts,
		At:       o.now(),
	}
}

func (o *Orchestrator) checkpoint(ctx context.Context, p *model.SyncProgress) error {
	snap := o.locked(func() model.SyncProgress {
		p.LastUpdatedAt = o.now()
		return p.Clone()
	})
	if err := o.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save checkpoint: %w", Storage(err))
	}
	o.logger.Debug("syncer.checkpoint_saved",
		zap.Int("processed", snap.Processed),
		zap.Int("total", snap.Total),
		zap.String("last", snap.LastProcessed))
	return nil
}

func (o *Orchestrator) pause(ctx context.Context, p *model.SyncProgress) error {
	o.update(func() { p.Status = model.SyncPaused })
	if err := o.checkpoint(context.WithoutCancel(ctx), p); err != nil {
		o.logger.Error("syncer.pause_checkpoint_failed", zap.Error(err))
		return err
	}
	o.logger.Info("syncer.run_paused",
		zap.Int("processed", p.Processed),
		zap.Int("total", p.Total),
		zap.String("last", p.LastProcessed))
	o.publish(context.WithoutCancel(ctx), model.EventSyncPaused, p)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, p *model.SyncProgress, cause error) error {
	o.update(func() {
		p.Status = model.SyncFailed
		p.LastError = cause.Error()
	})
	metrics.IncError("syncer", Classify(cause))
	o.logger.Error("syncer.run_failed",
		zap.Int("processed", p.Processed),
		zap.Int("total", p.Total),
		zap.Error(cause))

	if err := o.checkpoint(context.WithoutCancel(ctx), p); err != nil {
		o.logger.Error("syncer.fail_checkpoint_failed", zap.Error(err))
	}
	o.publish(context.WithoutCancel(ctx), model.EventSyncFailed, p)
	return cause
}

func (o *Orchestrator) complete(ctx context.Context, p *model.SyncProgress) error {
	if p.Processed != p.Total {
		return o.fail(ctx, p, fmt.Errorf("run ended with %d of %d processed", p.Processed, p.Total))
	}
	o.update(func() {
		p.Status = model.SyncCompleted
		p.LastUpdatedAt = o.now()
	})
	if err := o.store.Delete(ctx, o.domain); err != nil {
		o.logger.Warn("syncer.checkpoint_delete_failed", zap.Error(err))
	}
	metrics.SetLastRun("sync."+o.domain, o.now())
	o.logger.Info("syncer.run_completed",
		zap.String("run_id", p.RunID.String()),
		zap.Int("total", p.Total),
		zap.Int("skipped", p.Skipped),
		zap.Int64("updated", p.Updated),
		zap.Int("failed", len(p.Failed)))
	o.publish(ctx, model.EventSyncCompleted, p)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, p *model.SyncProgress) {
	if o.events == nil {
		return
	}
	snap := o.locked(func() model.SyncProgress { return p.Clone() })
	if err := o.events.Publish(ctx, eventType, snap.RunID, snap); err != nil {
		o.logger.Warn("syncer.publish_failed", zap.String("event_type", eventType), zap.Error(err))
	}
}

func (o *Orchestrator) update(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn()
}

func (o *Orchestrator) locked(fn func() model.SyncProgress) model.SyncProgress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return fn()
}

// normalize sorts ids lexicographically and drops blanks and duplicates.
func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	j := 0
	for i, id := range out {
		if i == 0 || id != out[j-1] {
			out[j] = id
			j++
		}
	}
	return out[:j]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
