// Package engine is the control facade over the per-domain sync orchestrators and the
// integrity checker. The HTTP layer and the schedulers talk only to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/integrity"
	"github.com/Checker-Finance/marketplace-sync/internal/syncer"
	"github.com/Checker-Finance/marketplace-sync/pkg/model"
)

// ErrUnknownDomain is returned for a domain no orchestrator is registered for.
var ErrUnknownDomain = errors.New("engine: unknown domain")

// Syncer is the orchestrator surface the engine drives.
type Syncer interface {
	Domain() string
	Running() bool
	Start(ctx context.Context) (model.SyncProgress, bool, error)
	Pause() bool
	Status(ctx context.Context) (model.SyncProgress, error)
	Reset(ctx context.Context) error
}

// CredentialResetter clears a remembered fatal credential error.
type CredentialResetter interface {
	Reset()
}

// Checker runs integrity aggregations.
type Checker interface {
	Run(ctx context.Context, opts integrity.Options) (integrity.Report, error)
}

// Repairer repairs recent order lines.
type Repairer interface {
	RepairRecent(ctx context.Context, windowDays int) (integrity.RepairResult, error)
}

// Sales reads the inputs of the per-product economics view.
type Sales interface {
	Costs(ctx context.Context, asin string) (model.CostInputs, error)
	SalesSince(ctx context.Context, asin string, since time.Time) (decimal.Decimal, int64, error)
}

var _ Syncer = (*syncer.Orchestrator)(nil)

// Domain binds an orchestrator to the credential caches its upstream calls use.
type Domain struct {
	Syncer      Syncer
	Credentials []CredentialResetter
}

// Flags are operator-visible switches reported with the integrity status.
type Flags struct {
	SimulatedDataEnabled bool `json:"simulated_data_enabled"`
	SchedulesDisabled    bool `json:"schedules_disabled"`
	ConsistencyLock      bool `json:"consistency_lock"`
}

// Config wires an Engine.
type Config struct {
	Domains           []Domain
	Checker           Checker
	Repairer          Repairer
	Sales             Sales
	Events            syncer.EventPublisher
	Flags             Flags
	IntegrityDefaults integrity.Options
	RepairWindowDays  int
}

// IntegrityStatus is the last check and repair with the current flags.
type IntegrityStatus struct {
	Flags
	LastReport *integrity.Report       `json:"last_report"`
	LastRepair *integrity.RepairResult `json:"last_repair"`
}

// Engine exposes the external operations of the service.
type Engine struct {
	base     context.Context
	domains  map[string]Domain
	checker  Checker
	repairer Repairer
	sales    Sales
	events   syncer.EventPublisher
	flags    Flags
	defaults integrity.Options
	repairWD int
	logger   *zap.Logger

	mu         sync.Mutex
	lastReport *integrity.Report
	lastRepair *integrity.RepairResult
}

// New creates an Engine. Background sync runs are bound to base, so they survive the
// request that started them and stop when the service shuts down.
func New(base context.Context, cfg Config, logger *zap.Logger) *Engine {
	domains := make(map[string]Domain, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domains[d.Syncer.Domain()] = d
	}
	return &Engine{
		base:     base,
		domains:  domains,
		checker:  cfg.Checker,
		repairer: cfg.Repairer,
		sales:    cfg.Sales,
		events:   cfg.Events,
		flags:    cfg.Flags,
		defaults: cfg.IntegrityDefaults,
		repairWD: cfg.RepairWindowDays,
		logger:   logger.Named("engine"),
	}
}

// Domains lists the registered domains, sorted.
func (e *Engine) Domains() []string {
	out := make([]string, 0, len(e.domains))
	for name := range e.domains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (e *Engine) domain(name string) (Domain, error) {
	d, ok := e.domains[name]
	if !ok {
		return Domain{}, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return d, nil
}

// StartSync starts or resumes the domain's run and returns its progress. Calling it
// while the domain is running returns the live snapshot and starts nothing. After a
// failed run the domain's credential caches are reset so a fixed credential is retried.
func (e *Engine) StartSync(ctx context.Context, name string) (model.SyncProgress, error) {
	d, err := e.domain(name)
	if err != nil {
		return model.SyncProgress{}, err
	}

	if !d.Syncer.Running() {
		prev, err := d.Syncer.Status(ctx)
		if err != nil {
			return model.SyncProgress{}, err
		}
		if prev.Status == model.SyncFailed {
			for _, c := range d.Credentials {
				c.Reset()
			}
			e.logger.Info("engine.credentials_reset", zap.String("domain", name), zap.String("last_error", prev.LastError))
		}
	}

	snap, started, err := d.Syncer.Start(e.base)
	if err != nil {
		return model.SyncProgress{}, err
	}
	if !started {
		e.logger.Debug("engine.sync_already_running", zap.String("domain", name))
	}
	return snap, nil
}

// PauseSync asks the domain's run to stop after the identifier in flight. It is a no-op
// when nothing is running.
func (e *Engine) PauseSync(name string) error {
	d, err := e.domain(name)
	if err != nil {
		return err
	}
	if d.Syncer.Pause() {
		e.logger.Info("engine.pause_requested", zap.String("domain", name))
	}
	return nil
}

// GetSyncStatus returns the domain's progress without changing it.
func (e *Engine) GetSyncStatus(ctx context.Context, name string) (model.SyncProgress, error) {
	d, err := e.domain(name)
	if err != nil {
		return model.SyncProgress{}, err
	}
	return d.Syncer.Status(ctx)
}

// ListStatuses returns the progress of every domain, sorted by domain.
func (e *Engine) ListStatuses(ctx context.Context) ([]model.SyncProgress, error) {
	out := make([]model.SyncProgress, 0, len(e.domains))
	for _, name := range e.Domains() {
		p, err := e.domains[name].Syncer.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// ResetProgress discards the domain's checkpoint. It fails with syncer.ErrSyncRunning
// while the domain is running.
func (e *Engine) ResetProgress(ctx context.Context, name string) error {
	d, err := e.domain(name)
	if err != nil {
		return err
	}
	return d.Syncer.Reset(ctx)
}

// RunIntegrityCheck runs one check. Zero numeric options take the configured defaults.
func (e *Engine) RunIntegrityCheck(ctx context.Context, opts integrity.Options) (integrity.Report, error) {
	if opts.WindowDays <= 0 {
		opts.WindowDays = e.defaults.WindowDays
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = e.defaults.MaxRecords
	}
	if opts.Timeout <= 0 {
		opts.Timeout = e.defaults.Timeout
	}
	if opts.SamplingPct <= 0 {
		opts.SamplingPct = e.defaults.SamplingPct
	}

	rep, err := e.checker.Run(ctx, opts)
	if err != nil {
		return integrity.Report{}, err
	}

	e.mu.Lock()
	e.lastReport = &rep
	e.mu.Unlock()

	if rep.FindingsCount > 0 {
		e.publish(ctx, model.EventIntegrityFindings, model.IntegrityEvent{
			WindowDays:    rep.WindowDays,
			FindingsCount: rep.FindingsCount,
			Counts:        rep.Counts,
		})
	}
	return rep, nil
}

// RepairRecentAnomalies repairs order lines in the last windowDays, or the configured
// window when windowDays is not positive.
func (e *Engine) RepairRecentAnomalies(ctx context.Context, windowDays int) (integrity.RepairResult, error) {
	if windowDays <= 0 {
		windowDays = e.repairWD
	}
	res, err := e.repairer.RepairRecent(ctx, windowDays)
	if err != nil {
		return integrity.RepairResult{}, err
	}

	e.mu.Lock()
	e.lastRepair = &res
	e.mu.Unlock()

	if res.Total > 0 {
		e.publish(ctx, model.EventIntegrityRepaired, model.IntegrityEvent{
			WindowDays: res.WindowDays,
			Counts:     res.Updated,
			Repaired:   res.Total,
		})
	}
	return res, nil
}

// IntegrityStatus returns the last check and repair results.
func (e *Engine) IntegrityStatus() IntegrityStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return IntegrityStatus{Flags: e.flags, LastReport: e.lastReport, LastRepair: e.lastRepair}
}

// ProductEconomics computes revenue, units and, when cost inputs exist, profit and ROI
// of asin over the last windowDays. ACOS stays unknown: no ad spend is ingested.
func (e *Engine) ProductEconomics(ctx context.Context, asin string, windowDays int) (model.Economics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -windowDays)

	revenue, units, err := e.sales.SalesSince(ctx, asin, since)
	if err != nil {
		return model.Economics{}, err
	}
	costs, err := e.sales.Costs(ctx, asin)
	if err != nil {
		return model.Economics{}, err
	}
	return model.ComputeEconomics(revenue, units, costs, nil), nil
}

func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, eventType, uuid.Nil, payload); err != nil {
		e.logger.Warn("engine.publish_failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
