package rate

import (
	"context"
	"math"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
	"github.com/Checker-Finance/marketplace-sync/pkg/config"
)

const (
	defaultWindow = time.Minute
	minSpacing    = 100 * time.Millisecond
	minSafety     = 0.1
	maxSafety     = 1.0
)

// Budget is the immutable pacing budget of one governor.
type Budget struct {
	BaseRPM    int
	Safety     float64
	AllowedRPM int           // calls permitted per Window
	MinDelay   time.Duration // minimum spacing between two calls
	Window     time.Duration // rolling window, one minute unless overridden
}

// NewBudget derives a budget from a nominal ceiling and a safety fraction.
// Safety is clamped to [0.1, 1.0]; AllowedRPM is at least 1 and MinDelay at least 100ms.
func NewBudget(baseRPM int, safety float64) Budget {
	if baseRPM < 1 {
		baseRPM = 1
	}
	if math.IsNaN(safety) || safety == 0 {
		safety = 0.8
	}
	safety = math.Min(maxSafety, math.Max(minSafety, safety))

	allowed := int(math.Floor(float64(baseRPM)*safety + 1e-9))
	if allowed < 1 {
		allowed = 1
	}

	windowMs := defaultWindow.Milliseconds()
	delay := time.Duration((windowMs+int64(allowed)-1)/int64(allowed)) * time.Millisecond
	if delay < minSpacing {
		delay = minSpacing
	}

	return Budget{
		BaseRPM:    baseRPM,
		Safety:     safety,
		AllowedRPM: allowed,
		MinDelay:   delay,
		Window:     defaultWindow,
	}
}

// FromOptions builds a budget from configuration; MaxRPM wins over MaxRPS.
func FromOptions(o config.RateOptions) Budget {
	base := o.MaxRPM
	if base <= 0 && o.MaxRPS > 0 {
		base = o.MaxRPS * 60
	}
	if base <= 0 {
		base = 60
	}
	return NewBudget(base, o.Safety)
}

func (b Budget) window() time.Duration {
	if b.Window <= 0 {
		return defaultWindow
	}
	return b.Window
}

// Governor paces calls to one upstream API. Throttle never lets more than AllowedRPM
// calls through in any rolling window and keeps at least MinDelay between calls.
// Callers are served one at a time in arrival order.
type Governor struct {
	name    string
	budget  Budget
	gate    chan struct{}
	spacing *xrate.Limiter

	mu           sync.Mutex
	calls        []time.Time
	blockedUntil time.Time
}

// NewGovernor creates a governor for budget.
func NewGovernor(name string, budget Budget) *Governor {
	if budget.AllowedRPM < 1 {
		budget.AllowedRPM = 1
	}
	return &Governor{
		name:    name,
		budget:  budget,
		gate:    make(chan struct{}, 1),
		spacing: xrate.NewLimiter(xrate.Every(budget.MinDelay), 1),
		calls:   make([]time.Time, 0, budget.AllowedRPM),
	}
}

// Budget returns the governor's pacing budget.
func (g *Governor) Budget() Budget {
	return g.budget
}

// Throttle blocks until it is safe to issue the next call, or ctx is done.
func (g *Governor) Throttle(ctx context.Context) error {
	start := time.Now()
	defer metrics.ObserveDuration(metrics.ThrottleWait, start, g.name)

	select {
	case g.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.gate }()

	for {
		wait := g.nextWait(time.Now())
		if wait <= 0 {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := g.spacing.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.calls = append(g.calls, time.Now())
	g.mu.Unlock()
	return nil
}

// Penalize holds back every call for at least d, on top of steady-state pacing.
// Used after the upstream answers 429.
func (g *Governor) Penalize(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if until := time.Now().Add(d); until.After(g.blockedUntil) {
		g.blockedUntil = until
	}
}

// InWindow reports how many calls were let through in the current rolling window.
func (g *Governor) InWindow() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(time.Now())
	return len(g.calls)
}

func (g *Governor) nextWait(now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Before(g.blockedUntil) {
		return g.blockedUntil.Sub(now)
	}

	g.prune(now)
	if len(g.calls) >= g.budget.AllowedRPM {
		return g.calls[0].Add(g.budget.window()).Sub(now)
	}
	return 0
}

// prune drops calls that have left the rolling window. Caller holds mu.
func (g *Governor) prune(now time.Time) {
	w := g.budget.window()
	i := 0
	for i < len(g.calls) && now.Sub(g.calls[i]) >= w {
		i++
	}
	if i > 0 {
		g.calls = append(g.calls[:0], g.calls[i:]...)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager holds one governor per upstream key (e.g. "amazon.catalog").
type Manager struct {
	mu        sync.RWMutex
	governors map[string]*Governor
	budgets   map[string]Budget
	defaults  Budget
}

// NewManager creates a manager; keys without a registered budget use defaults.
func NewManager(defaults Budget) *Manager {
	return &Manager{
		governors: make(map[string]*Governor),
		budgets:   make(map[string]Budget),
		defaults:  defaults,
	}
}

// Register sets the budget for key. It has no effect on a governor already created.
func (m *Manager) Register(key string, b Budget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[key] = b
}

// Governor returns the governor for key, creating it on first use.
func (m *Manager) Governor(key string) *Governor {
	m.mu.RLock()
	if g, ok := m.governors[key]; ok {
		m.mu.RUnlock()
		return g
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.governors[key]; ok {
		return g
	}
	b, ok := m.budgets[key]
	if !ok {
		b = m.defaults
	}
	g := NewGovernor(key, b)
	m.governors[key] = g
	return g
}

// Throttle waits on the governor for key.
func (m *Manager) Throttle(ctx context.Context, key string) error {
	return m.Governor(key).Throttle(ctx)
}
