// Package budget gates provider calls against per-task and per-model daily
// request quotas and records usage after each call.
package budget

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/models"
)

// DateLayout is the UTC day key of usage counters.
const DateLayout = "2006-01-02"

// BypassSettingKey is the settings key of the admin override.
const BypassSettingKey = "budget.global_limit_disabled"

// UsageStore is the persistence the governor needs.
type UsageStore interface {
	IncrementTaskUsage(ctx context.Context, u models.BudgetUsage) error
	IncrementModelUsage(ctx context.Context, u models.BudgetUsage) error
	GetTaskUsage(ctx context.Context, date, task string) (int64, error)
	GetModelUsage(ctx context.Context, date, model string) (int64, error)
	ListUsage(ctx context.Context, date string) ([]*models.BudgetUsage, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Decision is the outcome of Check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Charge records one completed (or attempted) provider call.
type Charge struct {
	Task      string
	Model     string
	Provider  string
	Cost      int64
	TokensIn  int64
	TokensOut int64
}

// QuotaError reports a quota that would be exceeded.
type QuotaError struct {
	Scope     string // "task" or "model"
	Task      string
	Model     string
	Current   int64
	Requested int64
	Limit     int64
}

func (e *QuotaError) Error() string {
	name := e.Task
	if e.Scope == "model" {
		name = e.Model
	}
	return fmt.Sprintf("daily %s quota exceeded for %q (task %s, model %s): %d used + %d requested > limit %d",
		e.Scope, name, e.Task, e.Model, e.Current, e.Requested, e.Limit)
}

// bypassState caches the admin override. loggedOnce survives toggling so the
// bypass is reported once per process.
type bypassState struct {
	cached     *bool
	loggedOnce bool
}

// Governor enforces daily quotas. A missing limit means unlimited.
type Governor struct {
	store       UsageStore
	taskLimits  map[string]int64
	modelLimits map[string]int64
	now         func() time.Time
	logger      *zap.Logger

	mu     sync.Mutex
	bypass bypassState
}

// Option configures a Governor.
type Option func(*Governor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Governor) {
		g.logger = l
	}
}

// WithClock sets the time source used for date keys.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// NewGovernor creates a governor over store with the configured limits.
func NewGovernor(store UsageStore, cfg config.BudgetConfig, opts ...Option) *Governor {
	g := &Governor{
		store:       store,
		taskLimits:  copyLimits(cfg.TaskLimits),
		modelLimits: copyLimits(cfg.ModelLimits),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Today returns the current UTC date key.
func (g *Governor) Today() string {
	return g.now().UTC().Format(DateLayout)
}

// Check reports whether cost more calls of task on model fit today's quotas.
// A store failure denies the call.
func (g *Governor) Check(ctx context.Context, task, model string, cost int64) Decision {
	if g.IsGlobalLimitDisabled(ctx) {
		return Decision{Allowed: true, Reason: "global limits disabled"}
	}
	qerr, err := g.quota(ctx, task, model, cost)
	if err != nil {
		g.logger.Warn("budget check failed", zap.String("task", task), zap.String("model", model), zap.Error(err))
		return Decision{Allowed: false, Reason: "budget store unavailable: " + err.Error()}
	}
	if qerr != nil {
		return Decision{Allowed: false, Reason: qerr.Error()}
	}
	return Decision{Allowed: true}
}

// Preflight checks an estimated number of calls up front. It returns a
// *QuotaError when they would not fit.
func (g *Governor) Preflight(ctx context.Context, task, model string, calls int) error {
	if calls <= 0 || g.IsGlobalLimitDisabled(ctx) {
		return nil
	}
	qerr, err := g.quota(ctx, task, model, int64(calls))
	if err != nil {
		return fmt.Errorf("budget preflight: %w", err)
	}
	if qerr != nil {
		return qerr
	}
	return nil
}

func (g *Governor) quota(ctx context.Context, task, model string, cost int64) (*QuotaError, error) {
	day := g.Today()
	if limit, ok := g.taskLimits[task]; ok && task != "" {
		used, err := g.store.GetTaskUsage(ctx, day, task)
		if err != nil {
			return nil, err
		}
		if used+cost > limit {
			return &QuotaError{Scope: "task", Task: task, Model: model, Current: used, Requested: cost, Limit: limit}, nil
		}
	}
	if limit, ok := g.modelLimits[model]; ok && model != "" {
		used, err := g.store.GetModelUsage(ctx, day, model)
		if err != nil {
			return nil, err
		}
		if used+cost > limit {
			return &QuotaError{Scope: "model", Task: task, Model: model, Current: used, Requested: cost, Limit: limit}, nil
		}
	}
	return nil, nil
}

// Charge records usage with atomic increments on the task and model counters.
func (g *Governor) Charge(ctx context.Context, c Charge) error {
	if c.Cost <= 0 {
		c.Cost = 1
	}
	u := models.BudgetUsage{
		Date:      g.Today(),
		Task:      c.Task,
		Provider:  c.Provider,
		Model:     c.Model,
		Requests:  c.Cost,
		TokensIn:  c.TokensIn,
		TokensOut: c.TokensOut,
	}
	if c.Task != "" {
		if err := g.store.IncrementTaskUsage(ctx, u); err != nil {
			return fmt.Errorf("charge task usage: %w", err)
		}
	}
	if c.Model != "" {
		if err := g.store.IncrementModelUsage(ctx, u); err != nil {
			return fmt.Errorf("charge model usage: %w", err)
		}
	}
	return nil
}

// ModelUsage returns today's request count for model across tasks.
func (g *Governor) ModelUsage(ctx context.Context, model string) (int64, error) {
	return g.store.GetModelUsage(ctx, g.Today(), model)
}

// Usage lists counters for date, or today when date is empty.
func (g *Governor) Usage(ctx context.Context, date string) ([]*models.BudgetUsage, error) {
	if date == "" {
		date = g.Today()
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", models.ErrInvalidInput, date)
	}
	return g.store.ListUsage(ctx, date)
}

// IsGlobalLimitDisabled reports the admin override, reading the store only on
// first use. A read failure is treated as not disabled and retried next time.
func (g *Governor) IsGlobalLimitDisabled(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bypass.cached == nil {
		raw, ok, err := g.store.GetSetting(ctx, BypassSettingKey)
		if err != nil {
			g.logger.Warn("failed to read budget bypass setting", zap.Error(err))
			return false
		}
		v := false
		if ok {
			v, _ = strconv.ParseBool(raw)
		}
		g.bypass.cached = &v
	}
	disabled := *g.bypass.cached
	if disabled && !g.bypass.loggedOnce {
		g.bypass.loggedOnce = true
		g.logger.Warn("budget limits are globally disabled; all checks pass")
	}
	return disabled
}

// SetGlobalLimitDisabled writes the override and refreshes the cache.
func (g *Governor) SetGlobalLimitDisabled(ctx context.Context, disabled bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.SetSetting(ctx, BypassSettingKey, strconv.FormatBool(disabled)); err != nil {
		return fmt.Errorf("set budget bypass: %w", err)
	}
	g.bypass.cached = &disabled
	return nil
}

func copyLimits(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		if v >= 0 {
			out[k] = v
		}
	}
	return out
}
