// Package orchestrator runs auto-response for enabled accounts: one
// polling monitor per account, a per-chat single-flight guard, and the
// generate-and-deliver pipeline. It replaces the competing manager
// singletons of the old backend with a single runtime map keyed by
// account, so starting a monitor twice is a guarded no-op.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/clock"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/transport"
	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// DefaultPollInterval is how often each account's monitor scans for new
// inbound messages.
const DefaultPollInterval = 10 * time.Second

// ConfigSource supplies account auto-response configuration.
type ConfigSource interface {
	Get(accountID int64) (protocol.AccountConfig, error)
	Status() ([]protocol.AccountConfig, error)
}

type accountRuntime struct {
	accountID int64
	entry     cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
}

// Orchestrator owns the per-account monitor runtimes.
type Orchestrator struct {
	mu       sync.Mutex
	monitors map[int64]*accountRuntime
	baseCtx  context.Context

	cron      *cron.Cron
	interval  time.Duration
	configs   ConfigSource
	transport transport.Transport
	pipeline  *Pipeline
	guard     *Guard
	markers   store.MarkerStore
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates an orchestrator. interval <= 0 uses DefaultPollInterval.
func New(configs ConfigSource, tr transport.Transport, pipeline *Pipeline, guard *Guard, markers store.MarkerStore, clk clock.Clock, interval time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Orchestrator{
		monitors:  make(map[int64]*accountRuntime),
		cron:      cron.New(),
		interval:  interval,
		configs:   configs,
		transport: tr,
		pipeline:  pipeline,
		guard:     guard,
		markers:   markers,
		clock:     clk,
		logger:    logger,
	}
}

// Start resumes monitors for accounts enabled in the store, runs the cron
// scheduler, and blocks until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	configs, err := o.configs.Status()
	if err != nil {
		return fmt.Errorf("orchestrator: resume: %w", err)
	}
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := o.EnsureMonitor(cfg.AccountID); err != nil {
			o.logger.Error("failed to resume monitor", "account", cfg.AccountID, "error", err)
		}
	}

	o.cron.Start()
	o.logger.Info("orchestrator started", "interval", o.interval, "monitors", len(configs))

	<-ctx.Done()
	o.cron.Stop()

	o.mu.Lock()
	for id, rt := range o.monitors {
		rt.cancel()
		delete(o.monitors, id)
	}
	o.mu.Unlock()

	o.logger.Info("orchestrator stopped")
	return ctx.Err()
}

// EnsureMonitor starts the account's monitor if it is not already running.
// Idempotent: concurrent activation paths (manual toggle, resume, forced
// re-activation) collapse onto one runtime per account.
func (o *Orchestrator) EnsureMonitor(accountID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, running := o.monitors[accountID]; running {
		return nil
	}

	base := o.baseCtx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	rt := &accountRuntime{accountID: accountID, ctx: ctx, cancel: cancel}

	entry, err := o.cron.AddFunc(fmt.Sprintf("@every %s", o.interval), func() { o.tick(rt) })
	if err != nil {
		cancel()
		return fmt.Errorf("orchestrator: schedule monitor %d: %w", accountID, err)
	}
	rt.entry = entry
	o.monitors[accountID] = rt

	// First pass immediately; cron fires the rest.
	go o.tick(rt)

	o.logger.Info("monitor started", "account", accountID)
	return nil
}

// StopMonitor stops the account's monitor and abandons its in-flight jobs
// by cancelling the account context. Other accounts are untouched.
func (o *Orchestrator) StopMonitor(accountID int64) {
	o.mu.Lock()
	rt, running := o.monitors[accountID]
	if running {
		o.cron.Remove(rt.entry)
		delete(o.monitors, accountID)
	}
	o.mu.Unlock()

	if running {
		rt.cancel()
		o.logger.Info("monitor stopped", "account", accountID)
	}
}

// Running reports whether the account has a monitor.
func (o *Orchestrator) Running(accountID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, running := o.monitors[accountID]
	return running
}

// MonitorCount returns the number of running monitors.
func (o *Orchestrator) MonitorCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.monitors)
}
