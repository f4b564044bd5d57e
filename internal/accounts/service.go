// Package accounts is the per-account auto-response configuration store:
// a write-through cache over persistence. The persisted row is the single
// source of truth; the cache is only updated after a successful write, so
// the two can never diverge silently.
package accounts

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// MonitorControl is the orchestrator surface the service drives when the
// enabled flag flips. Both calls are idempotent.
type MonitorControl interface {
	EnsureMonitor(accountID int64) error
	StopMonitor(accountID int64)
}

// Patch is a partial config update. Nil fields are left unchanged.
type Patch struct {
	ResponderID          *string
	Enabled              *bool
	ResponseDelaySeconds *int
	FallbackMessage      *string
}

// Service manages account auto-response configuration.
type Service struct {
	store  store.AccountStore
	mu     sync.Mutex
	cache  map[int64]protocol.AccountConfig
	ctrl   MonitorControl
	logger *slog.Logger
}

// NewService creates the config service. Monitor control is bound later,
// once the orchestrator exists.
func NewService(st store.AccountStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		cache:  make(map[int64]protocol.AccountConfig),
		logger: logger,
	}
}

// BindMonitors wires the orchestrator in.
func (s *Service) BindMonitors(ctrl MonitorControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = ctrl
}

// Get returns the account's config: cache hit, else load-and-cache from the
// store, else the disabled default.
func (s *Service) Get(accountID int64) (protocol.AccountConfig, error) {
	s.mu.Lock()
	if cfg, ok := s.cache[accountID]; ok {
		s.mu.Unlock()
		return cfg, nil
	}
	s.mu.Unlock()

	stored, err := s.store.GetAccountConfig(accountID)
	if err != nil {
		return protocol.AccountConfig{}, fmt.Errorf("accounts: get %d: %w", accountID, err)
	}
	cfg := protocol.DefaultAccountConfig(accountID)
	if stored != nil {
		cfg = *stored
	}

	s.mu.Lock()
	s.cache[accountID] = cfg
	s.mu.Unlock()
	return cfg, nil
}

// Set applies the patch: the store is written first, and the cache is
// updated only after the write succeeds. On store failure the call fails
// and the cache is untouched. Flipping enabled starts or stops the
// account's monitor.
func (s *Service) Set(accountID int64, patch Patch) (protocol.AccountConfig, error) {
	prev, err := s.Get(accountID)
	if err != nil {
		return protocol.AccountConfig{}, err
	}

	next := prev
	if patch.ResponderID != nil {
		next.ResponderID = *patch.ResponderID
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.ResponseDelaySeconds != nil {
		next.ResponseDelaySeconds = *patch.ResponseDelaySeconds
	}
	if patch.FallbackMessage != nil {
		next.FallbackMessage = *patch.FallbackMessage
	}
	if next.ResponseDelaySeconds <= 0 {
		next.ResponseDelaySeconds = protocol.DefaultResponseDelaySeconds
	}

	if err := s.store.SaveAccountConfig(next); err != nil {
		return protocol.AccountConfig{}, fmt.Errorf("accounts: set %d: %w", accountID, err)
	}

	s.mu.Lock()
	s.cache[accountID] = next
	ctrl := s.ctrl
	s.mu.Unlock()

	if ctrl != nil {
		switch {
		case !prev.Enabled && next.Enabled:
			if err := ctrl.EnsureMonitor(accountID); err != nil {
				return next, fmt.Errorf("accounts: start monitor %d: %w", accountID, err)
			}
			s.logger.Info("auto-response enabled", "account", accountID, "responder", next.ResponderID)
		case prev.Enabled && !next.Enabled:
			ctrl.StopMonitor(accountID)
			s.logger.Info("auto-response disabled", "account", accountID)
		}
	}
	return next, nil
}

// Activate enables auto-response with the given responder.
func (s *Service) Activate(accountID int64, responderID string, delaySeconds int) (protocol.AccountConfig, error) {
	enabled := true
	patch := Patch{Enabled: &enabled, ResponderID: &responderID}
	if delaySeconds > 0 {
		patch.ResponseDelaySeconds = &delaySeconds
	}
	return s.Set(accountID, patch)
}

// Deactivate disables auto-response.
func (s *Service) Deactivate(accountID int64) (protocol.AccountConfig, error) {
	enabled := false
	return s.Set(accountID, Patch{Enabled: &enabled})
}

// Status returns all stored account configs.
func (s *Service) Status() ([]protocol.AccountConfig, error) {
	configs, err := s.store.ListAccountConfigs()
	if err != nil {
		return nil, fmt.Errorf("accounts: status: %w", err)
	}
	return configs, nil
}
