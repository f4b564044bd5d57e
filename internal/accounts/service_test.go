package accounts

import (
	"errors"
	"testing"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

type fakeAccountStore struct {
	configs map[int64]protocol.AccountConfig
	saveErr error
	gets    int
}

func newFakeAccountStore() *fakeAccountStore {
	return &fakeAccountStore{configs: make(map[int64]protocol.AccountConfig)}
}

func (f *fakeAccountStore) GetAccountConfig(accountID int64) (*protocol.AccountConfig, error) {
	f.gets++
	cfg, ok := f.configs[accountID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (f *fakeAccountStore) SaveAccountConfig(cfg protocol.AccountConfig) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.configs[cfg.AccountID] = cfg
	return nil
}

func (f *fakeAccountStore) ListAccountConfigs() ([]protocol.AccountConfig, error) {
	var out []protocol.AccountConfig
	for _, cfg := range f.configs {
		out = append(out, cfg)
	}
	return out, nil
}

type fakeControl struct {
	started []int64
	stopped []int64
}

func (f *fakeControl) EnsureMonitor(accountID int64) error {
	f.started = append(f.started, accountID)
	return nil
}

func (f *fakeControl) StopMonitor(accountID int64) {
	f.stopped = append(f.stopped, accountID)
}

func TestGetDefault(t *testing.T) {
	svc := NewService(newFakeAccountStore(), nil)

	cfg, err := svc.Get(42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.Enabled {
		t.Error("default config must be disabled")
	}
	if cfg.ResponseDelaySeconds != protocol.DefaultResponseDelaySeconds {
		t.Errorf("delay = %d", cfg.ResponseDelaySeconds)
	}
}

func TestGetCaches(t *testing.T) {
	st := newFakeAccountStore()
	st.configs[7] = protocol.AccountConfig{AccountID: 7, Enabled: true, ResponderID: "R1", ResponseDelaySeconds: 3}
	svc := NewService(st, nil)

	first, _ := svc.Get(7)
	second, _ := svc.Get(7)
	if first != second {
		t.Errorf("cache miss: %+v vs %+v", first, second)
	}
	if st.gets != 1 {
		t.Errorf("expected 1 store read, got %d", st.gets)
	}
}

func TestSetWritesThroughBeforeCache(t *testing.T) {
	st := newFakeAccountStore()
	svc := NewService(st, nil)

	responder := "R1"
	got, err := svc.Set(42, Patch{ResponderID: &responder})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if got.ResponderID != "R1" {
		t.Errorf("config = %+v", got)
	}
	if st.configs[42].ResponderID != "R1" {
		t.Error("store not updated")
	}
}

func TestSetStoreFailureLeavesCache(t *testing.T) {
	st := newFakeAccountStore()
	svc := NewService(st, nil)

	// Prime the cache with the default.
	before, _ := svc.Get(42)

	st.saveErr = errors.New("disk full")
	responder := "R1"
	if _, err := svc.Set(42, Patch{ResponderID: &responder}); err == nil {
		t.Fatal("expected error on store failure")
	}

	after, _ := svc.Get(42)
	if after != before {
		t.Errorf("cache changed after failed write: %+v", after)
	}
}

func TestEnableStartsMonitor(t *testing.T) {
	svc := NewService(newFakeAccountStore(), nil)
	ctrl := &fakeControl{}
	svc.BindMonitors(ctrl)

	if _, err := svc.Activate(42, "R1", 5); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if len(ctrl.started) != 1 || ctrl.started[0] != 42 {
		t.Errorf("started = %v", ctrl.started)
	}

	cfg, _ := svc.Get(42)
	if !cfg.Enabled || cfg.ResponderID != "R1" || cfg.ResponseDelaySeconds != 5 {
		t.Errorf("config = %+v", cfg)
	}

	// Re-activating an enabled account must not flip the monitor again.
	if _, err := svc.Activate(42, "R2", 0); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if len(ctrl.started) != 1 {
		t.Errorf("monitor started twice: %v", ctrl.started)
	}
}

func TestDisableStopsMonitor(t *testing.T) {
	svc := NewService(newFakeAccountStore(), nil)
	ctrl := &fakeControl{}
	svc.BindMonitors(ctrl)

	svc.Activate(42, "R1", 0)
	if _, err := svc.Deactivate(42); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if len(ctrl.stopped) != 1 || ctrl.stopped[0] != 42 {
		t.Errorf("stopped = %v", ctrl.stopped)
	}

	cfg, _ := svc.Get(42)
	if cfg.Enabled {
		t.Error("expected disabled")
	}
	// Responder binding survives deactivation.
	if cfg.ResponderID != "R1" {
		t.Errorf("responder = %q", cfg.ResponderID)
	}
}
