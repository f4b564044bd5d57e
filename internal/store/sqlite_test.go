package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.DB().Close() })
	return s
}

func activeAssignment(id, chatID string, accountID int64, agentID string) *protocol.ChatAssignment {
	now := time.Now().Truncate(time.Second)
	return &protocol.ChatAssignment{
		ID:              id,
		ChatID:          chatID,
		AccountID:       accountID,
		AssignedAgentID: agentID,
		Status:          protocol.AssignmentActive,
		AssignedAt:      now,
		LastActivityAt:  now,
	}
}

func TestPutAndGetAgent(t *testing.T) {
	s := newTestStore(t)

	err := s.PutAgent(protocol.Agent{
		ID:          "a1",
		DisplayName: "Ana",
		Role:        "support",
		Status:      protocol.AgentActive,
	})
	if err != nil {
		t.Fatalf("put agent: %v", err)
	}

	got, err := s.GetAgent("a1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got.DisplayName != "Ana" || got.Status != protocol.AgentActive {
		t.Errorf("unexpected agent: %+v", got)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAgent("ghost")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestReplaceActiveTransfersPrior(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceActive(activeAssignment("as-1", "507@c", 2, "a1")); err != nil {
		t.Fatalf("first replace: %v", err)
	}
	if err := s.ReplaceActive(activeAssignment("as-2", "507@c", 2, "a2")); err != nil {
		t.Fatalf("second replace: %v", err)
	}

	active, err := s.GetActive("507@c", 2)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != "as-2" || active.AssignedAgentID != "a2" {
		t.Errorf("active = %+v", active)
	}

	hist, err := s.History("507@c", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history records, got %d", len(hist))
	}
	var transferred int
	for _, h := range hist {
		if h.Status == protocol.AssignmentTransferred {
			transferred++
		}
	}
	if transferred != 1 {
		t.Errorf("expected 1 transferred record, got %d", transferred)
	}
}

func TestReplaceActiveConflict(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceActive(activeAssignment("as-1", "c1", 1, "a1")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	// Direct insert around ReplaceActive simulates a concurrent writer that
	// won the race after our transfer step saw no active row.
	next := activeAssignment("as-2", "c1", 1, "a2")
	_, err := s.db.Exec(`INSERT INTO chat_assignments (`+assignmentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID, next.ChatID, next.AccountID, next.AssignedAgentID, next.AssignedByID,
		next.Category, string(next.Status), next.Notes,
		next.AssignedAt.Format(time.RFC3339), next.LastActivityAt.Format(time.RFC3339))
	if err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestCloseActiveIdempotent(t *testing.T) {
	s := newTestStore(t)

	if err := s.ReplaceActive(activeAssignment("as-1", "c1", 1, "a1")); err != nil {
		t.Fatalf("replace: %v", err)
	}

	now := time.Now()
	if err := s.CloseActive("c1", 1, "resolved", now); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Closing again is a no-op success.
	if err := s.CloseActive("c1", 1, "", now); err != nil {
		t.Fatalf("second close: %v", err)
	}

	active, err := s.GetActive("c1", 1)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active assignment, got %+v", active)
	}

	hist, _ := s.History("c1", 1)
	if len(hist) != 1 || hist[0].Status != protocol.AssignmentClosed {
		t.Errorf("history = %+v", hist)
	}
	if hist[0].Notes != "resolved" {
		t.Errorf("notes = %q", hist[0].Notes)
	}
}

func TestActiveCounts(t *testing.T) {
	s := newTestStore(t)

	s.ReplaceActive(activeAssignment("as-1", "c1", 1, "a1"))
	s.ReplaceActive(activeAssignment("as-2", "c2", 1, "a1"))
	s.ReplaceActive(activeAssignment("as-3", "c3", 1, "a2"))
	s.CloseActive("c3", 1, "", time.Now())

	counts, err := s.ActiveCounts()
	if err != nil {
		t.Fatalf("active counts: %v", err)
	}
	if counts["a1"] != 2 {
		t.Errorf("a1 count = %d", counts["a1"])
	}
	if counts["a2"] != 0 {
		t.Errorf("a2 count = %d", counts["a2"])
	}
}

func TestTouchActive(t *testing.T) {
	s := newTestStore(t)

	a := activeAssignment("as-1", "c1", 1, "a1")
	a.LastActivityAt = time.Now().Add(-time.Hour).Truncate(time.Second)
	a.AssignedAt = a.LastActivityAt
	s.ReplaceActive(a)

	later := time.Now().Truncate(time.Second)
	if err := s.TouchActive("c1", 1, later); err != nil {
		t.Fatalf("touch: %v", err)
	}

	got, _ := s.GetActive("c1", 1)
	if !got.LastActivityAt.Equal(later) {
		t.Errorf("last activity = %v, want %v", got.LastActivityAt, later)
	}
}

func TestAccountConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	missing, err := s.GetAccountConfig(42)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unconfigured account, got %+v", missing)
	}

	cfg := protocol.AccountConfig{
		AccountID:            42,
		ResponderID:          "R1",
		Enabled:              true,
		ResponseDelaySeconds: 5,
	}
	if err := s.SaveAccountConfig(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetAccountConfig(42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Enabled || got.ResponderID != "R1" || got.ResponseDelaySeconds != 5 {
		t.Errorf("config = %+v", got)
	}

	cfg.Enabled = false
	s.SaveAccountConfig(cfg)
	got, _ = s.GetAccountConfig(42)
	if got.Enabled {
		t.Error("expected disabled after upsert")
	}

	all, err := s.ListAccountConfigs()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 config, got %d", len(all))
	}
}

func TestProcessedMarkers(t *testing.T) {
	s := newTestStore(t)

	key, err := s.LastProcessedKey(2, "507@c")
	if err != nil {
		t.Fatalf("last processed: %v", err)
	}
	if key != "" {
		t.Errorf("expected empty marker, got %q", key)
	}

	now := time.Now()
	if err := s.SetLastProcessedKey(2, "507@c", "507@c:m1", now); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	if err := s.SetLastProcessedKey(2, "507@c", "507@c:m2", now); err != nil {
		t.Fatalf("advance marker: %v", err)
	}

	key, _ = s.LastProcessedKey(2, "507@c")
	if key != "507@c:m2" {
		t.Errorf("marker = %q", key)
	}
}

func TestJobArchive(t *testing.T) {
	s := newTestStore(t)

	job := &protocol.ResponseJob{
		ID:         "j-1",
		AccountID:  7,
		ChatID:     "c9",
		MessageKey: "c9:m3",
		Attempts:   3,
		Status:     protocol.JobFailed,
		Error:      "responder timeout",
		CreatedAt:  time.Now().Truncate(time.Second),
	}
	if err := s.ArchiveJob(job, time.Now()); err != nil {
		t.Fatalf("archive: %v", err)
	}

	jobs, err := s.ListArchivedJobs(7, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Status != protocol.JobFailed || jobs[0].Error != "responder timeout" {
		t.Errorf("job = %+v", jobs[0])
	}

	other, _ := s.ListArchivedJobs(8, 10)
	if len(other) != 0 {
		t.Errorf("expected no jobs for account 8, got %d", len(other))
	}
}
