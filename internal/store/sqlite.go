package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for tests and shutdown.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id           TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			role         TEXT NOT NULL DEFAULT '',
			department   TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL DEFAULT 'active'
		);

		CREATE TABLE IF NOT EXISTS chat_assignments (
			id                TEXT PRIMARY KEY,
			chat_id           TEXT NOT NULL,
			account_id        INTEGER NOT NULL,
			assigned_agent_id TEXT NOT NULL,
			assigned_by_id    TEXT NOT NULL DEFAULT '',
			category          TEXT NOT NULL DEFAULT '',
			status            TEXT NOT NULL DEFAULT 'active',
			notes             TEXT NOT NULL DEFAULT '',
			assigned_at       TEXT NOT NULL,
			last_activity_at  TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS uq_assignments_active
			ON chat_assignments(chat_id, account_id) WHERE status = 'active';
		CREATE INDEX IF NOT EXISTS idx_assignments_chat
			ON chat_assignments(chat_id, account_id);
		CREATE INDEX IF NOT EXISTS idx_assignments_agent
			ON chat_assignments(assigned_agent_id, status);

		CREATE TABLE IF NOT EXISTS account_configs (
			account_id             INTEGER PRIMARY KEY,
			responder_id           TEXT NOT NULL DEFAULT '',
			enabled                INTEGER NOT NULL DEFAULT 0,
			response_delay_seconds INTEGER NOT NULL DEFAULT 3,
			fallback_message       TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS processed_markers (
			account_id  INTEGER NOT NULL,
			chat_id     TEXT NOT NULL,
			message_key TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (account_id, chat_id)
		);

		CREATE TABLE IF NOT EXISTS response_jobs (
			id          TEXT PRIMARY KEY,
			account_id  INTEGER NOT NULL,
			chat_id     TEXT NOT NULL,
			message_key TEXT NOT NULL,
			attempts    INTEGER NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_account ON response_jobs(account_id, finished_at);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// --- Agent directory ---

func (s *SQLiteStore) PutAgent(a protocol.Agent) error {
	_, err := s.db.Exec(`
		INSERT INTO agents (id, display_name, role, department, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name=excluded.display_name, role=excluded.role,
			department=excluded.department, status=excluded.status
	`, a.ID, a.DisplayName, a.Role, a.Department, string(a.Status))
	if err != nil {
		return fmt.Errorf("store: put agent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAgent(id string) (*protocol.Agent, error) {
	row := s.db.QueryRow(`SELECT id, display_name, role, department, status FROM agents WHERE id = ?`, id)
	var a protocol.Agent
	var status string
	if err := row.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Department, &status); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: agent %q: %w", id, ErrAgentNotFound)
		}
		return nil, fmt.Errorf("store: get agent: %w", err)
	}
	a.Status = protocol.AgentStatus(status)
	return &a, nil
}

func (s *SQLiteStore) ListAgents() ([]protocol.Agent, error) {
	rows, err := s.db.Query(`SELECT id, display_name, role, department, status FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer rows.Close()

	var agents []protocol.Agent
	for rows.Next() {
		var a protocol.Agent
		var status string
		if err := rows.Scan(&a.ID, &a.DisplayName, &a.Role, &a.Department, &status); err != nil {
			return nil, fmt.Errorf("store: list agents scan: %w", err)
		}
		a.Status = protocol.AgentStatus(status)
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// --- Assignments ---

const assignmentCols = `id, chat_id, account_id, assigned_agent_id, assigned_by_id, category, status, notes, assigned_at, last_activity_at`

func (s *SQLiteStore) GetActive(chatID string, accountID int64) (*protocol.ChatAssignment, error) {
	row := s.db.QueryRow(`SELECT `+assignmentCols+` FROM chat_assignments
		WHERE chat_id = ? AND account_id = ? AND status = 'active'`, chatID, accountID)
	a, err := scanAssignment(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get active: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) History(chatID string, accountID int64) ([]*protocol.ChatAssignment, error) {
	rows, err := s.db.Query(`SELECT `+assignmentCols+` FROM chat_assignments
		WHERE chat_id = ? AND account_id = ? ORDER BY assigned_at DESC, id`, chatID, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []*protocol.ChatAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("store: history scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ActiveCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT assigned_agent_id, COUNT(*) FROM chat_assignments
		WHERE status = 'active' GROUP BY assigned_agent_id`)
	if err != nil {
		return nil, fmt.Errorf("store: active counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agentID string
		var n int
		if err := rows.Scan(&agentID, &n); err != nil {
			return nil, fmt.Errorf("store: active counts scan: %w", err)
		}
		counts[agentID] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) UpdateAssignment(a *protocol.ChatAssignment) error {
	_, err := s.db.Exec(`UPDATE chat_assignments SET
			assigned_agent_id = ?, assigned_by_id = ?, category = ?, status = ?,
			notes = ?, last_activity_at = ?
		WHERE id = ?`,
		a.AssignedAgentID, a.AssignedByID, a.Category, string(a.Status),
		a.Notes, a.LastActivityAt.Format(time.RFC3339), a.ID)
	if err != nil {
		return fmt.Errorf("store: update assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReplaceActive(next *protocol.ChatAssignment) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: replace active: %w", err)
	}
	defer tx.Rollback()

	// Transfer is not termination: the prior record stays as history.
	_, err = tx.Exec(`UPDATE chat_assignments SET status = 'transferred', last_activity_at = ?
		WHERE chat_id = ? AND account_id = ? AND status = 'active'`,
		next.AssignedAt.Format(time.RFC3339), next.ChatID, next.AccountID)
	if err != nil {
		return fmt.Errorf("store: transfer prior: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO chat_assignments (`+assignmentCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		next.ID, next.ChatID, next.AccountID, next.AssignedAgentID, next.AssignedByID,
		next.Category, string(next.Status), next.Notes,
		next.AssignedAt.Format(time.RFC3339), next.LastActivityAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("store: replace active: %w", ErrActiveExists)
		}
		return fmt.Errorf("store: insert active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("store: replace active: %w", ErrActiveExists)
		}
		return fmt.Errorf("store: replace active commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CloseActive(chatID string, accountID int64, notes string, at time.Time) error {
	query := `UPDATE chat_assignments SET status = 'closed', last_activity_at = ?`
	args := []any{at.Format(time.RFC3339)}
	if notes != "" {
		query += `, notes = ?`
		args = append(args, notes)
	}
	query += ` WHERE chat_id = ? AND account_id = ? AND status = 'active'`
	args = append(args, chatID, accountID)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("store: close active: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchActive(chatID string, accountID int64, at time.Time) error {
	_, err := s.db.Exec(`UPDATE chat_assignments SET last_activity_at = ?
		WHERE chat_id = ? AND account_id = ? AND status = 'active'`,
		at.Format(time.RFC3339), chatID, accountID)
	if err != nil {
		return fmt.Errorf("store: touch active: %w", err)
	}
	return nil
}

// --- Account configs ---

func (s *SQLiteStore) GetAccountConfig(accountID int64) (*protocol.AccountConfig, error) {
	row := s.db.QueryRow(`SELECT account_id, responder_id, enabled, response_delay_seconds, fallback_message
		FROM account_configs WHERE account_id = ?`, accountID)
	var cfg protocol.AccountConfig
	var enabled int
	if err := row.Scan(&cfg.AccountID, &cfg.ResponderID, &enabled, &cfg.ResponseDelaySeconds, &cfg.FallbackMessage); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get account config: %w", err)
	}
	cfg.Enabled = enabled != 0
	return &cfg, nil
}

func (s *SQLiteStore) SaveAccountConfig(cfg protocol.AccountConfig) error {
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO account_configs (account_id, responder_id, enabled, response_delay_seconds, fallback_message)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			responder_id=excluded.responder_id, enabled=excluded.enabled,
			response_delay_seconds=excluded.response_delay_seconds,
			fallback_message=excluded.fallback_message
	`, cfg.AccountID, cfg.ResponderID, enabled, cfg.ResponseDelaySeconds, cfg.FallbackMessage)
	if err != nil {
		return fmt.Errorf("store: save account config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAccountConfigs() ([]protocol.AccountConfig, error) {
	rows, err := s.db.Query(`SELECT account_id, responder_id, enabled, response_delay_seconds, fallback_message
		FROM account_configs ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("store: list account configs: %w", err)
	}
	defer rows.Close()

	var out []protocol.AccountConfig
	for rows.Next() {
		var cfg protocol.AccountConfig
		var enabled int
		if err := rows.Scan(&cfg.AccountID, &cfg.ResponderID, &enabled, &cfg.ResponseDelaySeconds, &cfg.FallbackMessage); err != nil {
			return nil, fmt.Errorf("store: list account configs scan: %w", err)
		}
		cfg.Enabled = enabled != 0
		out = append(out, cfg)
	}
	return out, rows.Err()
}

// --- Processed markers ---

func (s *SQLiteStore) LastProcessedKey(accountID int64, chatID string) (string, error) {
	row := s.db.QueryRow(`SELECT message_key FROM processed_markers WHERE account_id = ? AND chat_id = ?`,
		accountID, chatID)
	var key string
	if err := row.Scan(&key); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("store: last processed key: %w", err)
	}
	return key, nil
}

func (s *SQLiteStore) SetLastProcessedKey(accountID int64, chatID, key string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO processed_markers (account_id, chat_id, message_key, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, chat_id) DO UPDATE SET
			message_key=excluded.message_key, updated_at=excluded.updated_at
	`, accountID, chatID, key, at.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: set last processed key: %w", err)
	}
	return nil
}

// --- Job archive ---

func (s *SQLiteStore) ArchiveJob(job *protocol.ResponseJob, finishedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO response_jobs (id, account_id, chat_id, message_key, attempts, status, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			attempts=excluded.attempts, status=excluded.status,
			error=excluded.error, finished_at=excluded.finished_at
	`, job.ID, job.AccountID, job.ChatID, job.MessageKey, job.Attempts, string(job.Status),
		job.Error, job.CreatedAt.Format(time.RFC3339), finishedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("store: archive job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListArchivedJobs(accountID int64, limit int) ([]*protocol.ResponseJob, error) {
	query := `SELECT id, account_id, chat_id, message_key, attempts, status, error, created_at
		FROM response_jobs WHERE account_id = ? ORDER BY finished_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: list archived jobs: %w", err)
	}
	defer rows.Close()

	var out []*protocol.ResponseJob
	for rows.Next() {
		var j protocol.ResponseJob
		var status, createdAt string
		if err := rows.Scan(&j.ID, &j.AccountID, &j.ChatID, &j.MessageKey, &j.Attempts, &status, &j.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("store: list archived jobs scan: %w", err)
		}
		j.Status = protocol.JobStatus(status)
		j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &j)
	}
	return out, rows.Err()
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssignment(r rowScanner) (*protocol.ChatAssignment, error) {
	var a protocol.ChatAssignment
	var status, assignedAt, lastActivity string
	err := r.Scan(&a.ID, &a.ChatID, &a.AccountID, &a.AssignedAgentID, &a.AssignedByID,
		&a.Category, &status, &a.Notes, &assignedAt, &lastActivity)
	if err != nil {
		return nil, err
	}
	a.Status = protocol.AssignmentStatus(status)
	a.AssignedAt, _ = time.Parse(time.RFC3339, assignedAt)
	a.LastActivityAt, _ = time.Parse(time.RFC3339, lastActivity)
	return &a, nil
}
