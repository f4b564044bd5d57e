package store

import (
	"errors"
	"time"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// ErrAgentNotFound is returned when an agent ID does not resolve in the directory.
var ErrAgentNotFound = errors.New("agent not found")

// ErrActiveExists is returned when inserting an active assignment would
// violate the one-active-per-chat constraint. Callers resolve it by
// re-reading and retrying, not by surfacing it.
var ErrActiveExists = errors.New("active assignment already exists")

// AgentDirectory is the read-only view of agents.
type AgentDirectory interface {
	// GetAgent returns the agent or ErrAgentNotFound.
	GetAgent(id string) (*protocol.Agent, error)
	// ListAgents returns all agents, active and inactive.
	ListAgents() ([]protocol.Agent, error)
}

// AssignmentStore persists chat assignment history.
type AssignmentStore interface {
	// GetActive returns the active assignment for the chat, or nil if none.
	GetActive(chatID string, accountID int64) (*protocol.ChatAssignment, error)
	// History returns all assignment records for the chat, newest first.
	History(chatID string, accountID int64) ([]*protocol.ChatAssignment, error)
	// ActiveCounts returns agentID → number of active assignments.
	ActiveCounts() (map[string]int, error)
	// UpdateAssignment rewrites a record's mutable fields by ID.
	UpdateAssignment(a *protocol.ChatAssignment) error
	// ReplaceActive atomically marks any current active record for the
	// chat as transferred and inserts next as the new active record.
	// Returns ErrActiveExists if a concurrent writer won the race.
	ReplaceActive(next *protocol.ChatAssignment) error
	// CloseActive marks the active record closed. Closing a chat with no
	// active record is a no-op.
	CloseActive(chatID string, accountID int64, notes string, at time.Time) error
	// TouchActive bumps last_activity_at on the active record, if any.
	TouchActive(chatID string, accountID int64, at time.Time) error
}

// AccountStore persists per-account auto-response configuration.
type AccountStore interface {
	// GetAccountConfig returns the stored config, or nil if the account
	// has never been configured.
	GetAccountConfig(accountID int64) (*protocol.AccountConfig, error)
	// SaveAccountConfig upserts the config.
	SaveAccountConfig(cfg protocol.AccountConfig) error
	// ListAccountConfigs returns all stored configs.
	ListAccountConfigs() ([]protocol.AccountConfig, error)
}

// MarkerStore persists the per-chat last-processed message markers that
// make inbound detection restart-safe.
type MarkerStore interface {
	LastProcessedKey(accountID int64, chatID string) (string, error)
	SetLastProcessedKey(accountID int64, chatID, key string, at time.Time) error
}

// JobArchive records terminal response jobs for audit.
type JobArchive interface {
	ArchiveJob(job *protocol.ResponseJob, finishedAt time.Time) error
	ListArchivedJobs(accountID int64, limit int) ([]*protocol.ResponseJob, error)
}

// Store is the full persistence surface the daemon wires up.
type Store interface {
	AgentDirectory
	AssignmentStore
	AccountStore
	MarkerStore
	JobArchive

	// PutAgent seeds or updates a directory entry. Administrative; the
	// orchestration core itself never writes agents.
	PutAgent(a protocol.Agent) error
}
