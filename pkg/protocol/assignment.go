package protocol

import "time"

// AssignmentStatus represents the lifecycle state of a chat assignment.
type AssignmentStatus string

const (
	AssignmentActive      AssignmentStatus = "active"
	AssignmentTransferred AssignmentStatus = "transferred"
	AssignmentClosed      AssignmentStatus = "closed"
)

// ChatAssignment binds a chat to the agent currently responsible for it.
// Records are append-only history: a reassignment marks the prior record
// transferred and inserts a new active one; nothing is physically deleted.
// For a given (chat, account) pair at most one record is active at a time.
type ChatAssignment struct {
	ID              string           `json:"id"`
	ChatID          string           `json:"chat_id"`
	AccountID       int64            `json:"account_id"`
	AssignedAgentID string           `json:"assigned_agent_id"`
	AssignedByID    string           `json:"assigned_by_id,omitempty"`
	Category        string           `json:"category,omitempty"`
	Status          AssignmentStatus `json:"status"`
	Notes           string           `json:"notes,omitempty"`
	AssignedAt      time.Time        `json:"assigned_at"`
	LastActivityAt  time.Time        `json:"last_activity_at"`
}

// Manual reports whether the assignment was made by a human operator.
// Manual assignments are never overwritten by auto-assignment.
func (a *ChatAssignment) Manual() bool {
	return a.AssignedByID != ""
}
