// Package assign implements chat-to-agent assignment: manual assignment,
// workload-based auto-assignment, and assignment lifecycle.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/clock"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/events"
	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// maxConflictRetries bounds the read-modify-write loop when concurrent
// assigns race on the same chat.
const maxConflictRetries = 3

// Options carries the optional fields of an assign call.
type Options struct {
	Category      string
	Notes         string
	ForceReassign bool
}

// Engine creates, transfers, and closes chat assignments.
type Engine struct {
	assignments store.AssignmentStore
	dir         store.AgentDirectory
	clock       clock.Clock
	logger      *slog.Logger
	bus         *events.Bus
}

// NewEngine creates an assignment engine.
func NewEngine(assignments store.AssignmentStore, dir store.AgentDirectory, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Engine{
		assignments: assignments,
		dir:         dir,
		clock:       clk,
		logger:      logger,
	}
}

// BindEvents attaches the event bus; nil keeps the engine silent.
func (e *Engine) BindEvents(bus *events.Bus) {
	e.bus = bus
}

func (e *Engine) emit(t events.Type, chatID string, accountID int64, agentID string) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(context.Background(), events.Event{
		Type:      t,
		AccountID: accountID,
		ChatID:    chatID,
		AgentID:   agentID,
	})
}

// Assign binds a chat to an agent. If an active assignment exists and
// ForceReassign is false it is updated in place; otherwise the prior record
// is marked transferred and a new active record is inserted. assignedBy is
// the operator who made the call, empty for automatic assignment.
func (e *Engine) Assign(chatID string, accountID int64, agentID, assignedBy string, opts Options) (*protocol.ChatAssignment, error) {
	if _, err := e.dir.GetAgent(agentID); err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		current, err := e.assignments.GetActive(chatID, accountID)
		if err != nil {
			return nil, fmt.Errorf("assign: %w", err)
		}

		now := e.clock.Now()
		if current != nil && !opts.ForceReassign {
			current.AssignedAgentID = agentID
			if assignedBy != "" {
				current.AssignedByID = assignedBy
			}
			if opts.Category != "" {
				current.Category = opts.Category
			}
			if opts.Notes != "" {
				current.Notes = opts.Notes
			}
			current.LastActivityAt = now
			if err := e.assignments.UpdateAssignment(current); err != nil {
				return nil, fmt.Errorf("assign: %w", err)
			}
			e.logger.Info("assignment updated", "chat", chatID, "account", accountID, "agent", agentID)
			e.emit(events.ChatAssigned, chatID, accountID, agentID)
			return current, nil
		}

		next := &protocol.ChatAssignment{
			ID:              uuid.NewString(),
			ChatID:          chatID,
			AccountID:       accountID,
			AssignedAgentID: agentID,
			AssignedByID:    assignedBy,
			Category:        opts.Category,
			Status:          protocol.AssignmentActive,
			Notes:           opts.Notes,
			AssignedAt:      now,
			LastActivityAt:  now,
		}
		err = e.assignments.ReplaceActive(next)
		if err == nil {
			e.logger.Info("assignment created", "chat", chatID, "account", accountID, "agent", agentID, "force", opts.ForceReassign)
			e.emit(events.ChatAssigned, chatID, accountID, agentID)
			return next, nil
		}
		if !errors.Is(err, store.ErrActiveExists) {
			return nil, fmt.Errorf("assign: %w", err)
		}
		// A concurrent assign won the race; re-read and retry.
		lastErr = err
	}
	return nil, fmt.Errorf("assign: %w", lastErr)
}

// AutoAssign selects the active agent with the fewest active chats and
// assigns the chat to it. Returns (nil, nil) when no eligible agent exists.
// An existing manual assignment is never overwritten.
func (e *Engine) AutoAssign(chatID string, accountID int64, category string) (*protocol.ChatAssignment, error) {
	current, err := e.assignments.GetActive(chatID, accountID)
	if err != nil {
		return nil, fmt.Errorf("auto assign: %w", err)
	}
	if current != nil && current.Manual() {
		// Manual assignment takes precedence over automatic assignment.
		return current, nil
	}

	workloads, err := Workloads(e.assignments, e.dir)
	if err != nil {
		return nil, fmt.Errorf("auto assign: %w", err)
	}
	agentID := leastLoaded(workloads)
	if agentID == "" {
		e.logger.Warn("no eligible agent for auto-assignment", "chat", chatID, "account", accountID)
		return nil, nil
	}

	return e.Assign(chatID, accountID, agentID, "", Options{Category: category})
}

// Close marks the chat's active assignment closed. Closing an already-closed
// chat is a no-op success.
func (e *Engine) Close(chatID string, accountID int64, notes string) error {
	if err := e.assignments.CloseActive(chatID, accountID, notes, e.clock.Now()); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	e.emit(events.ChatClosed, chatID, accountID, "")
	return nil
}

// GetActive returns the current active assignment or nil.
func (e *Engine) GetActive(chatID string, accountID int64) (*protocol.ChatAssignment, error) {
	return e.assignments.GetActive(chatID, accountID)
}

// Touch bumps last_activity_at on the active assignment; no-op if none.
func (e *Engine) Touch(chatID string, accountID int64) error {
	return e.assignments.TouchActive(chatID, accountID, e.clock.Now())
}

// Workloads returns the engine's current per-agent active-chat counts.
func (e *Engine) Workloads() (map[string]int, error) {
	return Workloads(e.assignments, e.dir)
}
