package protocol

import (
	"fmt"
	"time"
)

// ChatSummary identifies a chat as listed by the messaging transport.
type ChatSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// InboundMessage is a message surfaced by the messaging transport. It is
// transient: this core never stores message bodies, only processed markers.
type InboundMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	AccountID int64     `json:"account_id"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the deduplication key for the message. Equality against the
// stored last-processed key is the only duplicate check the monitor does.
func (m InboundMessage) Key() string {
	return MessageKey(m.ChatID, m.ID)
}

// MessageKey builds the chat-scoped deduplication key for a message ID.
func MessageKey(chatID, messageID string) string {
	return fmt.Sprintf("%s:%s", chatID, messageID)
}
