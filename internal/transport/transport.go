// Package transport abstracts the messaging channel. Connection lifecycle,
// pairing, and protocol framing live behind the gateway; this core only
// lists chats, lists messages, and sends text.
package transport

import (
	"context"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// Transport is the messaging collaborator consumed by the monitor and the
// response pipeline. All calls are context-bounded; a timeout is a
// transient failure, not a crash.
type Transport interface {
	// ListChats returns the account's chats.
	ListChats(ctx context.Context, accountID int64) ([]protocol.ChatSummary, error)
	// ListMessages returns recent messages for a chat, oldest first.
	ListMessages(ctx context.Context, accountID int64, chatID string) ([]protocol.InboundMessage, error)
	// Send delivers text to a chat.
	Send(ctx context.Context, accountID int64, chatID, text string) error
}
