package orchestrator

import (
	"context"

	"github.com/PastorStudio/geminiaicrm-sub003/pkg/protocol"
)

// tick is one monitor pass for an account: list chats, find the newest
// inbound message per chat, and enqueue a response job for anything not
// yet processed. A transport failure skips the account until the next
// tick; it never disables the account's configuration or touches other
// accounts.
func (o *Orchestrator) tick(rt *accountRuntime) {
	ctx := rt.ctx
	if ctx.Err() != nil {
		return
	}

	cfg, err := o.configs.Get(rt.accountID)
	if err != nil {
		o.logger.Error("monitor: config lookup failed", "account", rt.accountID, "error", err)
		return
	}
	if !cfg.Enabled {
		return
	}

	chats, err := o.transport.ListChats(ctx, rt.accountID)
	if err != nil {
		o.logger.Warn("monitor: list chats failed, retrying next tick", "account", rt.accountID, "error", err)
		return
	}

	for _, chat := range chats {
		if ctx.Err() != nil {
			return
		}
		o.scanChat(ctx, rt.accountID, chat.ID, cfg)
	}
}

func (o *Orchestrator) scanChat(ctx context.Context, accountID int64, chatID string, cfg protocol.AccountConfig) {
	msgs, err := o.transport.ListMessages(ctx, accountID, chatID)
	if err != nil {
		o.logger.Warn("monitor: list messages failed", "account", accountID, "chat", chatID, "error", err)
		return
	}

	// Messages arrive oldest first; pick the newest one not sent by us.
	var msg *protocol.InboundMessage
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].FromMe {
			msg = &msgs[i]
			break
		}
	}
	if msg == nil {
		return
	}
	msg.AccountID = accountID

	key := msg.Key()
	last, err := o.markers.LastProcessedKey(accountID, chatID)
	if err != nil {
		o.logger.Error("monitor: marker lookup failed", "account", accountID, "chat", chatID, "error", err)
		return
	}
	if key == last {
		return
	}

	if !o.guard.TryAcquire(accountID, chatID) {
		// A response is already in flight for this chat. The marker was
		// not advanced, so the message is re-detected next tick.
		o.logger.Debug("monitor: chat locked, deferring", "account", accountID, "chat", chatID)
		return
	}

	job := o.pipeline.NewJob(*msg)

	// The marker advances only on successful enqueue; a marker write
	// failure drops the job so the message is retried next tick.
	if err := o.markers.SetLastProcessedKey(accountID, chatID, key, o.clock.Now()); err != nil {
		o.guard.Release(accountID, chatID)
		o.logger.Error("monitor: marker write failed, job dropped", "account", accountID, "chat", chatID, "error", err)
		return
	}

	o.logger.Info("inbound message detected", "account", accountID, "chat", chatID, "key", key)
	go o.pipeline.Run(ctx, job, *msg, cfg)
}
