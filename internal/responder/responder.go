// Package responder abstracts the external text-generation backend that
// produces replies. Prompt construction and model selection are the
// backend's concern; this core sends the inbound text and gets a reply.
package responder

import "context"

// Request carries one generation call.
type Request struct {
	ResponderID string `json:"responder_id"`
	AccountID   int64  `json:"account_id"`
	ChatID      string `json:"chat_id"`
	Text        string `json:"text"`
}

// Responder generates a reply for an inbound message. Implementations may
// be slow or unreliable; callers must bound every call with a context
// deadline.
type Responder interface {
	Generate(ctx context.Context, req Request) (string, error)
}
