package orchestrator

import (
	"fmt"
	"sync"
)

// Guard is the per-chat single-flight lock. A chat is locked while a
// response job for it is in flight; the monitor must acquire before
// creating a job, and the pipeline releases on any terminal outcome.
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[string]struct{})}
}

func guardKey(accountID int64, chatID string) string {
	return fmt.Sprintf("%d/%s", accountID, chatID)
}

// TryAcquire locks the chat. Returns false if a job is already in flight.
func (g *Guard) TryAcquire(accountID int64, chatID string) bool {
	key := guardKey(accountID, chatID)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inFlight[key]; held {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

// Release unlocks the chat regardless of job outcome.
func (g *Guard) Release(accountID int64, chatID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, guardKey(accountID, chatID))
}

// Held reports whether the chat is currently locked.
func (g *Guard) Held(accountID int64, chatID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inFlight[guardKey(accountID, chatID)]
	return held
}
