// Package logbuf keeps the most recent log records in memory so the API
// can serve them without touching disk.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// Buffer retains the newest capacity entries, dropping the oldest first.
type Buffer struct {
	mu   sync.Mutex
	ring []Entry
	cap  int
	next uint64 // total entries written
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	return &Buffer{
		ring: make([]Entry, capacity),
		cap:  capacity,
	}
}

// Write records an entry, evicting the oldest if the buffer is full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.ring[b.next%uint64(b.cap)] = e
	b.next++
	b.mu.Unlock()
}

// Len reports how many entries the buffer currently holds.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held()
}

func (b *Buffer) held() int {
	if b.next < uint64(b.cap) {
		return int(b.next)
	}
	return b.cap
}

// Query returns entries at or above minLevel recorded at or after since,
// oldest first. A zero since matches everything; limit <= 0 means no
// cap, otherwise the newest limit matches are kept.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	held := b.held()
	first := b.next - uint64(held)

	var out []Entry
	for i := 0; i < held; i++ {
		e := b.ring[(first+uint64(i))%uint64(b.cap)]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if ParseLevel(e.Level) < minLevel {
			continue
		}
		out = append(out, e)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ParseLevel maps a level name to its slog.Level. Unknown names rank as
// info so they survive the default filter.
func ParseLevel(name string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
