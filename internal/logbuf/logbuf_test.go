package logbuf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestBufferEvictsOldest(t *testing.T) {
	buf := New(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		buf.Write(Entry{Time: now, Level: "INFO", Attrs: map[string]any{"i": i}})
	}

	if buf.Len() != 3 {
		t.Fatalf("len = %d, want 3", buf.Len())
	}
	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if entries[0].Attrs["i"] != 2 || entries[2].Attrs["i"] != 4 {
		t.Errorf("unexpected window: first=%v last=%v", entries[0].Attrs["i"], entries[2].Attrs["i"])
	}
}

func TestBufferQueryFilters(t *testing.T) {
	buf := New(10)
	now := time.Now()

	buf.Write(Entry{Time: now.Add(-time.Minute), Level: "DEBUG", Message: "old debug"})
	buf.Write(Entry{Time: now, Level: "INFO", Message: "recent info"})
	buf.Write(Entry{Time: now, Level: "ERROR", Message: "recent error"})

	got := buf.Query(now.Add(-time.Second), slog.LevelInfo, 0)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}

	got = buf.Query(time.Time{}, slog.LevelDebug, 1)
	if len(got) != 1 || got[0].Message != "recent error" {
		t.Fatalf("limit should keep the newest entry, got %+v", got)
	}
}

func TestHandlerCapturesComponent(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(NewHandler(inner, buf)).With("component", "monitor")

	logger.Info("tick complete", "account", int64(42))

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.Component != "monitor" {
		t.Errorf("component = %q", e.Component)
	}
	if e.Attrs["account"] != int64(42) {
		t.Errorf("account attr = %v", e.Attrs["account"])
	}
	if _, ok := e.Attrs["component"]; ok {
		t.Error("component should not duplicate into attrs")
	}
}

func TestHandlerStringifiesErrors(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Error("send failed", "error", errors.New("gateway unavailable"))

	entries := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if entries[0].Attrs["error"] != "gateway unavailable" {
		t.Errorf("error attr = %v", entries[0].Attrs["error"])
	}
}

func TestHandlerCapturesBelowInnerLevel(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	h := NewHandler(inner, buf)

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "quiet detail", 0)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if buf.Len() != 1 {
		t.Fatal("debug record should be captured despite inner filter")
	}
}
