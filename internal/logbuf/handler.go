package logbuf

import (
	"context"
	"log/slog"
)

// componentKey is the attribute our loggers carry to name their
// subsystem; it is surfaced as a dedicated Entry field.
const componentKey = "component"

// Handler tees slog records into a Buffer while delegating output to an
// inner handler. It captures every level so the buffer can answer debug
// queries even when the inner handler filters them out.
type Handler struct {
	inner slog.Handler
	buf   *Buffer
	bound []slog.Attr
	group string
}

// NewHandler wraps inner so records are also captured into buf.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

func (h *Handler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}

	attrs := make(map[string]any, r.NumAttrs()+len(h.bound))
	for _, a := range h.bound {
		h.capture(&e, attrs, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.capture(&e, attrs, a)
		return true
	})
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.buf.Write(e)

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) capture(e *Entry, attrs map[string]any, a slog.Attr) {
	v := a.Value.Resolve()
	raw := v.Any()
	// Errors marshal to {} otherwise.
	if err, ok := raw.(error); ok {
		raw = err.Error()
	}
	if h.group == "" && a.Key == componentKey {
		if s, ok := raw.(string); ok {
			e.Component = s
			return
		}
	}
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	attrs[key] = raw
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(h.bound)+len(attrs))
	bound = append(bound, h.bound...)
	bound = append(bound, attrs...)
	return &Handler{
		inner: h.inner.WithAttrs(attrs),
		buf:   h.buf,
		bound: bound,
		group: h.group,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{
		inner: h.inner.WithGroup(name),
		buf:   h.buf,
		bound: h.bound,
		group: group,
	}
}
