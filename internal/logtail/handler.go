package logtail

import (
	"context"
	"log/slog"
	"strings"
)

// lineWriter publishes each write as one line. slog handlers emit a record per Write.
type lineWriter struct{ b *Broadcaster }

func (w lineWriter) Write(p []byte) (int, error) {
	w.b.Publish(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Handler forwards records to an inner handler and tees them, text formatted, to a
// Broadcaster.
type Handler struct {
	inner slog.Handler
	tail  slog.Handler
}

// NewHandler wraps inner. The tail copy uses level as its minimum.
func NewHandler(inner slog.Handler, b *Broadcaster, level slog.Leveler) *Handler {
	return &Handler{
		inner: inner,
		tail:  slog.NewTextHandler(lineWriter{b}, &slog.HandlerOptions{Level: level}),
	}
}

func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l) || h.tail.Enabled(ctx, l)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.tail.Enabled(ctx, r.Level) {
		_ = h.tail.Handle(ctx, r.Clone())
	}
	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs), tail: h.tail.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), tail: h.tail.WithGroup(name)}
}
