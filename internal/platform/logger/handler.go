package logger

import (
	"context"
	"log/slog"
)

// ContextHandler is a slog.Handler that adds the request and job IDs stored
// in the record's context.
type ContextHandler struct {
	handler slog.Handler
}

// NewContextHandler wraps handler.
func NewContextHandler(handler slog.Handler) *ContextHandler {
	return &ContextHandler{handler: handler}
}

// Enabled implements the slog.Handler interface.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// WithAttrs implements the slog.Handler interface.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{handler: h.handler.WithAttrs(attrs)}
}

// WithGroup implements the slog.Handler interface.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{handler: h.handler.WithGroup(name)}
}

// Handle implements the slog.Handler interface.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if id := RequestID(ctx); id != "" {
			record = record.Clone()
			record.AddAttrs(slog.String("request_id", id))
		}
		if id := JobID(ctx); id != "" && !hasAttr(record, "job_id") {
			record = record.Clone()
			record.AddAttrs(slog.String("job_id", id))
		}
	}
	return h.handler.Handle(ctx, record)
}

func hasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
