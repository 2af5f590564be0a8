package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", event.Endpoint))
	}

	switch {
	case event.Operation != nil:
		op := event.Operation
		attrs = append(attrs,
			slog.String("op", op.Kind.String()),
			slog.Duration("duration", op.Duration),
		)
		if op.Address != "" {
			attrs = append(attrs, slog.String("address", op.Address))
		}
		if op.DataType != "" {
			attrs = append(attrs, slog.String("type", op.DataType))
		}
		if op.Size > 0 {
			attrs = append(attrs, slog.Int("size", op.Size))
		}
		if op.Handle != 0 {
			attrs = append(attrs, slog.Uint64("handle", uint64(op.Handle)))
		}
		if op.Failed {
			attrs = append(attrs, slog.Bool("failed", true))
		}
	case event.Notification != nil:
		attrs = append(attrs,
			slog.Uint64("handle", uint64(event.Notification.Handle)),
			slog.String("address", event.Notification.Address),
			slog.Int("size", len(event.Notification.Data)),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
