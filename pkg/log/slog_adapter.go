package log

import (
	"context"
	"log/slog"
)

// SlogAdapter renders protocol events through an slog.Logger at Debug level.
// Error events are raised to Warn so they show with default handlers.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger. A nil logger uses slog.Default().
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := make([]slog.Attr, 0, 10)
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	attrs = append(attrs,
		slog.String("role", event.LocalRole.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	level := slog.LevelDebug
	switch {
	case event.Data != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.Int("size", event.Data.Size),
		)
		if event.Data.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Handshake != nil:
		h := event.Handshake
		attrs = append(attrs, slog.String("outcome", h.Outcome.String()))
		if h.Version != "" {
			attrs = append(attrs, slog.String("version", h.Version))
		}
		if h.CipherSuite != "" {
			attrs = append(attrs, slog.String("cipher", h.CipherSuite))
		}
		if h.ServerName != "" {
			attrs = append(attrs, slog.String("server_name", h.ServerName))
		}
		if h.PeerSubject != "" {
			attrs = append(attrs, slog.String("peer", h.PeerSubject))
		}
		if h.Duration > 0 {
			attrs = append(attrs, slog.Duration("duration", h.Duration))
		}
		if h.Reason != "" {
			attrs = append(attrs, slog.String("reason", h.Reason))
		}
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "hsmlink", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
