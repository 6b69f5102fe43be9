package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldMessageID is the standardized structured logging key for message identifiers.
	FieldMessageID = "message_id"
	// FieldPeer is the standardized structured logging key for the remote peer address.
	FieldPeer = "peer"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType names the event a line describes (message_sent, tor_bootstrapped, ...).
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step an operator should try.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
	// FieldAlert flags warnings or anomalies that should stand out in structured logs.
	FieldAlert = "alert"
)

type contextKey int

const (
	messageIDKey contextKey = iota
	peerKey
	requestIDKey
)

// WithMessageID annotates ctx with a message identifier.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, messageIDKey, id)
}

// WithPeer annotates ctx with a peer address.
func WithPeer(ctx context.Context, peer string) context.Context {
	return context.WithValue(ctx, peerKey, peer)
}

// WithRequestID annotates ctx with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	for _, entry := range []struct {
		key   contextKey
		field string
	}{
		{messageIDKey, FieldMessageID},
		{peerKey, FieldPeer},
		{requestIDKey, FieldCorrelationID},
	} {
		if value, ok := ctx.Value(entry.key).(string); ok && value != "" {
			fields = append(fields, slog.String(entry.field, value))
		}
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
