package eventsourcing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const (
	streamIDKey      ctxKey = "streamID"
	eventIDKey       ctxKey = "eventID"
	versionKey       ctxKey = "version"
	globalVersionKey ctxKey = "globalVersion"
	occurredAtKey    ctxKey = "occurredAt"
	metadataKey      ctxKey = "metadata"
	causationKey     ctxKey = "causationID"
	correlationKey   ctxKey = "correlationID"
)

// WithCausationID marks the context with the identifier of the message
// that caused the work currently in flight. The causation decorator
// copies it into every envelope persisted under this context.
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CausationFromContext returns the ambient causation ID or "".
func CausationFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(causationKey).(string); ok {
		return s
	}
	return ""
}

// WithCorrelationID marks the context with the identifier correlating
// all messages of one logical request.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationFromContext returns the ambient correlation ID or "".
func CorrelationFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(correlationKey).(string); ok {
		return s
	}
	return ""
}

// WithEnvelope adds the envelope's fields to the context before a
// handler is invoked, so middleware can log or propagate them without
// threading the envelope through every signature.
func WithEnvelope(ctx context.Context, env *Envelope) context.Context {
	ctx = context.WithValue(ctx, streamIDKey, env.StreamID)
	ctx = context.WithValue(ctx, eventIDKey, env.EventID)
	ctx = context.WithValue(ctx, versionKey, env.Version)
	ctx = context.WithValue(ctx, globalVersionKey, env.GlobalVersion)
	ctx = context.WithValue(ctx, occurredAtKey, env.OccurredAt)
	ctx = context.WithValue(ctx, metadataKey, env.Metadata)
	if c, ok := env.Metadata[MetaCausationID].(string); ok {
		ctx = WithCausationID(ctx, c)
	}
	if c, ok := env.Metadata[MetaCorrelationID].(string); ok {
		ctx = WithCorrelationID(ctx, c)
	}
	return ctx
}

// StreamIDFromContext returns the stream ID or "" if not present.
func StreamIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(streamIDKey).(string); ok {
		return s
	}
	return ""
}

// EventIDFromContext returns the event ID or uuid.Nil if not present.
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// VersionFromContext returns the stream version or 0 if not present.
func VersionFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(versionKey).(uint64); ok {
		return v
	}
	return 0
}

// GlobalVersionFromContext returns the global position or 0 if not present.
func GlobalVersionFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(globalVersionKey).(uint64); ok {
		return v
	}
	return 0
}

// OccurredAtFromContext returns the recording time or the zero time.
func OccurredAtFromContext(ctx context.Context) time.Time {
	if t, ok := ctx.Value(occurredAtKey).(time.Time); ok {
		return t
	}
	return time.Time{}
}

// MetadataFromContext returns the envelope metadata or nil.
func MetadataFromContext(ctx context.Context) map[string]any {
	if md, ok := ctx.Value(metadataKey).(map[string]any); ok {
		return md
	}
	return nil
}
