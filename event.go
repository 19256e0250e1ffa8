package eventsourcing

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event describing a change that has happened to an
// aggregate. The aggregate identity is an opaque string value; equality
// is by encoded value and it round-trips exactly through its string
// form.
type Event interface {
	AggregateID() string
	EventType() string
}

// Envelope wraps an Event with the metadata needed to persist, replay
// and route it. Metadata headers are additive only: decorators and
// store adapters may add keys but must never remove or rewrite a key
// set earlier in the pipeline.
type Envelope struct {
	EventID  uuid.UUID
	StreamID string
	Metadata map[string]any
	Event    Event

	// Version is the per-stream position, 1-based and gap-free.
	Version uint64

	// GlobalVersion is the store-assigned position across all streams.
	// Zero until the envelope has been persisted.
	GlobalVersion uint64

	OccurredAt time.Time
}

// Metadata header keys owned by the standard decorators.
const (
	MetaCausationID   = "causationId"
	MetaCorrelationID = "correlationId"
)

// CloneMetadata returns a shallow copy of the envelope metadata, never
// nil. Decorators use it to stay pure: the input envelope's map is left
// untouched.
func CloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
