package fixtures

import (
	"time"

	"github.com/google/uuid"

	es "github.com/eventfold/eventsourcing"
)

// NewEnvelope wraps an event in a fully populated envelope, ready for a
// direct store.Save without going through the decorator pipeline.
func NewEnvelope(streamID string, event es.Event) es.Envelope {
	return es.Envelope{
		EventID:    uuid.New(),
		StreamID:   streamID,
		Event:      event,
		Metadata:   map[string]any{},
		OccurredAt: time.Now(),
	}
}

// NewEnvelopes builds one envelope per event, all for the same stream.
func NewEnvelopes(streamID string, events ...es.Event) []es.Envelope {
	out := make([]es.Envelope, len(events))
	for i, ev := range events {
		out[i] = NewEnvelope(streamID, ev)
	}
	return out
}
