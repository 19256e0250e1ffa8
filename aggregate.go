package eventsourcing

import (
	"context"
)

// Aggregate is the interface all event-sourced aggregates implement.
// An aggregate is reconstructed by folding its stream through
// ApplyEvent in ascending version order; command handling appends to
// the uncommitted buffer without touching stored state.
type Aggregate interface {

	// EntityID returns the unique identifier of the aggregate.
	EntityID() string

	// AggregateVersion returns the number of persisted events applied.
	AggregateVersion() uint64

	// SetAggregateVersion sets the version of the aggregate.
	SetAggregateVersion(version uint64)

	// ApplyEvent folds one previously recorded event into the state.
	ApplyEvent(ctx context.Context, event Event)

	// UncommittedEvents returns the not-yet-persisted envelopes in the
	// order they were appended.
	UncommittedEvents() []Envelope

	// ClearUncommittedEvents drops the pending buffer. Called by the
	// repository only after a successful persist.
	ClearUncommittedEvents()

	// AppendEvent records a new event in the pending buffer.
	AppendEvent(event Event, options ...EventOption)
}

// EventOption customizes the envelope built around a freshly appended
// event.
type EventOption func(*Envelope)

// WithMetadata adds a header to the appended event's envelope.
func WithMetadata(key string, value any) EventOption {
	return func(env *Envelope) {
		env.Metadata[key] = value
	}
}

// AggregateBase supplies identity, version tracking and the pending
// event buffer. Domain aggregates embed it and implement ApplyEvent.
type AggregateBase struct {
	id     string
	v      uint64
	events []Envelope
}

// NewAggregateBase creates an empty aggregate at version 0.
func NewAggregateBase(id string) *AggregateBase {
	return &AggregateBase{
		id:     id,
		events: make([]Envelope, 0),
	}
}

func (a *AggregateBase) EntityID() string {
	return a.id
}

func (a *AggregateBase) AggregateVersion() uint64 {
	return a.v
}

func (a *AggregateBase) SetAggregateVersion(v uint64) {
	a.v = v
}

func (a *AggregateBase) UncommittedEvents() []Envelope {
	return a.events
}

func (a *AggregateBase) ClearUncommittedEvents() {
	a.events = nil
}

// AppendEvent wraps the event in an envelope versioned directly after
// the current head of the pending buffer. EventID and OccurredAt are
// left for the decorator pipeline to assign at persist time unless an
// option sets them.
func (a *AggregateBase) AppendEvent(event Event, options ...EventOption) {
	envelope := Envelope{
		StreamID: a.id,
		Metadata: make(map[string]any),
		Event:    event,
		Version:  a.v + uint64(len(a.events)) + 1,
	}

	for _, option := range options {
		option(&envelope)
	}

	a.events = append(a.events, envelope)
}
