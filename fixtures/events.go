// Package fixtures holds shared test doubles: configurable events,
// envelope builders and a recording dispatcher.
package fixtures

import (
	"fmt"

	es "github.com/eventfold/eventsourcing"
)

// TestEvent is a configurable event implementing the Event interface.
type TestEvent struct {
	ID   string
	Type string
	Data string
}

func (e TestEvent) AggregateID() string { return e.ID }
func (e TestEvent) EventType() string   { return e.Type }

// TestEventBuilder provides a fluent API for constructing test events.
type TestEventBuilder struct {
	id   string
	typ  string
	data string
}

// NewTestEvent creates a builder with sensible defaults.
func NewTestEvent() *TestEventBuilder {
	return &TestEventBuilder{
		id:  "aggregate-1",
		typ: "TestEvent",
	}
}

func (b *TestEventBuilder) WithID(id string) *TestEventBuilder {
	b.id = id
	return b
}

func (b *TestEventBuilder) WithType(typ string) *TestEventBuilder {
	b.typ = typ
	return b
}

func (b *TestEventBuilder) WithData(data string) *TestEventBuilder {
	b.data = data
	return b
}

func (b *TestEventBuilder) Build() TestEvent {
	return TestEvent{ID: b.id, Type: b.typ, Data: b.data}
}

// BuildN creates n events with sequential data.
func (b *TestEventBuilder) BuildN(n int) []es.Event {
	events := make([]es.Event, n)
	for i := 0; i < n; i++ {
		events[i] = TestEvent{
			ID:   b.id,
			Type: b.typ,
			Data: fmt.Sprintf("%s-%d", b.data, i+1),
		}
	}
	return events
}
