package eventsourcing

import (
	"context"
)

// HydrateHandler applies one concrete event type during replay.
type HydrateHandler interface {
	NewEvent() Event
	Apply(ctx context.Context, event Event)
}

type genericHydrateHandler[T Event] struct {
	handleFunc func(ctx context.Context, event T)
}

// NewHydrateHandler creates a HydrateHandler from a typed apply
// function; the event type is inferred from the function argument.
func NewHydrateHandler[T Event](
	handleFunc func(ctx context.Context, event T),
) HydrateHandler {
	return &genericHydrateHandler[T]{
		handleFunc: handleFunc,
	}
}

func (c genericHydrateHandler[T]) NewEvent() Event {
	tVar := new(T)
	return *tVar
}

func (c genericHydrateHandler[T]) Apply(ctx context.Context, e Event) {
	event := e.(T)
	c.handleFunc(ctx, event)
}

// Hydrate builds an apply-event function that routes each event to the
// handler registered for its type. Events with no handler are ignored;
// replay tolerates event types an aggregate no longer cares about.
func Hydrate(handlers ...HydrateHandler) func(ctx context.Context, ev Event) {
	eventHandlers := make(map[string]HydrateHandler, len(handlers))

	for _, handler := range handlers {
		eventHandlers[handler.NewEvent().EventType()] = handler
	}

	return func(ctx context.Context, ev Event) {
		if handler, ok := eventHandlers[ev.EventType()]; ok {
			handler.Apply(ctx, ev)
		}
	}
}
