package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Dispatcher delivers newly persisted envelopes to registered
// consumers, in persisted order. Delivery is decoupled from the append:
// by the time Dispatch runs the events are durable, so a returned error
// is reported to the caller but must never be treated as grounds to
// roll back or re-append.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *Envelope) error
}

// EventHandler processes a single event.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed handler for one event type.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the name of the event type T, used for routing.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return &ErrSkippedEvent{Event: event}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly typed EventHandler for events of type T.
// Handlers built with OnEvent can be grouped in an EventGroupProcessor,
// which routes by event type instead of passing every event to every
// handler.
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor routes incoming events to the typed handler
// registered for their type. Events with no handler are skipped.
type EventGroupProcessor struct {
	handlers map[string]EventHandler
}

// NewEventGroupProcessor builds a processor from typed handlers created
// with OnEvent. It panics on a handler without an event name or on two
// handlers for the same event type, since both are wiring mistakes.
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{handlers: m}
}

// Handle routes the event to the handler for its type.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.EventType()]
	if !ok {
		return &ErrSkippedEvent{Event: ev}
	}
	return h.Handle(ctx, ev)
}

// StreamFilter returns the sorted list of event names this group
// handles, usable as a subscription filter.
func (p *EventGroupProcessor) StreamFilter() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type syncSubscriber struct {
	name    string
	handler EventHandler
}

// SyncDispatcher delivers envelopes to subscribers in-line with the
// persist call, in subscription order. Simplest and strongest ordering;
// subscriber latency and failures sit on the write path. Every
// subscriber sees every envelope even when an earlier one fails; the
// failures are joined into the returned error.
type SyncDispatcher struct {
	mu   sync.RWMutex
	subs []syncSubscriber
}

func NewSyncDispatcher() *SyncDispatcher {
	return &SyncDispatcher{}
}

// Subscribe registers a named handler. Names must be unique.
func (d *SyncDispatcher) Subscribe(name string, handler EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.subs {
		if s.name == name {
			return fmt.Errorf("subscriber %q: %w", name, ErrDuplicateHandler)
		}
	}
	d.subs = append(d.subs, syncSubscriber{name: name, handler: handler})
	return nil
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, env *Envelope) error {
	d.mu.RLock()
	subs := d.subs
	d.mu.RUnlock()

	ctx = WithEnvelope(ctx, env)

	var errs []error
	for _, s := range subs {
		if err := s.handler.Handle(ctx, env.Event); err != nil {
			var skipped *ErrSkippedEvent
			if errors.As(err, &skipped) {
				continue
			}
			errs = append(errs, &DispatchError{Subscriber: s.name, Err: err})
		}
	}
	return errors.Join(errs...)
}
