package eventsourcing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Payload is the storage-neutral representation of one event: a type
// discriminator plus a flat JSON object of primitives. encoding/json
// emits object keys in a stable order, so the encoded form is
// canonical.
type Payload struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// Serializer converts events to and from payloads. Deserialize is the
// exact inverse of Serialize: for every registered event e,
// Deserialize(Serialize(e)) yields an equal event. Both fail with
// *SerializationError, never a silent default, because replay
// correctness depends on exact field recovery.
type Serializer interface {
	Serialize(event Event) (Payload, error)
	Deserialize(payload Payload) (Event, error)
}

// Validatable is implemented by events that carry required fields. The
// serializer rejects a decoded event whose Validate fails, turning a
// missing or malformed field into a SerializationError instead of a
// zero value.
type Validatable interface {
	Validate() error
}

// EventRegistry is a closed table mapping an event type discriminator
// to a factory for that concrete type. It is constructed and owned by
// the caller and passed explicitly to the components that need it; no
// package-level registration. Immutable after setup, so it is freely
// shared across concurrent callers.
type EventRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() Event
}

func NewEventRegistry() *EventRegistry {
	return &EventRegistry{factories: make(map[string]func() Event)}
}

// Register adds an event factory under the type's own EventType name.
// The factory must return a pointer to a fresh zero value each call.
func (r *EventRegistry) Register(fn func() Event) error {
	if fn == nil {
		return errors.New("cannot register nil factory")
	}
	ev := fn()
	if ev == nil {
		return errors.New("factory returned nil event")
	}
	return r.RegisterName(ev.EventType(), fn)
}

// RegisterName adds an event factory under a custom name, independent
// of EventType. Useful when the stored discriminator predates a type
// rename.
func (r *EventRegistry) RegisterName(name string, fn func() Event) error {
	if fn == nil {
		return errors.New("cannot register nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("event %q: %w", name, ErrDuplicateHandler)
	}
	r.factories[name] = fn
	return nil
}

// MustRegister is Register that panics, for setup-time wiring.
func (r *EventRegistry) MustRegister(fns ...func() Event) *EventRegistry {
	for _, fn := range fns {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}
	return r
}

// New creates a fresh instance of the event registered under name.
func (r *EventRegistry) New(name string) (Event, error) {
	r.mu.RLock()
	fn, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("event not registered: %s", name)
	}
	ev := fn()
	if ev == nil {
		return nil, fmt.Errorf("factory returned nil for event: %s", name)
	}
	return ev, nil
}

// JSONSerializer encodes event payloads as JSON and resolves concrete
// types through an explicit EventRegistry, by table lookup rather than
// reflection over type names.
type JSONSerializer struct {
	registry *EventRegistry
}

func NewJSONSerializer(registry *EventRegistry) *JSONSerializer {
	return &JSONSerializer{registry: registry}
}

func (s *JSONSerializer) Serialize(event Event) (Payload, error) {
	if event == nil {
		return Payload{}, &SerializationError{Err: errors.New("nil event")}
	}
	data, err := json.Marshal(event)
	if err != nil {
		return Payload{}, &SerializationError{EventType: event.EventType(), Err: err}
	}
	return Payload{EventType: event.EventType(), Data: data}, nil
}

func (s *JSONSerializer) Deserialize(payload Payload) (Event, error) {
	event, err := s.registry.New(payload.EventType)
	if err != nil {
		return nil, &SerializationError{EventType: payload.EventType, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(payload.Data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(event); err != nil {
		return nil, &SerializationError{EventType: payload.EventType, Err: err}
	}

	if v, ok := event.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, &SerializationError{EventType: payload.EventType, Err: err}
		}
	}
	return event, nil
}
