package eventsourcing

import (
	"errors"
	"reflect"
	"testing"
)

// ---- Test Stubs ----

type orderPlaced struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total"`
}

func (e *orderPlaced) AggregateID() string { return e.OrderID }
func (e *orderPlaced) EventType() string   { return "OrderPlaced" }

func (e *orderPlaced) Validate() error {
	if e.OrderID == "" {
		return errors.New("order_id is required")
	}
	return nil
}

type orderShipped struct {
	OrderID string `json:"order_id"`
}

func (e *orderShipped) AggregateID() string { return e.OrderID }
func (e *orderShipped) EventType() string   { return "OrderShipped" }

func newTestSerializer(t *testing.T) *JSONSerializer {
	t.Helper()
	registry := NewEventRegistry().MustRegister(
		func() Event { return &orderPlaced{} },
		func() Event { return &orderShipped{} },
	)
	return NewJSONSerializer(registry)
}

// ---- Tests ----

func TestSerializer_RoundTrip(t *testing.T) {
	s := newTestSerializer(t)
	original := &orderPlaced{OrderID: "order-1", Total: 42}

	payload, err := s.Serialize(original)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if payload.EventType != "OrderPlaced" {
		t.Errorf("expected discriminator OrderPlaced, got %q", payload.EventType)
	}

	decoded, err := s.Deserialize(payload)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestSerializer_DeterministicEncoding(t *testing.T) {
	s := newTestSerializer(t)
	event := &orderPlaced{OrderID: "order-1", Total: 7}

	first, err := s.Serialize(event)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	second, err := s.Serialize(event)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if string(first.Data) != string(second.Data) {
		t.Errorf("encoding not deterministic: %s vs %s", first.Data, second.Data)
	}
}

func TestSerializer_UnknownDiscriminator(t *testing.T) {
	s := newTestSerializer(t)

	_, err := s.Deserialize(Payload{EventType: "Unknown", Data: []byte(`{}`)})

	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

func TestSerializer_MissingRequiredField(t *testing.T) {
	s := newTestSerializer(t)

	_, err := s.Deserialize(Payload{EventType: "OrderPlaced", Data: []byte(`{"total":5}`)})

	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError for missing order_id, got %v", err)
	}
}

func TestSerializer_MalformedPayload(t *testing.T) {
	s := newTestSerializer(t)

	cases := map[string][]byte{
		"not json":      []byte(`{`),
		"wrong type":    []byte(`{"order_id":"o1","total":"many"}`),
		"unknown field": []byte(`{"order_id":"o1","surprise":true}`),
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := s.Deserialize(Payload{EventType: "OrderPlaced", Data: data})
			var serr *SerializationError
			if !errors.As(err, &serr) {
				t.Fatalf("expected SerializationError, got %v", err)
			}
		})
	}
}

func TestEventRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewEventRegistry()

	if err := registry.Register(func() Event { return &orderPlaced{} }); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	err := registry.Register(func() Event { return &orderPlaced{} })
	if !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected ErrDuplicateHandler, got %v", err)
	}
}

func TestEventRegistry_CustomName(t *testing.T) {
	registry := NewEventRegistry()
	if err := registry.RegisterName("legacy.order.placed", func() Event { return &orderPlaced{} }); err != nil {
		t.Fatalf("register: %v", err)
	}

	ev, err := registry.New("legacy.order.placed")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := ev.(*orderPlaced); !ok {
		t.Errorf("expected *orderPlaced, got %T", ev)
	}
}
