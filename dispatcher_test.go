package eventsourcing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// ---- Test Stubs ----

type cartCreated struct {
	CartID string
}

func (e cartCreated) AggregateID() string { return e.CartID }
func (e cartCreated) EventType() string   { return "CartCreated" }

type itemAdded struct {
	CartID string
	SKU    string
}

func (e itemAdded) AggregateID() string { return e.CartID }
func (e itemAdded) EventType() string   { return "ItemAdded" }

func testEnvelope(event Event) *Envelope {
	return &Envelope{
		EventID:  uuid.New(),
		StreamID: event.AggregateID(),
		Event:    event,
		Metadata: map[string]any{},
		Version:  1,
	}
}

// ---- Tests ----

func TestSyncDispatcher_DeliversInSubscriptionOrder(t *testing.T) {
	d := NewSyncDispatcher()
	var order []string

	for _, name := range []string{"first", "second", "third"} {
		name := name
		err := d.Subscribe(name, NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
			order = append(order, name)
			return nil
		}))
		if err != nil {
			t.Fatalf("subscribe %s: %v", name, err)
		}
	}

	if err := d.Dispatch(context.Background(), testEnvelope(cartCreated{CartID: "c1"})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(order) != 3 || order[0] != "first" || order[2] != "third" {
		t.Errorf("unexpected delivery order: %v", order)
	}
}

func TestSyncDispatcher_EnvelopeContextAvailable(t *testing.T) {
	d := NewSyncDispatcher()
	var gotStream string
	var gotVersion uint64

	_ = d.Subscribe("probe", NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
		gotStream = StreamIDFromContext(ctx)
		gotVersion = VersionFromContext(ctx)
		return nil
	}))

	env := testEnvelope(cartCreated{CartID: "c1"})
	env.Version = 4
	_ = d.Dispatch(context.Background(), env)

	if gotStream != "c1" || gotVersion != 4 {
		t.Errorf("envelope context missing: stream=%q version=%d", gotStream, gotVersion)
	}
}

func TestSyncDispatcher_FailureDoesNotStopOthers(t *testing.T) {
	d := NewSyncDispatcher()
	delivered := false

	_ = d.Subscribe("failing", NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
		return errors.New("consumer down")
	}))
	_ = d.Subscribe("working", NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
		delivered = true
		return nil
	}))

	err := d.Dispatch(context.Background(), testEnvelope(cartCreated{CartID: "c1"}))

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if dispatchErr.Subscriber != "failing" {
		t.Errorf("expected failing subscriber to be named, got %q", dispatchErr.Subscriber)
	}
	if !delivered {
		t.Error("failure of one subscriber must not starve the others")
	}
}

func TestSyncDispatcher_DuplicateName(t *testing.T) {
	d := NewSyncDispatcher()
	handler := NewEventHandlerFunc(func(ctx context.Context, ev Event) error { return nil })

	if err := d.Subscribe("dup", handler); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if err := d.Subscribe("dup", handler); !errors.Is(err, ErrDuplicateHandler) {
		t.Fatalf("expected ErrDuplicateHandler, got %v", err)
	}
}

func TestEventGroupProcessor_RoutesByType(t *testing.T) {
	var created, added int

	group := NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev cartCreated) error {
			created++
			return nil
		}),
		OnEvent(func(ctx context.Context, ev itemAdded) error {
			added++
			return nil
		}),
	)

	ctx := context.Background()
	if err := group.Handle(ctx, cartCreated{CartID: "c1"}); err != nil {
		t.Fatalf("handle created: %v", err)
	}
	if err := group.Handle(ctx, itemAdded{CartID: "c1", SKU: "sku-1"}); err != nil {
		t.Fatalf("handle added: %v", err)
	}

	if created != 1 || added != 1 {
		t.Errorf("routing failed: created=%d added=%d", created, added)
	}
}

func TestEventGroupProcessor_SkipsUnknownType(t *testing.T) {
	group := NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev cartCreated) error { return nil }),
	)

	err := group.Handle(context.Background(), itemAdded{CartID: "c1"})

	var skipped *ErrSkippedEvent
	if !errors.As(err, &skipped) {
		t.Fatalf("expected ErrSkippedEvent, got %v", err)
	}
}

func TestEventGroupProcessor_StreamFilter(t *testing.T) {
	group := NewEventGroupProcessor(
		OnEvent(func(ctx context.Context, ev itemAdded) error { return nil }),
		OnEvent(func(ctx context.Context, ev cartCreated) error { return nil }),
	)

	filter := group.StreamFilter()
	if len(filter) != 2 || filter[0] != "CartCreated" || filter[1] != "ItemAdded" {
		t.Errorf("unexpected filter: %v", filter)
	}
}
