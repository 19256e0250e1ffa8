package eventsourcing

import (
	"context"
	"errors"
	"testing"
)

// ---- Test Stubs ----

type counterIncremented struct {
	CounterID string `json:"counter_id"`
}

func (e *counterIncremented) AggregateID() string { return e.CounterID }
func (e *counterIncremented) EventType() string   { return "CounterIncremented" }

type counterAggregate struct {
	*AggregateBase
	Count int `json:"count"`
}

func newCounter(id string) *counterAggregate {
	return &counterAggregate{AggregateBase: NewAggregateBase(id)}
}

func (c *counterAggregate) ApplyEvent(_ context.Context, ev Event) {
	if _, ok := ev.(*counterIncremented); ok {
		c.Count++
	}
}

// ---- Tests ----

func TestTakeSnapshot_CapturesStateAndVersion(t *testing.T) {
	counter := newCounter("counter-1")
	counter.Count = 5
	counter.SetAggregateVersion(5)

	snapshot, err := TakeSnapshot(counter)
	if err != nil {
		t.Fatalf("take snapshot: %v", err)
	}
	if snapshot.StreamID != "counter-1" || snapshot.Version != 5 {
		t.Errorf("unexpected snapshot identity: %+v", snapshot)
	}
}

func TestRestoreSnapshot_RoundTrip(t *testing.T) {
	ctx := context.Background()
	snapshotter := NewMemorySnapshotter()

	original := newCounter("counter-1")
	original.Count = 3
	original.SetAggregateVersion(3)

	snapshot, err := TakeSnapshot(original)
	if err != nil {
		t.Fatalf("take snapshot: %v", err)
	}
	if err := snapshotter.SaveSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	restored := newCounter("counter-1")
	if err := RestoreSnapshot(ctx, snapshotter, restored); err != nil {
		t.Fatalf("restore snapshot: %v", err)
	}

	if restored.Count != 3 {
		t.Errorf("expected count 3, got %d", restored.Count)
	}
	if restored.AggregateVersion() != 3 {
		t.Errorf("expected version 3, got %d", restored.AggregateVersion())
	}
}

func TestRestoreSnapshot_NotFound(t *testing.T) {
	err := RestoreSnapshot(context.Background(), NewMemorySnapshotter(), newCounter("unknown"))
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestMemorySnapshotter_KeepsNewestVersion(t *testing.T) {
	ctx := context.Background()
	snapshotter := NewMemorySnapshotter()

	newer := newCounter("counter-1")
	newer.Count = 10
	newer.SetAggregateVersion(10)
	newerSnap, _ := TakeSnapshot(newer)
	if err := snapshotter.SaveSnapshot(ctx, newerSnap); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	older := newCounter("counter-1")
	older.Count = 2
	older.SetAggregateVersion(2)
	olderSnap, _ := TakeSnapshot(older)
	if err := snapshotter.SaveSnapshot(ctx, olderSnap); err != nil {
		t.Fatalf("save older: %v", err)
	}

	got, err := snapshotter.LoadSnapshot(ctx, "counter-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Version != 10 {
		t.Errorf("an older snapshot replaced a newer one: version %d", got.Version)
	}
}
