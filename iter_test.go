package eventsourcing

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestSliceIterator_YieldsAll(t *testing.T) {
	iter := NewSliceIterator([]int{1, 2, 3})

	got, err := iter.All(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("unexpected items: %v", got)
	}
}

func TestSliceIterator_Empty(t *testing.T) {
	iter := NewSliceIterator([]int(nil))

	if iter.Next(context.Background()) {
		t.Error("expected no items")
	}
	if err := iter.Err(); err != nil {
		t.Errorf("clean end should not report an error, got %v", err)
	}
}

func TestIterator_AbandonMidway(t *testing.T) {
	iter := NewSliceIterator([]int{1, 2, 3})

	ctx := context.Background()
	if !iter.Next(ctx) {
		t.Fatal("expected first item")
	}
	// Abandoning here must be safe; nothing to assert beyond no panic
	// and no error having been latched.
	if err := iter.Err(); err != nil {
		t.Errorf("unexpected error after partial consumption: %v", err)
	}
}

func TestIteratorFunc_ErrorStopsIteration(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	iter := NewIteratorFunc(func(ctx context.Context) (int, error) {
		calls++
		if calls == 2 {
			return 0, boom
		}
		return calls, nil
	})

	ctx := context.Background()
	if !iter.Next(ctx) {
		t.Fatal("expected first item")
	}
	if iter.Next(ctx) {
		t.Fatal("expected iteration to stop on error")
	}
	if !errors.Is(iter.Err(), boom) {
		t.Errorf("expected boom, got %v", iter.Err())
	}
	if iter.Next(ctx) {
		t.Error("iterator must stay stopped after an error")
	}
}

func TestIteratorFunc_EOFIsCleanEnd(t *testing.T) {
	iter := NewIteratorFunc(func(ctx context.Context) (int, error) {
		return 0, io.EOF
	})

	if iter.Next(context.Background()) {
		t.Fatal("expected no items")
	}
	if err := iter.Err(); err != nil {
		t.Errorf("io.EOF must not surface as an error, got %v", err)
	}
}

func TestIterator_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	iter := NewSliceIterator([]int{1, 2, 3})
	if iter.Next(ctx) {
		t.Fatal("expected cancellation to stop iteration")
	}
	if !errors.Is(iter.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", iter.Err())
	}
}
