package eventsourcing

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, pull-based sequence. Abandoning it partway
// through has no side effects; the producer is re-entered only on Next.
type Iterator[T any] struct {
	next    func(ctx context.Context) (T, error)
	current T
	err     error
}

// NewIteratorFunc creates an Iterator from a producer function. The
// producer returns io.EOF when the sequence is exhausted, or any other
// error to abort iteration.
func NewIteratorFunc[T any](next func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{next: next}
}

// NewSliceIterator creates an Iterator over a fixed slice.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	index := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if index >= len(items) {
			return zero, io.EOF
		}
		item := items[index]
		index++
		return item, nil
	})
}

// Next advances the iterator. It returns false once the sequence is
// exhausted or an error occurred; check Err afterwards.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	it.current, it.err = it.next(ctx)
	return it.err == nil
}

// Value returns the item produced by the last successful Next.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that terminated iteration, or nil when the
// sequence ended normally.
func (it *Iterator[T]) Err() error {
	if errors.Is(it.err, io.EOF) {
		return nil
	}
	return it.err
}

// All drains the iterator into a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
