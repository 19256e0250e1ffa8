package eventsourcing

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamExists is returned when NoStream was required but the
	// stream already holds events.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamNotFound is returned when StreamExists was required but
	// the stream holds no events.
	ErrStreamNotFound = errors.New("stream does not exist")

	// ErrInvalidRevision signals an unusable revision argument, for
	// example a tail read starting past the head of the stream.
	ErrInvalidRevision = errors.New("invalid stream revision")

	// ErrInvalidEventBatch signals a save batch that mixes stream IDs
	// or carries non-contiguous versions.
	ErrInvalidEventBatch = errors.New("invalid event batch")

	// ErrDuplicateHandler signals two handlers registered under the
	// same event name or subscriber name.
	ErrDuplicateHandler = errors.New("duplicate handler")
)

// StreamRevisionConflictError is the optimistic concurrency failure: a
// writer expected the stream at one revision and another writer's
// append landed first. Recoverable by reloading the aggregate and
// re-running the command; never retried by the store or repository
// themselves.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision Revision
	ActualRevision   Revision
}

func (e *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("stream %q revision conflict: expected %d, actual %d",
		e.Stream, e.ExpectedRevision, e.ActualRevision)
}

// SerializationError is returned when a payload cannot be decoded to a
// known event type, or a required field is missing or malformed. Replay
// must stop and surface it; skipping a message would silently corrupt
// aggregate state.
type SerializationError struct {
	EventType string
	Err       error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed for event type %q: %v", e.EventType, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// EventStoreError wraps a storage-layer fault unrelated to concurrency:
// I/O failure, constraint violation, connection loss.
type EventStoreError struct {
	Err error
}

func (e *EventStoreError) Error() string {
	return fmt.Sprintf("eventstore error: %v", e.Err)
}

func (e *EventStoreError) Unwrap() error { return e.Err }

// WrapEventStoreError wraps err unless it is nil or already one of the
// core's own error kinds.
func WrapEventStoreError(err error) error {
	if err == nil {
		return nil
	}
	var conflict *StreamRevisionConflictError
	var storeErr *EventStoreError
	if errors.As(err, &conflict) || errors.As(err, &storeErr) {
		return err
	}
	return &EventStoreError{Err: err}
}

// AggregateNotFoundError is returned by Repository.Load when existence
// was required and the stream holds no events.
type AggregateNotFoundError struct {
	StreamID string
}

func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("aggregate %q not found", e.StreamID)
}

// DispatchError reports a consumer failing to handle a persisted
// envelope. The append has already durably succeeded at that point, so
// a dispatch failure is reported but never rolls the append back.
type DispatchError struct {
	Subscriber string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %q failed: %v", e.Subscriber, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// ErrSkippedEvent is returned when a typed handler receives an event of
// a type it does not handle.
type ErrSkippedEvent struct {
	Event Event
}

func (e *ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}
