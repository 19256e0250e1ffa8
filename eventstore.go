package eventsourcing

import (
	"context"
)

// EventStore is the contract for an append-only, per-stream-ordered
// event store with optimistic concurrency detection.
//
// Implementations must guarantee:
//   - Versions within one stream are exactly 1..N, gap-free.
//   - Save is all-or-nothing: a partially applied append is never
//     visible to readers.
//   - Iteration order of every Load* method is ascending and
//     deterministic.
//   - Of two concurrent Save calls carrying the same Revision for the
//     same stream, exactly one succeeds; the loser writes nothing.
//
// Load* return lazy iterators; a consumer may abandon one at any point
// without corrupting state for the next reader.
type EventStore interface {
	// Save appends the batch to the stream identified by the
	// envelopes' StreamID, subject to the given StreamState check.
	//
	// All envelopes must target the same stream and the batch is
	// appended atomically. On success the result carries the next
	// expected version and the stored envelopes with storage-assigned
	// fields (authoritative Version, GlobalVersion) filled in.
	//
	// Errors:
	//   - *StreamRevisionConflictError when the state check fails for
	//     a Revision expectation.
	//   - ErrStreamExists / ErrStreamNotFound for NoStream and
	//     StreamExists expectations.
	//   - ErrInvalidEventBatch for a batch mixing stream IDs.
	//   - *EventStoreError for storage-layer faults.
	Save(ctx context.Context, events []Envelope, state StreamState) (AppendResult, error)

	// LoadStream returns the full stream in version order. An unknown
	// stream yields an empty iteration, not an error.
	LoadStream(ctx context.Context, id string) (*Iterator[*Envelope], error)

	// LoadStreamFrom returns the envelopes with Version > version, in
	// version order. Used for incremental replay after a snapshot and
	// for per-stream projections.
	LoadStreamFrom(ctx context.Context, id string, version uint64) (*Iterator[*Envelope], error)

	// LoadFromAll returns envelopes across all streams with
	// GlobalVersion > seq, in global order. Ordering across streams is
	// the store's append order, not a business ordering.
	LoadFromAll(ctx context.Context, seq uint64) (*Iterator[*Envelope], error)

	// Close releases resources held by the store. Idempotent.
	Close() error
}

// AppendResult describes the outcome of a Save.
type AppendResult struct {
	Successful bool
	StreamID   string

	// NextExpectedVersion is the stream version after the append, i.e.
	// the Revision a follow-up Save on the same loaded state would use.
	NextExpectedVersion uint64

	// Envelopes are the stored messages with storage-assigned fields
	// filled in, in persisted order.
	Envelopes []Envelope
}
