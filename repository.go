package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Repository bridges the event store and an aggregate's business logic:
// Load replays the stream into a fresh aggregate, Save persists the
// pending buffer under an optimistic concurrency check and notifies the
// dispatcher.
//
// Per aggregate instance the flow is: Unloaded -> Load (replay) ->
// Current -> Save (append in flight) -> Current at version N+k, or a
// revision conflict, in which case the caller restarts from Unloaded
// with a freshly loaded aggregate. The repository itself never retries
// a conflict: retrying means re-running business logic on fresher
// state, which only the caller can do.
type Repository struct {
	log              *slog.Logger
	store            EventStore
	pipeline         *Pipeline
	dispatcher       Dispatcher
	snapshotter      Snapshotter
	snapshotEvery    uint64
	requireExistence bool
}

// RepositoryOption configures a Repository at construction. All
// collaborators are explicit; there is no ambient registration.
type RepositoryOption func(*Repository)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.log = log }
}

// WithPipeline replaces the decorator pipeline applied to every pending
// envelope before it is appended.
func WithPipeline(p *Pipeline) RepositoryOption {
	return func(r *Repository) { r.pipeline = p }
}

// WithDispatcher sets the dispatcher notified after each successful
// append. Without one, persisted envelopes are not delivered anywhere.
func WithDispatcher(d Dispatcher) RepositoryOption {
	return func(r *Repository) { r.dispatcher = d }
}

// WithSnapshotter enables snapshot restore on Load. Snapshots are taken
// on Save every interval events; an interval of 0 means snapshots are
// only taken explicitly via SaveSnapshot.
func WithSnapshotter(s Snapshotter, interval uint64) RepositoryOption {
	return func(r *Repository) {
		r.snapshotter = s
		r.snapshotEvery = interval
	}
}

// RequireExistence makes Load fail with AggregateNotFoundError when the
// stream holds no events. The default treats an unknown identity as a
// valid version-0 aggregate, for callers that are about to create it.
func RequireExistence() RepositoryOption {
	return func(r *Repository) { r.requireExistence = true }
}

func NewRepository(store EventStore, opts ...RepositoryOption) *Repository {
	r := &Repository{
		log:      slog.Default(),
		store:    store,
		pipeline: DefaultPipeline(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replays the aggregate's stream into it, in ascending version
// order. The aggregate must be freshly constructed: a dirty pending
// buffer would interleave unpersisted events with history.
//
// Replay stops and surfaces the first error; a half-applied aggregate
// is never returned as valid.
func (r *Repository) Load(ctx context.Context, agg Aggregate) error {
	id := agg.EntityID()
	if id == "" {
		return errors.New("aggregate id is empty")
	}
	if len(agg.UncommittedEvents()) != 0 {
		return fmt.Errorf("aggregate %q has uncommitted events", id)
	}

	if r.snapshotter != nil {
		err := RestoreSnapshot(ctx, r.snapshotter, agg)
		if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
			return err
		}
		if err == nil {
			r.log.DebugContext(ctx, "snapshot restored",
				"stream-id", id,
				"version", agg.AggregateVersion(),
			)
		}
	}

	var (
		iter *Iterator[*Envelope]
		err  error
	)
	if v := agg.AggregateVersion(); v > 0 {
		iter, err = r.store.LoadStreamFrom(ctx, id, v)
	} else {
		iter, err = r.store.LoadStream(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("load stream %q: %w", id, err)
	}

	for iter.Next(ctx) {
		env := iter.Value()
		if want := agg.AggregateVersion() + 1; env.Version != want {
			return fmt.Errorf("stream %q: version %d where %d was expected: %w",
				id, env.Version, want, ErrInvalidRevision)
		}
		agg.ApplyEvent(WithEnvelope(ctx, env), env.Event)
		agg.SetAggregateVersion(env.Version)
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("replay stream %q: %w", id, err)
	}

	if agg.AggregateVersion() == 0 && r.requireExistence {
		return &AggregateNotFoundError{StreamID: id}
	}
	return nil
}

// Save persists the aggregate's pending buffer with an expected
// revision equal to the version at which it was loaded. On success the
// buffer is cleared, the version advances, and the dispatcher is
// notified in persisted order.
//
// A *StreamRevisionConflictError propagates unchanged to the caller.
// Dispatch failures are logged but do not fail the save: the append is
// already durable.
func (r *Repository) Save(ctx context.Context, agg Aggregate) (AppendResult, error) {
	pending := agg.UncommittedEvents()
	expected := agg.AggregateVersion()

	if len(pending) == 0 {
		return AppendResult{
			Successful:          true,
			StreamID:            agg.EntityID(),
			NextExpectedVersion: expected,
		}, nil
	}

	envelopes := make([]Envelope, len(pending))
	for i, env := range pending {
		envelopes[i] = r.pipeline.Apply(ctx, env)
	}

	result, err := r.store.Save(ctx, envelopes, Revision(expected))
	if err != nil {
		return result, err
	}

	agg.SetAggregateVersion(result.NextExpectedVersion)
	agg.ClearUncommittedEvents()

	r.dispatch(ctx, result.Envelopes)
	r.maybeSnapshot(ctx, agg, expected)

	return result, nil
}

func (r *Repository) dispatch(ctx context.Context, envelopes []Envelope) {
	if r.dispatcher == nil {
		return
	}
	for i := range envelopes {
		if err := r.dispatcher.Dispatch(ctx, &envelopes[i]); err != nil {
			r.log.ErrorContext(ctx, "dispatch of persisted event failed",
				"stream-id", envelopes[i].StreamID,
				"event-type", envelopes[i].Event.EventType(),
				"version", envelopes[i].Version,
				"error", err,
			)
		}
	}
}

func (r *Repository) maybeSnapshot(ctx context.Context, agg Aggregate, previous uint64) {
	if r.snapshotter == nil || r.snapshotEvery == 0 {
		return
	}
	if agg.AggregateVersion()/r.snapshotEvery == previous/r.snapshotEvery {
		return
	}
	if err := r.SaveSnapshot(ctx, agg); err != nil {
		r.log.WarnContext(ctx, "snapshot failed",
			"stream-id", agg.EntityID(),
			"version", agg.AggregateVersion(),
			"error", err,
		)
	}
}

// SaveSnapshot captures and stores the aggregate's current state.
// Requires a snapshotter to be configured.
func (r *Repository) SaveSnapshot(ctx context.Context, agg Aggregate) error {
	if r.snapshotter == nil {
		return errors.New("no snapshotter configured")
	}
	snapshot, err := TakeSnapshot(agg)
	if err != nil {
		return err
	}
	return r.snapshotter.SaveSnapshot(ctx, snapshot)
}
