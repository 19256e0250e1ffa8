package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// StreamNamer produces the stream name for a command, with access to
// the ambient context for tenant prefixes and the like.
type StreamNamer func(ctx context.Context, cmd Command) string

// DefaultStreamNamer names the stream after the command's aggregate ID.
var DefaultStreamNamer StreamNamer = func(ctx context.Context, cmd Command) string {
	return cmd.AggregateID()
}

// CommandHandler handles commands of one concrete type.
type CommandHandler[C Command] func(ctx context.Context, command C) (AppendResult, error)

// Evolver folds one stored envelope into the aggregate state.
type Evolver[T any] func(currentState T, envelope *Envelope) T

// Decider produces the events a command should record, given the
// current state. It must not mutate the state; an empty slice means the
// command had no effect. A returned error is a business rule violation
// and is never retried.
type Decider[T any, C Command] func(state T, cmd C) ([]Event, error)

// CommandHandlerOption customizes NewCommandHandler.
type CommandHandlerOption func(*handlerOptions)

type handlerOptions struct {
	retryStrategy func() backoff.BackOff
	metadataFuncs []func(ctx context.Context) map[string]any
	streamNamer   StreamNamer
	pipeline      *Pipeline
}

// WithConflictRetry sets the caller-owned retry policy for revision
// conflicts. Each retry re-loads the stream and re-runs the decider on
// fresh state; the original events are never re-sent. The factory is
// invoked per command so concurrent dispatches do not share backoff
// state. Default: no retries, the conflict surfaces to the caller.
func WithConflictRetry(strategy func() backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.retryStrategy = strategy }
}

// WithMetadataExtractor adds a metadata function applied to every
// produced envelope. Extractors run in registration order.
func WithMetadataExtractor(fn func(ctx context.Context) map[string]any) CommandHandlerOption {
	return func(cfg *handlerOptions) {
		cfg.metadataFuncs = append(cfg.metadataFuncs, fn)
	}
}

// WithStreamNamer overrides how the target stream is named.
func WithStreamNamer(namer StreamNamer) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.streamNamer = namer }
}

// WithDecoratorPipeline sets the pipeline run over each produced
// envelope before it is appended.
func WithDecoratorPipeline(p *Pipeline) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.pipeline = p }
}

// NewCommandHandler returns a functional command handler: load the
// stream, evolve state, decide events, decorate and append them with
// the loaded revision as the concurrency expectation.
//
// On a revision conflict the whole load-evolve-decide-append cycle is
// re-run under the configured retry policy, so the decision is always
// made against the state that won. Business rule violations and
// storage faults are permanent and surface immediately.
func NewCommandHandler[T any, C Command](
	store EventStore,
	initialState T,
	evolve Evolver[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	cfg := &handlerOptions{
		retryStrategy: func() backoff.BackOff { return &backoff.StopBackOff{} },
		streamNamer:   DefaultStreamNamer,
		pipeline:      DefaultPipeline(),
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, command C) (AppendResult, error) {
		stream := cfg.streamNamer(ctx, command)

		attempt := func() (AppendResult, error) {
			state := initialState
			var revision uint64

			iter, err := store.LoadStream(ctx, stream)
			if err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle %T (stream %q): load failed: %w", command, stream, err))
			}
			for iter.Next(ctx) {
				envelope := iter.Value()
				revision = envelope.Version
				state = evolve(state, envelope)
			}
			if err := iter.Err(); err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle %T (stream %q): replay failed: %w", command, stream, err))
			}

			events, err := decide(state, command)
			if err != nil {
				return AppendResult{},
					backoff.Permanent(fmt.Errorf("handle %T (stream %q): %w", command, stream, err))
			}
			if len(events) == 0 {
				return AppendResult{Successful: true, StreamID: stream, NextExpectedVersion: revision}, nil
			}

			baseMetadata := make(map[string]any)
			for _, fn := range cfg.metadataFuncs {
				for k, v := range fn(ctx) {
					baseMetadata[k] = v
				}
			}

			envelopes := make([]Envelope, len(events))
			for i, event := range events {
				envelopes[i] = cfg.pipeline.Apply(ctx, Envelope{
					StreamID: stream,
					Event:    event,
					Metadata: CloneMetadata(baseMetadata),
					Version:  revision + uint64(i) + 1,
				})
			}

			result, err := store.Save(ctx, envelopes, Revision(revision))
			if err != nil {
				var conflict *StreamRevisionConflictError
				if errors.As(err, &conflict) {
					// Retryable: the next attempt reloads and re-decides.
					return AppendResult{}, conflict
				}
				return result, backoff.Permanent(fmt.Errorf("handle %T (stream %q): save failed: %w", command, stream, err))
			}
			return result, nil
		}

		return backoff.RetryWithData(attempt, backoff.WithContext(cfg.retryStrategy(), ctx))
	}
}
