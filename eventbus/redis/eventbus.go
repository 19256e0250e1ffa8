// Package redis publishes persisted envelopes to a Redis channel so
// other processes can consume them. Publication is fire-and-forget from
// the store's perspective: a failed publish is reported but the append
// it follows has already durably succeeded.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	es "github.com/eventfold/eventsourcing"
)

type wireEnvelope struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Metadata      map[string]any  `json:"metadata"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// EventBus publishes envelopes to one Redis pub/sub channel and can
// subscribe handlers to the same channel in consumer processes.
type EventBus struct {
	client     redis.UniversalClient
	channel    string
	serializer es.Serializer
	errs       chan error
}

var _ es.Dispatcher = (*EventBus)(nil)

func NewEventBus(client redis.UniversalClient, channel string, serializer es.Serializer) *EventBus {
	return &EventBus{
		client:     client,
		channel:    channel,
		serializer: serializer,
		errs:       make(chan error, 64),
	}
}

// Dispatch publishes the envelope. The returned error is a report, not
// a rollback signal.
func (b *EventBus) Dispatch(ctx context.Context, env *es.Envelope) error {
	payload, err := b.serializer.Serialize(env.Event)
	if err != nil {
		return &es.DispatchError{Subscriber: b.channel, Err: err}
	}

	data, err := json.Marshal(wireEnvelope{
		EventID:       env.EventID,
		StreamID:      env.StreamID,
		EventType:     payload.EventType,
		Data:          payload.Data,
		Metadata:      env.Metadata,
		Version:       env.Version,
		GlobalVersion: env.GlobalVersion,
		OccurredAt:    env.OccurredAt,
	})
	if err != nil {
		return &es.DispatchError{Subscriber: b.channel, Err: err}
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return &es.DispatchError{Subscriber: b.channel, Err: err}
	}
	return nil
}

// Subscribe consumes the channel with the given handler until ctx
// finishes. Decoding and handler errors are reported on Errors; a
// malformed message is reported and skipped rather than wedging the
// consumer, since the stream itself remains the source of truth.
func (b *EventBus) Subscribe(ctx context.Context, name string, handler es.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return &es.DispatchError{Subscriber: name, Err: err}
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				env, err := b.decode(msg.Payload)
				if err != nil {
					b.report(&es.DispatchError{Subscriber: name, Err: err})
					continue
				}
				handlerCtx := es.WithEnvelope(ctx, env)
				if err := handler.Handle(handlerCtx, env.Event); err != nil {
					var skipped *es.ErrSkippedEvent
					if errors.As(err, &skipped) {
						continue
					}
					b.report(&es.DispatchError{Subscriber: name, Err: err})
				}
			}
		}
	}()

	return nil
}

func (b *EventBus) decode(payload string) (*es.Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, &es.SerializationError{Err: err}
	}
	event, err := b.serializer.Deserialize(es.Payload{
		EventType: wire.EventType,
		Data:      wire.Data,
	})
	if err != nil {
		return nil, err
	}
	return &es.Envelope{
		EventID:       wire.EventID,
		StreamID:      wire.StreamID,
		Metadata:      wire.Metadata,
		Event:         event,
		Version:       wire.Version,
		GlobalVersion: wire.GlobalVersion,
		OccurredAt:    wire.OccurredAt,
	}, nil
}

func (b *EventBus) report(err error) {
	select {
	case b.errs <- err:
	default:
		// Drop error if channel full.
	}
}

// Errors returns the channel where consumer-side errors are reported.
func (b *EventBus) Errors() <-chan error {
	return b.errs
}

func (b *EventBus) Close() error {
	return b.client.Close()
}
