package otel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eventfold/eventsourcing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var _ eventsourcing.EventStore = (*TelemetryStore)(nil)

// TelemetryStore decorates an EventStore with spans and metrics, and
// injects the active trace context into each appended envelope's
// metadata so consumers can continue the trace.
type TelemetryStore struct {
	next eventsourcing.EventStore
}

func NewTelemetryStore(next eventsourcing.EventStore) *TelemetryStore {
	return &TelemetryStore{next: next}
}

func (t *TelemetryStore) Save(ctx context.Context, events []eventsourcing.Envelope, state eventsourcing.StreamState) (eventsourcing.AppendResult, error) {
	var streamID string
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	ctx, span := tracer.Start(ctx, "EventStore.Save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("save"),
			AttrStreamID.String(streamID),
			AttrEventCount.Int(len(events)),
			AttrExpectedState.String(fmt.Sprintf("%T", state)),
		),
	)
	defer span.End()

	if span.SpanContext().IsValid() {
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)

		for i := range events {
			md := eventsourcing.CloneMetadata(events[i].Metadata)
			for key, value := range carrier {
				if _, exists := md[key]; !exists {
					md[key] = value
				}
			}
			events[i].Metadata = md
		}
	}

	start := time.Now()
	result, err := t.next.Save(ctx, events, state)
	duration := time.Since(start)

	EventStoreDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(AttrOperation.String("save")),
	)
	EventStoreSaves.Add(ctx, 1)

	if err != nil {
		var conflict *eventsourcing.StreamRevisionConflictError
		if errors.As(err, &conflict) {
			ConcurrencyConflicts.Add(ctx, 1, metric.WithAttributes(AttrStreamID.String(streamID)))
		}
		EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("save")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	EventsAppended.Add(ctx, int64(len(events)))
	StreamVersions.Record(ctx, int64(result.NextExpectedVersion),
		metric.WithAttributes(AttrStreamID.String(streamID)),
	)
	span.SetAttributes(AttrStreamVersion.Int64(int64(result.NextExpectedVersion)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (t *TelemetryStore) LoadStream(ctx context.Context, id string) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	return t.load(ctx, "EventStore.LoadStream", id, func(ctx context.Context) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
		return t.next.LoadStream(ctx, id)
	})
}

func (t *TelemetryStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	return t.load(ctx, "EventStore.LoadStreamFrom", id, func(ctx context.Context) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
		return t.next.LoadStreamFrom(ctx, id, version)
	})
}

func (t *TelemetryStore) LoadFromAll(ctx context.Context, seq uint64) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	return t.load(ctx, "EventStore.LoadFromAll", "", func(ctx context.Context) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
		return t.next.LoadFromAll(ctx, seq)
	})
}

func (t *TelemetryStore) load(
	ctx context.Context,
	spanName string,
	streamID string,
	fn func(ctx context.Context) (*eventsourcing.Iterator[*eventsourcing.Envelope], error),
) (*eventsourcing.Iterator[*eventsourcing.Envelope], error) {
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("load"),
			AttrStreamID.String(streamID),
		),
	)

	start := time.Now()
	iter, err := fn(ctx)

	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("load")),
	)
	EventStoreLoads.Add(ctx, 1)

	if err != nil {
		EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	// Count yielded events as the consumer pulls; the span closes when
	// iteration ends.
	var count int64
	wrapped := eventsourcing.NewIteratorFunc(func(ctx context.Context) (*eventsourcing.Envelope, error) {
		if iter.Next(ctx) {
			count++
			return iter.Value(), nil
		}
		EventsLoaded.Add(ctx, count)
		if err := iter.Err(); err != nil {
			EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("load")))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return nil, err
		}
		span.SetAttributes(AttrEventCount.Int64(count))
		span.SetStatus(codes.Ok, "")
		span.End()
		return nil, io.EOF
	})
	return wrapped, nil
}

func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
