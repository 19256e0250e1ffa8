package otel

import (
	"context"

	"github.com/eventfold/eventsourcing"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var _ eventsourcing.Dispatcher = (*TelemetryDispatcher)(nil)

// TelemetryDispatcher decorates a Dispatcher with spans and metrics.
type TelemetryDispatcher struct {
	next eventsourcing.Dispatcher
}

func NewTelemetryDispatcher(next eventsourcing.Dispatcher) *TelemetryDispatcher {
	return &TelemetryDispatcher{next: next}
}

func (t *TelemetryDispatcher) Dispatch(ctx context.Context, env *eventsourcing.Envelope) error {
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrStreamID.String(env.StreamID),
			AttrEventType.String(env.Event.EventType()),
			AttrEventID.String(env.EventID.String()),
			AttrStreamVersion.Int64(int64(env.Version)),
			AttrEventGlobalPos.Int64(int64(env.GlobalVersion)),
		),
	)
	defer span.End()

	err := t.next.Dispatch(ctx, env)
	DispatchesSent.Add(ctx, 1, metric.WithAttributes(AttrEventType.String(env.Event.EventType())))

	if err != nil {
		DispatchErrors.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
