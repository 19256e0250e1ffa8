// Package otel instruments the event store and dispatcher with
// OpenTelemetry traces and metrics. Wrap any EventStore or Dispatcher;
// the wrapped value is otherwise behavior-identical.
package otel

import (
	"github.com/eventfold/eventsourcing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/eventfold/eventsourcing"
)

// Semantic attribute keys following OpenTelemetry conventions.
const (
	AttrStreamID       = attribute.Key("eventsourcing.stream.id")
	AttrStreamVersion  = attribute.Key("eventsourcing.stream.version")
	AttrEventType      = attribute.Key("eventsourcing.event.type")
	AttrEventID        = attribute.Key("eventsourcing.event.id")
	AttrEventCount     = attribute.Key("eventsourcing.events.count")
	AttrEventGlobalPos = attribute.Key("eventsourcing.event.global_position")
	AttrOperation      = attribute.Key("eventsourcing.operation")
	AttrExpectedState  = attribute.Key("eventsourcing.stream.expected_state")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(eventsourcing.InstrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(eventsourcing.InstrumentationVersion))

	EventStoreSaves, _ = meter.Int64Counter(
		"eventsourcing.eventstore.saves",
		metric.WithDescription("Number of save operations against the event store"),
		metric.WithUnit("{operation}"),
	)

	EventStoreLoads, _ = meter.Int64Counter(
		"eventsourcing.eventstore.loads",
		metric.WithDescription("Number of load operations against the event store"),
		metric.WithUnit("{operation}"),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"eventsourcing.eventstore.errors",
		metric.WithDescription("Number of failed event store operations"),
		metric.WithUnit("{error}"),
	)

	EventStoreDuration, _ = meter.Float64Histogram(
		"eventsourcing.eventstore.duration",
		metric.WithDescription("EventStore operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventsAppended, _ = meter.Int64Counter(
		"eventsourcing.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"eventsourcing.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"eventsourcing.concurrency.conflicts",
		metric.WithDescription("Number of stream revision conflicts"),
		metric.WithUnit("{conflict}"),
	)

	StreamVersions, _ = meter.Int64Gauge(
		"eventsourcing.stream.version",
		metric.WithDescription("Stream version after the last successful append"),
		metric.WithUnit("{version}"),
	)

	DispatchesSent, _ = meter.Int64Counter(
		"eventsourcing.dispatch.sent",
		metric.WithDescription("Number of envelopes handed to the dispatcher"),
		metric.WithUnit("{event}"),
	)

	DispatchErrors, _ = meter.Int64Counter(
		"eventsourcing.dispatch.errors",
		metric.WithDescription("Number of dispatch failures"),
		metric.WithUnit("{error}"),
	)
)
