// Package eventsourcing provides an append-only event store core for
// event-sourced applications: aggregates reconstructed by replaying an
// ordered stream of immutable events, optimistic concurrency control on
// append, a decorator pipeline that enriches envelopes with metadata
// before persistence, and a registry-backed serializer that converts
// typed events to and from a storage-neutral payload.
//
// Storage backends live under eventstore/ and message transports under
// eventbus/. The core only depends on the EventStore and Dispatcher
// contracts; an in-memory backend is provided for tests and a
// relational backend for production use.
package eventsourcing

// InstrumentationVersion is reported by the otel instrumentation
// package alongside traces and metrics.
const InstrumentationVersion = "0.2.0"
