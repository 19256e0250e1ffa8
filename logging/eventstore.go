package logging

import (
	"context"
	"log/slog"
	"time"

	es "github.com/eventfold/eventsourcing"
)

var _ es.EventStore = (*LoggingStore)(nil)

// LoggingStore decorates an EventStore with debug logging of every
// save and load, including revision conflicts at warn level.
type LoggingStore struct {
	log  *slog.Logger
	next es.EventStore
}

func NewLoggingStore(log *slog.Logger, next es.EventStore) *LoggingStore {
	return &LoggingStore{log: log, next: next}
}

func (s *LoggingStore) Save(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
	var streamID string
	if len(events) > 0 {
		streamID = events[0].StreamID
	}

	start := time.Now()
	result, err := s.next.Save(ctx, events, state)

	l := s.log.With(
		"stream-id", streamID,
		"event-count", len(events),
		"duration", time.Since(start),
	)

	switch {
	case err == nil:
		l.DebugContext(ctx, "events appended", "next-version", result.NextExpectedVersion)
	default:
		l.WarnContext(ctx, "append failed", "error", err)
	}
	return result, err
}

func (s *LoggingStore) LoadStream(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error) {
	s.log.DebugContext(ctx, "loading stream", "stream-id", id)
	return s.next.LoadStream(ctx, id)
}

func (s *LoggingStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*es.Iterator[*es.Envelope], error) {
	s.log.DebugContext(ctx, "loading stream tail", "stream-id", id, "after-version", version)
	return s.next.LoadStreamFrom(ctx, id, version)
}

func (s *LoggingStore) LoadFromAll(ctx context.Context, seq uint64) (*es.Iterator[*es.Envelope], error) {
	s.log.DebugContext(ctx, "loading all streams", "after-seq", seq)
	return s.next.LoadFromAll(ctx, seq)
}

func (s *LoggingStore) Close() error {
	return s.next.Close()
}
