// Package logging provides slog-based middleware for event handlers
// and the event store.
package logging

import (
	"context"
	"log/slog"

	es "github.com/eventfold/eventsourcing"
)

// WithEventHandlerLogging wraps a handler so every delivery is logged
// with the envelope context placed there by the dispatcher.
func WithEventHandlerLogging(logger *slog.Logger, next es.EventHandler) es.EventHandler {
	return es.NewEventHandlerFunc(func(ctx context.Context, event es.Event) error {
		l := logger.With(
			"stream-id", es.StreamIDFromContext(ctx),
			"event-type", event.EventType(),
			"version", es.VersionFromContext(ctx),
			"global-version", es.GlobalVersionFromContext(ctx),
			"causation", es.CausationFromContext(ctx),
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, event)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
