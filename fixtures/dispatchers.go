package fixtures

import (
	"context"
	"sync"

	es "github.com/eventfold/eventsourcing"
)

// RecordingDispatcher remembers every dispatched envelope, in order.
type RecordingDispatcher struct {
	mu        sync.Mutex
	envelopes []*es.Envelope
	Err       error
}

var _ es.Dispatcher = (*RecordingDispatcher)(nil)

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) Dispatch(_ context.Context, env *es.Envelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.envelopes = append(d.envelopes, env)
	return d.Err
}

// Envelopes returns the dispatched envelopes in dispatch order.
func (d *RecordingDispatcher) Envelopes() []*es.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*es.Envelope, len(d.envelopes))
	copy(out, d.envelopes)
	return out
}
