// Package memory provides an asynchronous in-process Dispatcher: each
// subscriber runs its own worker goroutine fed from a buffered channel,
// so a slow or failing consumer never sits on the write path. Handler
// errors surface on the Errors channel.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	es "github.com/eventfold/eventsourcing"
)

type subscriber struct {
	name      string
	filter    func(es.Event) bool
	handler   es.EventHandler
	envelopes chan *es.Envelope
	cancel    context.CancelFunc
}

type EventBus struct {
	mu         sync.RWMutex
	subs       map[string]*subscriber
	closed     bool
	errs       chan error
	wg         sync.WaitGroup
	bufferSize int
}

var _ es.Dispatcher = (*EventBus)(nil)

// NewEventBus constructs a bus with the given per-subscriber buffer
// size.
func NewEventBus(bufferSize int) *EventBus {
	return &EventBus{
		subs:       make(map[string]*subscriber),
		errs:       make(chan error, 64),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a named handler. A nil filter receives all
// events. The subscription is removed when ctx finishes.
func (b *EventBus) Subscribe(
	ctx context.Context,
	name string,
	filter func(es.Event) bool,
	handler es.EventHandler,
) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if filter == nil {
		filter = func(es.Event) bool { return true }
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}
	if _, exists := b.subs[name]; exists {
		return fmt.Errorf("subscriber %q: %w", name, es.ErrDuplicateHandler)
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		name:      name,
		filter:    filter,
		handler:   handler,
		envelopes: make(chan *es.Envelope, b.bufferSize),
		cancel:    cancel,
	}
	b.subs[name] = s

	b.wg.Add(1)
	go b.runSubscriber(workerCtx, s)

	go func() {
		<-ctx.Done()
		b.removeSubscriber(name)
	}()

	return nil
}

// Errors returns the channel where asynchronous handler errors are
// reported as *es.DispatchError values.
func (b *EventBus) Errors() <-chan error {
	return b.errs
}

// Dispatch enqueues the envelope for every matching subscriber. The
// append has already succeeded when Dispatch runs; a full subscriber
// buffer is reported as a dispatch error rather than blocking the
// writer.
func (b *EventBus) Dispatch(_ context.Context, env *es.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New("eventbus is closed")
	}

	var errs []error
	for _, s := range b.subs {
		if !s.filter(env.Event) {
			continue
		}
		select {
		case s.envelopes <- env:
		default:
			errs = append(errs, &es.DispatchError{
				Subscriber: s.name,
				Err:        errors.New("subscriber buffer full, envelope dropped"),
			})
		}
	}
	return errors.Join(errs...)
}

func (b *EventBus) runSubscriber(ctx context.Context, s *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.envelopes:
			if !ok {
				return
			}
			handlerCtx := es.WithEnvelope(ctx, env)
			if err := s.handler.Handle(handlerCtx, env.Event); err != nil {
				var skipped *es.ErrSkippedEvent
				if errors.As(err, &skipped) {
					continue
				}
				select {
				case b.errs <- &es.DispatchError{Subscriber: s.name, Err: err}:
				default:
					// Drop error if channel full.
				}
			}
		}
	}
}

func (b *EventBus) removeSubscriber(name string) {
	b.mu.Lock()
	s, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.subs, name)
	b.mu.Unlock()

	s.cancel()
	close(s.envelopes)
}

// Close shuts the bus down and waits for all workers to finish.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	for name, s := range b.subs {
		s.cancel()
		close(s.envelopes)
		delete(b.subs, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
	close(b.errs)
	return nil
}
