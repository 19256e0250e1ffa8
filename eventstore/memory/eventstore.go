// Package memory provides an in-process EventStore used in tests and
// single-node deployments. Concurrency control is the same
// expected-revision check production backends use; the mutex only
// protects the maps, it is not the concurrency discipline.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"

	es "github.com/eventfold/eventsourcing"
)

type MemoryStore struct {
	mu     sync.RWMutex
	global []*es.Envelope
	events map[string][]*es.Envelope
}

var _ es.EventStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*es.Envelope),
		global: make([]*es.Envelope, 0),
	}
}

func (m *MemoryStore) Save(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return es.AppendResult{}, es.WrapEventStoreError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(events) == 0 {
		return es.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return es.AppendResult{}, fmt.Errorf(
				"save to stream %q: event %d targets stream %q: %w",
				streamID, i, env.StreamID, es.ErrInvalidEventBatch,
			)
		}
	}

	currentVersion := uint64(len(m.events[streamID]))

	switch rev := state.(type) {
	case es.Any:
		// No concurrency check.
	case es.NoStream:
		if currentVersion != 0 {
			return es.AppendResult{}, fmt.Errorf("stream %q: %w", streamID, es.ErrStreamExists)
		}
	case es.StreamExists:
		if currentVersion == 0 {
			return es.AppendResult{}, fmt.Errorf("stream %q: %w", streamID, es.ErrStreamNotFound)
		}
	case es.Revision:
		if currentVersion != uint64(rev) {
			return es.AppendResult{}, &es.StreamRevisionConflictError{
				Stream:           streamID,
				ExpectedRevision: rev,
				ActualRevision:   es.Revision(currentVersion),
			}
		}
	default:
		return es.AppendResult{}, fmt.Errorf("stream %q: unsupported stream state %T: %w",
			streamID, state, es.ErrInvalidRevision)
	}

	// The check above succeeded; the whole batch lands under the lock,
	// so readers never observe a partial append.
	stored := make([]es.Envelope, len(events))
	for i := range events {
		env := events[i]
		env.Version = currentVersion + uint64(i) + 1
		env.GlobalVersion = uint64(len(m.global)) + 1
		stored[i] = env
		m.events[streamID] = append(m.events[streamID], &stored[i])
		m.global = append(m.global, &stored[i])
	}

	return es.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: currentVersion + uint64(len(events)),
		Envelopes:           stored,
	}, nil
}

func (m *MemoryStore) LoadStream(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error) {
	return m.LoadStreamFrom(ctx, id, 0)
}

func (m *MemoryStore) LoadStreamFrom(_ context.Context, id string, version uint64) (*es.Iterator[*es.Envelope], error) {
	m.mu.RLock()
	stream := m.events[id]
	// Snapshot the backing slice under the lock; appends only ever grow
	// it, so the iterator stays consistent without holding the lock.
	events := stream[:len(stream):len(stream)]
	m.mu.RUnlock()

	index := 0
	for index < len(events) && events[index].Version <= version {
		index++
	}

	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if index >= len(events) {
			return nil, io.EOF
		}
		env := events[index]
		index++
		return env, nil
	}), nil
}

func (m *MemoryStore) LoadFromAll(_ context.Context, seq uint64) (*es.Iterator[*es.Envelope], error) {
	m.mu.RLock()
	all := m.global[:len(m.global):len(m.global)]
	m.mu.RUnlock()

	index := 0
	for index < len(all) && all[index].GlobalVersion <= seq {
		index++
	}

	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if index >= len(all) {
			return nil, io.EOF
		}
		env := all[index]
		index++
		return env, nil
	}), nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[string][]*es.Envelope)
	m.global = nil
	return nil
}
