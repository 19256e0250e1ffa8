package eventsourcing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSnapshotNotFound is returned by a Snapshotter when no snapshot
// exists for the stream.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is an optional cache in front of full replay: the aggregate
// state as of Version, so loading can replay only the tail. A snapshot
// whose version is behind the stream head is still usable as a starting
// point; the remaining events are replayed on top.
type Snapshot struct {
	SnapshotID uuid.UUID       `json:"snapshot_id"`
	StreamID   string          `json:"stream_id"`
	Version    uint64          `json:"version"`
	TakenAt    time.Time       `json:"taken_at"`
	State      json.RawMessage `json:"state"`
}

// Snapshottable aggregates control their own snapshot encoding.
// Aggregates without it are snapshotted via json.Marshal.
type Snapshottable interface {
	SnapshotState() ([]byte, error)
	RestoreSnapshotState(data []byte) error
}

// Snapshotter stores and retrieves snapshots keyed by stream ID.
type Snapshotter interface {
	SaveSnapshot(ctx context.Context, snapshot *Snapshot) error
	LoadSnapshot(ctx context.Context, streamID string) (*Snapshot, error)
}

// TakeSnapshot captures the aggregate's current state and version.
func TakeSnapshot(agg Aggregate) (*Snapshot, error) {
	var (
		data []byte
		err  error
	)
	if s, ok := agg.(Snapshottable); ok {
		data, err = s.SnapshotState()
	} else {
		data, err = json.Marshal(agg)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot aggregate %q: %w", agg.EntityID(), err)
	}

	return &Snapshot{
		SnapshotID: uuid.New(),
		StreamID:   agg.EntityID(),
		Version:    agg.AggregateVersion(),
		TakenAt:    time.Now(),
		State:      data,
	}, nil
}

// RestoreSnapshot loads the stream's snapshot, if any, into the
// aggregate and fast-forwards its version.
func RestoreSnapshot(ctx context.Context, snapshotter Snapshotter, agg Aggregate) error {
	snapshot, err := snapshotter.LoadSnapshot(ctx, agg.EntityID())
	if err != nil {
		return err
	}

	if s, ok := agg.(Snapshottable); ok {
		err = s.RestoreSnapshotState(snapshot.State)
	} else {
		err = json.Unmarshal(snapshot.State, agg)
	}
	if err != nil {
		return fmt.Errorf("restore snapshot for %q: %w", agg.EntityID(), err)
	}

	agg.SetAggregateVersion(snapshot.Version)
	return nil
}

// MemorySnapshotter keeps the latest snapshot per stream in memory.
// Intended for tests and single-process deployments.
type MemorySnapshotter struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

func NewMemorySnapshotter() *MemorySnapshotter {
	return &MemorySnapshotter{snaps: make(map[string]*Snapshot)}
}

func (m *MemorySnapshotter) SaveSnapshot(_ context.Context, snapshot *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.snaps[snapshot.StreamID]; ok && current.Version >= snapshot.Version {
		return nil
	}
	m.snaps[snapshot.StreamID] = snapshot
	return nil
}

func (m *MemorySnapshotter) LoadSnapshot(_ context.Context, streamID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot, ok := m.snaps[streamID]
	if !ok {
		return nil, fmt.Errorf("stream %q: %w", streamID, ErrSnapshotNotFound)
	}
	return snapshot, nil
}
