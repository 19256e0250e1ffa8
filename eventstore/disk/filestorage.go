// Package disk provides a file-backed EventStore: one JSON record per
// event under <base>/<streamID>/<version>.json, encoded through the
// configured Serializer. Suitable for durable single-process use;
// multiple processes must not share one base directory.
package disk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	es "github.com/eventfold/eventsourcing"
)

type storedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	StreamID      string          `json:"stream_id"`
	EventType     string          `json:"event_type"`
	Data          json.RawMessage `json:"data"`
	Metadata      map[string]any  `json:"metadata"`
	Version       uint64          `json:"version"`
	GlobalVersion uint64          `json:"global_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type FileStore struct {
	baseDir    string
	serializer es.Serializer

	mu        sync.RWMutex
	versions  map[string]uint64
	globalSeq uint64
}

var _ es.EventStore = (*FileStore)(nil)

// NewFileStore opens (or creates) a store rooted at dir, rebuilding the
// per-stream version index from the files already present.
func NewFileStore(dir string, serializer es.Serializer) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, es.WrapEventStoreError(err)
	}

	f := &FileStore{
		baseDir:    dir,
		serializer: serializer,
		versions:   make(map[string]uint64),
	}
	if err := f.scan(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) scan() error {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(f.baseDir, entry.Name()))
		if err != nil {
			return es.WrapEventStoreError(err)
		}
		count := uint64(0)
		for _, file := range files {
			if filepath.Ext(file.Name()) == ".json" {
				count++
			}
		}
		f.versions[entry.Name()] = count
		f.globalSeq += count
	}
	return nil
}

func (f *FileStore) streamDir(id string) string {
	return filepath.Join(f.baseDir, id)
}

func (f *FileStore) eventPath(id string, version uint64) string {
	return filepath.Join(f.streamDir(id), fmt.Sprintf("%010d.json", version))
}

func (f *FileStore) Save(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return es.AppendResult{}, es.WrapEventStoreError(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

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

	currentVersion := f.versions[streamID]

	switch rev := state.(type) {
	case es.Any:
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

	if err := os.MkdirAll(f.streamDir(streamID), 0o755); err != nil {
		return es.AppendResult{}, es.WrapEventStoreError(err)
	}

	// Stage the whole batch into temp files first, then rename into
	// place. The version index is only advanced after every rename
	// succeeded, so readers (which go through the index) never observe
	// a partial append.
	stored := make([]es.Envelope, len(events))
	staged := make([]string, 0, len(events))
	cleanup := func() {
		for _, path := range staged {
			os.Remove(path)
		}
	}

	for i := range events {
		env := events[i]
		env.Version = currentVersion + uint64(i) + 1
		env.GlobalVersion = f.globalSeq + uint64(i) + 1
		stored[i] = env

		payload, err := f.serializer.Serialize(env.Event)
		if err != nil {
			cleanup()
			return es.AppendResult{}, err
		}

		record, err := json.Marshal(storedEvent{
			EventID:       env.EventID,
			StreamID:      env.StreamID,
			EventType:     payload.EventType,
			Data:          payload.Data,
			Metadata:      env.Metadata,
			Version:       env.Version,
			GlobalVersion: env.GlobalVersion,
			OccurredAt:    env.OccurredAt,
		})
		if err != nil {
			cleanup()
			return es.AppendResult{}, &es.SerializationError{EventType: env.Event.EventType(), Err: err}
		}

		tmp := f.eventPath(streamID, env.Version) + ".tmp"
		if err := os.WriteFile(tmp, record, 0o644); err != nil {
			cleanup()
			return es.AppendResult{}, es.WrapEventStoreError(err)
		}
		staged = append(staged, tmp)
	}

	for i, tmp := range staged {
		if err := os.Rename(tmp, f.eventPath(streamID, stored[i].Version)); err != nil {
			for j := 0; j < i; j++ {
				os.Remove(f.eventPath(streamID, stored[j].Version))
			}
			cleanup()
			return es.AppendResult{}, es.WrapEventStoreError(err)
		}
	}

	f.versions[streamID] = currentVersion + uint64(len(events))
	f.globalSeq += uint64(len(events))

	return es.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: f.versions[streamID],
		Envelopes:           stored,
	}, nil
}

func (f *FileStore) readEvent(id string, version uint64) (*es.Envelope, error) {
	data, err := os.ReadFile(f.eventPath(id, version))
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}

	var record storedEvent
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, &es.SerializationError{EventType: "", Err: err}
	}

	event, err := f.serializer.Deserialize(es.Payload{
		EventType: record.EventType,
		Data:      record.Data,
	})
	if err != nil {
		return nil, err
	}

	return &es.Envelope{
		EventID:       record.EventID,
		StreamID:      record.StreamID,
		Metadata:      record.Metadata,
		Event:         event,
		Version:       record.Version,
		GlobalVersion: record.GlobalVersion,
		OccurredAt:    record.OccurredAt,
	}, nil
}

func (f *FileStore) LoadStream(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error) {
	return f.LoadStreamFrom(ctx, id, 0)
}

func (f *FileStore) LoadStreamFrom(_ context.Context, id string, version uint64) (*es.Iterator[*es.Envelope], error) {
	f.mu.RLock()
	head := f.versions[id]
	f.mu.RUnlock()

	next := version + 1

	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if next > head {
			return nil, io.EOF
		}
		env, err := f.readEvent(id, next)
		if err != nil {
			return nil, err
		}
		next++
		return env, nil
	}), nil
}

func (f *FileStore) LoadFromAll(_ context.Context, seq uint64) (*es.Iterator[*es.Envelope], error) {
	f.mu.RLock()
	streams := make(map[string]uint64, len(f.versions))
	for id, head := range f.versions {
		streams[id] = head
	}
	f.mu.RUnlock()

	var all []*es.Envelope
	for id, head := range streams {
		for v := uint64(1); v <= head; v++ {
			env, err := f.readEvent(id, v)
			if err != nil {
				return nil, err
			}
			if env.GlobalVersion > seq {
				all = append(all, env)
			}
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].GlobalVersion < all[j].GlobalVersion
	})

	return es.NewSliceIterator(all), nil
}

func (f *FileStore) Close() error {
	return nil
}
