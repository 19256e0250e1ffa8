// Package gormstore provides a relational EventStore on GORM with a
// Postgres driver. Optimistic concurrency is enforced twice: by the
// expected-revision check inside the append transaction, and by the
// unique (stream_id, version) index as the storage-level backstop for
// writers racing from other processes.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	es "github.com/eventfold/eventsourcing"
)

// EventModel is the persisted representation of one envelope.
type EventModel struct {
	GlobalSeq  uint64    `gorm:"primaryKey;autoIncrement"`
	StreamID   string    `gorm:"uniqueIndex:idx_stream_version;type:text;not null"`
	Version    uint64    `gorm:"uniqueIndex:idx_stream_version;not null"`
	EventID    string    `gorm:"type:uuid;not null"`
	EventType  string    `gorm:"type:text;not null"`
	Payload    []byte    `gorm:"type:jsonb;not null"`
	Metadata   []byte    `gorm:"type:jsonb"`
	OccurredAt time.Time `gorm:"not null"`
}

func (EventModel) TableName() string { return "events" }

// SnapshotModel holds the latest snapshot per stream.
type SnapshotModel struct {
	StreamID   string    `gorm:"primaryKey;type:text"`
	SnapshotID string    `gorm:"type:uuid;not null"`
	Version    uint64    `gorm:"not null"`
	State      []byte    `gorm:"type:jsonb;not null"`
	TakenAt    time.Time `gorm:"not null"`
}

func (SnapshotModel) TableName() string { return "snapshots" }

// Option configures the DB connection.
type Option func(*config)

type config struct {
	Logger logger.Interface
}

// WithLogger sets a custom GORM logger.
func WithLogger(l logger.Interface) Option { return func(c *config) { c.Logger = l } }

// Store implements es.EventStore and es.Snapshotter.
type Store struct {
	db         *gorm.DB
	serializer es.Serializer
}

var (
	_ es.EventStore  = (*Store)(nil)
	_ es.Snapshotter = (*Store)(nil)
)

// Open connects to Postgres with the given DSN, migrates the schema and
// returns a ready Store.
func Open(dsn string, serializer es.Serializer, opts ...Option) (*Store, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	gormCfg := &gorm.Config{TranslateError: true}
	if cfg.Logger != nil {
		gormCfg.Logger = cfg.Logger
	}
	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return NewStore(db, serializer)
}

// NewStore wraps an existing GORM connection, migrating the schema.
func NewStore(db *gorm.DB, serializer es.Serializer) (*Store, error) {
	if err := db.AutoMigrate(&EventModel{}, &SnapshotModel{}); err != nil {
		return nil, es.WrapEventStoreError(err)
	}
	return &Store{db: db, serializer: serializer}, nil
}

func (s *Store) Save(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
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

	stored := make([]es.Envelope, len(events))
	models := make([]EventModel, len(events))

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var currentVersion uint64
		row := tx.Model(&EventModel{}).
			Where("stream_id = ?", streamID).
			Select("COALESCE(MAX(version), 0)").
			Row()
		if err := row.Scan(&currentVersion); err != nil {
			return es.WrapEventStoreError(err)
		}

		switch rev := state.(type) {
		case es.Any:
		case es.NoStream:
			if currentVersion != 0 {
				return fmt.Errorf("stream %q: %w", streamID, es.ErrStreamExists)
			}
		case es.StreamExists:
			if currentVersion == 0 {
				return fmt.Errorf("stream %q: %w", streamID, es.ErrStreamNotFound)
			}
		case es.Revision:
			if currentVersion != uint64(rev) {
				return &es.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: rev,
					ActualRevision:   es.Revision(currentVersion),
				}
			}
		default:
			return fmt.Errorf("stream %q: unsupported stream state %T: %w",
				streamID, state, es.ErrInvalidRevision)
		}

		for i := range events {
			env := events[i]
			env.Version = currentVersion + uint64(i) + 1
			stored[i] = env

			payload, err := s.serializer.Serialize(env.Event)
			if err != nil {
				return err
			}
			metadata, err := json.Marshal(env.Metadata)
			if err != nil {
				return &es.SerializationError{EventType: env.Event.EventType(), Err: err}
			}

			models[i] = EventModel{
				StreamID:   env.StreamID,
				Version:    env.Version,
				EventID:    env.EventID.String(),
				EventType:  payload.EventType,
				Payload:    payload.Data,
				Metadata:   metadata,
				OccurredAt: env.OccurredAt,
			}
		}

		if err := tx.Create(&models).Error; err != nil {
			// A writer in another process can append between our MAX()
			// read and the insert; the unique index reports it.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &es.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: es.Revision(currentVersion),
					ActualRevision:   es.Revision(currentVersion + 1),
				}
			}
			return es.WrapEventStoreError(err)
		}
		return nil
	})
	if err != nil {
		return es.AppendResult{}, err
	}

	for i := range stored {
		stored[i].GlobalVersion = models[i].GlobalSeq
	}

	return es.AppendResult{
		Successful:          true,
		StreamID:            streamID,
		NextExpectedVersion: stored[len(stored)-1].Version,
		Envelopes:           stored,
	}, nil
}

func (s *Store) toEnvelope(m EventModel) (*es.Envelope, error) {
	event, err := s.serializer.Deserialize(es.Payload{
		EventType: m.EventType,
		Data:      m.Payload,
	})
	if err != nil {
		return nil, err
	}

	var metadata map[string]any
	if len(m.Metadata) > 0 {
		if err := json.Unmarshal(m.Metadata, &metadata); err != nil {
			return nil, &es.SerializationError{EventType: m.EventType, Err: err}
		}
	}

	eventID, err := uuid.Parse(m.EventID)
	if err != nil {
		return nil, &es.SerializationError{EventType: m.EventType, Err: err}
	}

	return &es.Envelope{
		EventID:       eventID,
		StreamID:      m.StreamID,
		Metadata:      metadata,
		Event:         event,
		Version:       m.Version,
		GlobalVersion: m.GlobalSeq,
		OccurredAt:    m.OccurredAt,
	}, nil
}

// batchIterator pages through query results so a consumer abandoning a
// large stream early never materializes the whole tail.
func (s *Store) batchIterator(query func(ctx context.Context, after uint64, limit int) ([]EventModel, error), cursor func(*es.Envelope) uint64) *es.Iterator[*es.Envelope] {
	const batchSize = 256

	var (
		buffer []EventModel
		offset int
		after  uint64
		done   bool
	)

	return es.NewIteratorFunc(func(ctx context.Context) (*es.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if offset >= len(buffer) {
			if done {
				return nil, io.EOF
			}
			models, err := query(ctx, after, batchSize)
			if err != nil {
				return nil, es.WrapEventStoreError(err)
			}
			if len(models) == 0 {
				return nil, io.EOF
			}
			done = len(models) < batchSize
			buffer, offset = models, 0
		}

		env, err := s.toEnvelope(buffer[offset])
		if err != nil {
			return nil, err
		}
		offset++
		after = cursor(env)
		return env, nil
	})
}

func (s *Store) LoadStream(ctx context.Context, id string) (*es.Iterator[*es.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

func (s *Store) LoadStreamFrom(_ context.Context, id string, version uint64) (*es.Iterator[*es.Envelope], error) {
	iter := s.batchIterator(func(ctx context.Context, after uint64, limit int) ([]EventModel, error) {
		if after < version {
			after = version
		}
		var models []EventModel
		err := s.db.WithContext(ctx).
			Where("stream_id = ? AND version > ?", id, after).
			Order("version asc").
			Limit(limit).
			Find(&models).Error
		return models, err
	}, func(env *es.Envelope) uint64 { return env.Version })
	return iter, nil
}

func (s *Store) LoadFromAll(_ context.Context, seq uint64) (*es.Iterator[*es.Envelope], error) {
	iter := s.batchIterator(func(ctx context.Context, after uint64, limit int) ([]EventModel, error) {
		if after < seq {
			after = seq
		}
		var models []EventModel
		err := s.db.WithContext(ctx).
			Where("global_seq > ?", after).
			Order("global_seq asc").
			Limit(limit).
			Find(&models).Error
		return models, err
	}, func(env *es.Envelope) uint64 { return env.GlobalVersion })
	return iter, nil
}

// SaveSnapshot upserts the stream's snapshot, keeping only the latest.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot *es.Snapshot) error {
	model := SnapshotModel{
		StreamID:   snapshot.StreamID,
		SnapshotID: snapshot.SnapshotID.String(),
		Version:    snapshot.Version,
		State:      snapshot.State,
		TakenAt:    snapshot.TakenAt,
	}
	err := s.db.WithContext(ctx).Save(&model).Error
	return es.WrapEventStoreError(err)
}

func (s *Store) LoadSnapshot(ctx context.Context, streamID string) (*es.Snapshot, error) {
	var model SnapshotModel
	err := s.db.WithContext(ctx).First(&model, "stream_id = ?", streamID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("stream %q: %w", streamID, es.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}

	snapshotID, err := uuid.Parse(model.SnapshotID)
	if err != nil {
		return nil, es.WrapEventStoreError(err)
	}

	return &es.Snapshot{
		SnapshotID: snapshotID,
		StreamID:   model.StreamID,
		Version:    model.Version,
		State:      model.State,
		TakenAt:    model.TakenAt,
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return es.WrapEventStoreError(err)
	}
	return es.WrapEventStoreError(sqlDB.Close())
}
