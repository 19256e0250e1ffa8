package eventsourcing

// StreamState expresses what a writer expects of the stream at append
// time. The concurrency discipline is purely this check at the storage
// layer; the core never takes a cross-process lock.
type StreamState interface {
	streamState()
}

// Any appends without a concurrency check.
type Any struct{}

func (Any) streamState() {}

// NoStream requires that the stream holds no events yet.
type NoStream struct{}

func (NoStream) streamState() {}

// StreamExists requires that the stream holds at least one event.
type StreamExists struct{}

func (StreamExists) streamState() {}

// Revision requires the stream to be at exactly this version. A writer
// that loaded version V appends with Revision(V); if another append
// landed in between, the save fails with StreamRevisionConflictError.
type Revision uint64

func (Revision) streamState() {}
