package eventsourcing

// Command is a request for an aggregate to do something. Commands are
// never persisted; aggregate logic consumes them to decide which
// events, if any, should be recorded.
type Command interface {
	AggregateID() string
}
