package eventsourcing_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"

	es "github.com/eventfold/eventsourcing"
	"github.com/eventfold/eventsourcing/eventstore/memory"
)

// ---- Test Stubs ----

type depositMoney struct {
	Account string
	Amount  int
}

func (c depositMoney) AggregateID() string { return c.Account }

type balanceState struct {
	Balance int
}

func evolveBalance(state balanceState, envelope *es.Envelope) balanceState {
	if e, ok := envelope.Event.(*moneyDeposited); ok {
		state.Balance += e.Amount
	}
	return state
}

func decideDeposit(limit int) es.Decider[balanceState, depositMoney] {
	return func(state balanceState, cmd depositMoney) ([]es.Event, error) {
		if state.Balance+cmd.Amount > limit {
			return nil, errors.New("deposit exceeds account limit")
		}
		return []es.Event{&moneyDeposited{AccountID: cmd.Account, Amount: cmd.Amount}}, nil
	}
}

// raceStore injects a competing append before the first Save so the
// handler under test observes a revision conflict exactly once.
type raceStore struct {
	es.EventStore
	raced bool
}

func (r *raceStore) Save(ctx context.Context, events []es.Envelope, state es.StreamState) (es.AppendResult, error) {
	if !r.raced {
		r.raced = true
		competing := []es.Envelope{{
			StreamID: events[0].StreamID,
			Event:    &moneyDeposited{AccountID: events[0].StreamID, Amount: 1},
			Metadata: map[string]any{},
		}}
		if _, err := r.EventStore.Save(ctx, competing, es.Any{}); err != nil {
			return es.AppendResult{}, err
		}
	}
	return r.EventStore.Save(ctx, events, state)
}

// ---- Tests ----

func TestCommandHandler_AppendsDecidedEvents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, decideDeposit(1000))

	result, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 100})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.NextExpectedVersion != 1 {
		t.Errorf("expected version 1, got %d", result.NextExpectedVersion)
	}

	result, err = handle(ctx, depositMoney{Account: "acct-1", Amount: 200})
	if err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if result.NextExpectedVersion != 2 {
		t.Errorf("expected version 2, got %d", result.NextExpectedVersion)
	}

	iter, err := store.LoadStream(ctx, "acct-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	envelopes, err := iter.All(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(envelopes) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(envelopes))
	}
	if envelopes[0].EventID == envelopes[1].EventID {
		t.Error("pipeline must assign each envelope a fresh event ID")
	}
	if envelopes[0].OccurredAt.IsZero() {
		t.Error("pipeline must stamp the recording time")
	}
}

func TestCommandHandler_BusinessRuleUsesEvolvedState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, decideDeposit(150))

	if _, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 100}); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	// 100 already recorded, another 100 would breach the limit.
	_, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 100})
	if err == nil {
		t.Fatal("expected the limit to reject the deposit")
	}

	iter, _ := store.LoadStream(ctx, "acct-1")
	envelopes, _ := iter.All(ctx)
	if len(envelopes) != 1 {
		t.Errorf("rejected command must not persist events, stream has %d", len(envelopes))
	}
}

func TestCommandHandler_ConflictRetriedOnFreshState(t *testing.T) {
	ctx := context.Background()
	store := &raceStore{EventStore: memory.NewMemoryStore()}

	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, decideDeposit(1000),
		es.WithConflictRetry(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		}),
	)

	result, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 100})
	if err != nil {
		t.Fatalf("expected the retry to absorb the conflict: %v", err)
	}
	// One competing event plus the handler's own.
	if result.NextExpectedVersion != 2 {
		t.Errorf("expected version 2 after retry, got %d", result.NextExpectedVersion)
	}
}

func TestCommandHandler_ConflictWithoutRetrySurfaces(t *testing.T) {
	ctx := context.Background()
	store := &raceStore{EventStore: memory.NewMemoryStore()}

	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, decideDeposit(1000))

	_, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 100})
	var conflict *es.StreamRevisionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StreamRevisionConflictError, got %v", err)
	}
}

func TestCommandHandler_BusinessErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	attempts := 0
	reject := func(state balanceState, cmd depositMoney) ([]es.Event, error) {
		attempts++
		return nil, errors.New("account frozen")
	}

	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, reject,
		es.WithConflictRetry(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5)
		}),
	)

	if _, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 1}); err == nil {
		t.Fatal("expected the rejection to surface")
	}
	if attempts != 1 {
		t.Errorf("business rule violations must not be retried, decider ran %d times", attempts)
	}
}

func TestCommandHandler_EmptyDecisionPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	noop := func(state balanceState, cmd depositMoney) ([]es.Event, error) {
		return nil, nil
	}
	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, noop)

	result, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 1})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Successful || result.NextExpectedVersion != 0 {
		t.Errorf("unexpected result for no-op command: %+v", result)
	}

	iter, _ := store.LoadStream(ctx, "acct-1")
	envelopes, _ := iter.All(ctx)
	if len(envelopes) != 0 {
		t.Errorf("no-op command must persist nothing, stream has %d", len(envelopes))
	}
}

func TestCommandHandler_MetadataExtractors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()

	handle := es.NewCommandHandler(store, balanceState{}, evolveBalance, decideDeposit(1000),
		es.WithMetadataExtractor(func(ctx context.Context) map[string]any {
			return map[string]any{"tenant": "acme"}
		}),
	)

	if _, err := handle(ctx, depositMoney{Account: "acct-1", Amount: 10}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	iter, _ := store.LoadStream(ctx, "acct-1")
	envelopes, _ := iter.All(ctx)
	if len(envelopes) != 1 {
		t.Fatalf("expected 1 event, got %d", len(envelopes))
	}
	if envelopes[0].Metadata["tenant"] != "acme" {
		t.Errorf("extractor metadata missing: %v", envelopes[0].Metadata)
	}
}
