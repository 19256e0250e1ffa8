package eventsourcing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Decorator enriches an envelope with metadata before persistence. A
// decorator is a pure transform: it returns a new envelope and leaves
// the input untouched. Each decorator owns a fixed set of fields or
// header keys; it must be idempotent for those (running twice must not
// double-apply) and must never remove or rewrite anything it does not
// own.
type Decorator interface {
	Decorate(ctx context.Context, env Envelope) Envelope
}

// DecoratorFunc adapts a plain function to the Decorator interface.
type DecoratorFunc func(ctx context.Context, env Envelope) Envelope

func (f DecoratorFunc) Decorate(ctx context.Context, env Envelope) Envelope {
	return f(ctx, env)
}

// Pipeline applies decorators in a fixed configured order. It has no
// storage or network side effects and is freely shared across
// concurrent callers.
type Pipeline struct {
	decorators []Decorator
}

func NewPipeline(decorators ...Decorator) *Pipeline {
	return &Pipeline{decorators: decorators}
}

// DefaultPipeline assigns a recording time and a fresh event ID where
// absent, then propagates causation/correlation IDs from the ambient
// context.
func DefaultPipeline() *Pipeline {
	return NewPipeline(
		RecordingTime(time.Now),
		FreshEventID(),
		CausationCorrelation(),
	)
}

func (p *Pipeline) Apply(ctx context.Context, env Envelope) Envelope {
	for _, d := range p.decorators {
		env = d.Decorate(ctx, env)
	}
	return env
}

// RecordingTime assigns OccurredAt from the given clock if it is still
// the zero time.
func RecordingTime(clock func() time.Time) Decorator {
	return DecoratorFunc(func(_ context.Context, env Envelope) Envelope {
		if env.OccurredAt.IsZero() {
			env.OccurredAt = clock()
		}
		return env
	})
}

// FreshEventID assigns a new event ID if none is set.
func FreshEventID() Decorator {
	return DecoratorFunc(func(_ context.Context, env Envelope) Envelope {
		if env.EventID == uuid.Nil {
			env.EventID = uuid.New()
		}
		return env
	})
}

// CausationCorrelation copies the ambient causation and correlation IDs
// into the envelope metadata. Headers already present win; an absent
// ambient value adds nothing.
func CausationCorrelation() Decorator {
	return DecoratorFunc(func(ctx context.Context, env Envelope) Envelope {
		causation := CausationFromContext(ctx)
		correlation := CorrelationFromContext(ctx)
		if causation == "" && correlation == "" {
			return env
		}

		md := CloneMetadata(env.Metadata)
		if causation != "" {
			if _, exists := md[MetaCausationID]; !exists {
				md[MetaCausationID] = causation
			}
		}
		if correlation != "" {
			if _, exists := md[MetaCorrelationID]; !exists {
				md[MetaCorrelationID] = correlation
			}
		}
		env.Metadata = md
		return env
	})
}

// StaticMetadata adds fixed headers (environment name, node ID) to
// every envelope. Existing keys are never overwritten.
func StaticMetadata(headers map[string]any) Decorator {
	return DecoratorFunc(func(_ context.Context, env Envelope) Envelope {
		md := CloneMetadata(env.Metadata)
		for k, v := range headers {
			if _, exists := md[k]; !exists {
				md[k] = v
			}
		}
		env.Metadata = md
		return env
	})
}
