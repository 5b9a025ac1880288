package domains

import (
	"time"

	"github.com/pkg/errors"
)

// Processor is the capability set every domain implements: compute a context
// from an event, decide reversibility, and compute the inverse context.
// Processors are stateless; counters come in through the payload.
type Processor interface {
	Source() Source
	Process(event Event) (Context, error)
	CanReverse(event Event) bool
	Reverse(event Event, original Context) (Context, error)
	Obligations(event Event, ctx Context) []TaskUpdate
}

// clock lets tests pin "now" for the same-day reversibility check
type clock struct {
	Now func() time.Time
}

func (c clock) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now()
}

// CanReverse is the sole reversibility rule: the event occurred on the same
// UTC calendar day as now. There is no per-domain override.
func (c clock) CanReverse(event Event) bool {
	return sameCalendarDay(event.Timestamp, c.now())
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// inverseAction maps an action to its semantic inverse
func inverseAction(action Action) (Action, error) {
	switch action {
	case ActionCompleted:
		return ActionUncompleted, nil
	case ActionCreated:
		return ActionDeleted, nil
	case ActionLogged:
		return ActionDeleted, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedAction, "action %q", action)
	}
}

// Registry resolves the processor owning an event source. It is built once
// at startup over the closed set of domains.
type Registry struct {
	processors map[Source]Processor
}

// NewRegistry builds a registry from the given processors
func NewRegistry(processors ...Processor) *Registry {
	reg := &Registry{processors: make(map[Source]Processor, len(processors))}
	for _, p := range processors {
		reg.processors[p.Source()] = p
	}
	return reg
}

// NewDefaultRegistry builds the registry with all three domain processors
func NewDefaultRegistry(dailyMealCap int) *Registry {
	return NewRegistry(
		NewTaskProcessor(),
		NewNutritionProcessor(dailyMealCap),
		NewMeasurementProcessor(),
	)
}

// Resolve returns the processor for a source
func (r *Registry) Resolve(source Source) (Processor, error) {
	p, ok := r.processors[source]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDomain, "source %q", source)
	}
	return p, nil
}

// Sources lists the registered domains
func (r *Registry) Sources() []Source {
	sources := make([]Source, 0, len(r.processors))
	for s := range r.processors {
		sources = append(sources, s)
	}
	return sources
}
