package domains

import (
	"github.com/pkg/errors"
)

const weightLoggedXP = 5

// MeasurementProcessor computes contexts for the measurement domain
type MeasurementProcessor struct {
	clock
}

// NewMeasurementProcessor creates the measurement domain processor
func NewMeasurementProcessor() *MeasurementProcessor {
	return &MeasurementProcessor{}
}

// Source returns the measurement domain identifier
func (p *MeasurementProcessor) Source() Source {
	return SourceMeasurement
}

// Process computes a measurement context from the event payload
func (p *MeasurementProcessor) Process(event Event) (Context, error) {
	if event.Weight == nil {
		return Context{}, errors.Wrap(ErrInvalidPayload, "weight payload required")
	}

	ctx := Context{
		Source:        SourceMeasurement,
		Action:        event.Action,
		CurrentValue:  event.Weight.CurrentKg,
		PreviousValue: event.Weight.PreviousKg,
		Delta:         event.Weight.CurrentKg - event.Weight.PreviousKg,
		TotalEntries:  event.Weight.TotalEntries,
	}

	switch event.Action {
	case ActionLogged:
		ctx.BaseXP = weightLoggedXP
		if hit, ok := weightEntryThresholds.Detect(event.Weight.TotalEntries); ok {
			ctx.MilestoneID = hit.MilestoneID
			ctx.MilestoneBonus = hit.Bonus
		}
	case ActionDeleted:
		// Reduced-state context
	default:
		return Context{}, errors.Wrapf(ErrUnsupportedAction, "measurement action %q", event.Action)
	}

	return ctx, nil
}

// Reverse maps the action to its inverse and clears the milestone
func (p *MeasurementProcessor) Reverse(event Event, original Context) (Context, error) {
	inverse, err := inverseAction(event.Action)
	if err != nil {
		return Context{}, err
	}
	return original.Inverse(inverse), nil
}

// Obligations completes the daily weigh-in system task for every logged entry
func (p *MeasurementProcessor) Obligations(event Event, ctx Context) []TaskUpdate {
	if event.Action != ActionLogged {
		return nil
	}
	return []TaskUpdate{{
		UserID:   event.UserID,
		Category: "measurement",
		Labels:   []string{"system", "daily_weigh_in"},
		Title:    "Daily weigh-in",
		Action:   ActionCompleted,
		Date:     event.Timestamp.UTC().Format("2006-01-02"),
	}}
}
