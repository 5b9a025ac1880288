package domains

import (
	"github.com/pkg/errors"
)

// Base XP amounts per task action
const (
	taskCompletedXP = 10
	taskCreatedXP   = 2
)

// TaskProcessor computes contexts for the task domain
type TaskProcessor struct {
	clock
}

// NewTaskProcessor creates the task domain processor
func NewTaskProcessor() *TaskProcessor {
	return &TaskProcessor{}
}

// Source returns the task domain identifier
func (p *TaskProcessor) Source() Source {
	return SourceTask
}

// Process computes a task context from the event payload
func (p *TaskProcessor) Process(event Event) (Context, error) {
	if event.Task == nil {
		return Context{}, errors.Wrap(ErrInvalidPayload, "task payload required")
	}

	ctx := Context{
		Source:           SourceTask,
		Action:           event.Action,
		Streak:           event.Task.CurrentStreak,
		TotalCompletions: event.Task.TotalCompletions,
		SystemTask:       event.Task.IsSystem,
	}

	switch event.Action {
	case ActionCompleted:
		ctx.BaseXP = taskCompletedXP
		if hit, ok := taskStreakThresholds.Detect(event.Task.CurrentStreak); ok {
			ctx.MilestoneID = hit.MilestoneID
			ctx.MilestoneBonus = hit.Bonus
		} else if hit, ok := taskTotalThresholds.Detect(event.Task.TotalCompletions); ok {
			ctx.MilestoneID = hit.MilestoneID
			ctx.MilestoneBonus = hit.Bonus
		}
	case ActionCreated:
		ctx.BaseXP = taskCreatedXP
	case ActionUncompleted, ActionDeleted:
		// Reduced-state context, no XP and never a milestone
	default:
		return Context{}, errors.Wrapf(ErrUnsupportedAction, "task action %q", event.Action)
	}

	return ctx, nil
}

// Reverse maps the action to its inverse and clears the milestone
func (p *TaskProcessor) Reverse(event Event, original Context) (Context, error) {
	inverse, err := inverseAction(event.Action)
	if err != nil {
		return Context{}, err
	}
	return original.Inverse(inverse), nil
}

// Obligations is always empty: the task domain never triggers itself
func (p *TaskProcessor) Obligations(event Event, ctx Context) []TaskUpdate {
	return nil
}
