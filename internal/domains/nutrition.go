package domains

import (
	"github.com/pkg/errors"
)

const (
	mealLoggedXP = 5

	// Average macro progress needed before the daily nutrition task counts
	// as done for the day.
	macroTargetPct = 80.0

	defaultDailyMealCap = 6
)

// NutritionProcessor computes contexts for the nutrition domain
type NutritionProcessor struct {
	clock
	dailyMealCap int
}

// NewNutritionProcessor creates the nutrition domain processor. cap <= 0
// falls back to the default daily meal cap.
func NewNutritionProcessor(cap int) *NutritionProcessor {
	if cap <= 0 {
		cap = defaultDailyMealCap
	}
	return &NutritionProcessor{dailyMealCap: cap}
}

// Source returns the nutrition domain identifier
func (p *NutritionProcessor) Source() Source {
	return SourceNutrition
}

// Process computes a nutrition context from the event payload.
// The daily-cap check relies on MealsToday supplied by the caller; two
// concurrent submissions for the same user can both pass it. That race is
// inherited from the original flow and only gates bonus XP.
func (p *NutritionProcessor) Process(event Event) (Context, error) {
	if event.Meal == nil {
		return Context{}, errors.Wrap(ErrInvalidPayload, "meal payload required")
	}

	ctx := Context{
		Source:           SourceNutrition,
		Action:           event.Action,
		MacroProgressPct: macroProgress(event.Meal),
		MealsToday:       event.Meal.MealsToday,
	}

	switch event.Action {
	case ActionLogged:
		ctx.ExceedsDailyCap = event.Meal.MealsToday > p.dailyMealCap
		if !ctx.ExceedsDailyCap {
			ctx.BaseXP = mealLoggedXP
		}
		if hit, ok := mealLifetimeThresholds.Detect(event.Meal.TotalMealsLogged); ok {
			ctx.MilestoneID = hit.MilestoneID
			ctx.MilestoneBonus = hit.Bonus
		} else if hit, ok := mealDailyThresholds.Detect(event.Meal.MealsToday); ok {
			ctx.MilestoneID = hit.MilestoneID
			ctx.MilestoneBonus = hit.Bonus
		}
	case ActionDeleted:
		// Reduced-state context
	default:
		return Context{}, errors.Wrapf(ErrUnsupportedAction, "nutrition action %q", event.Action)
	}

	return ctx, nil
}

// Reverse maps the action to its inverse and clears the milestone
func (p *NutritionProcessor) Reverse(event Event, original Context) (Context, error) {
	inverse, err := inverseAction(event.Action)
	if err != nil {
		return Context{}, err
	}
	return original.Inverse(inverse), nil
}

// Obligations completes the daily nutrition system task once the macro
// targets are substantially met for the day
func (p *NutritionProcessor) Obligations(event Event, ctx Context) []TaskUpdate {
	if event.Action != ActionLogged || ctx.MacroProgressPct < macroTargetPct {
		return nil
	}
	return []TaskUpdate{{
		UserID:   event.UserID,
		Category: "nutrition",
		Labels:   []string{"system", "daily_nutrition"},
		Title:    "Daily nutrition",
		Action:   ActionCompleted,
		Date:     event.Timestamp.UTC().Format("2006-01-02"),
	}}
}

func macroProgress(meal *MealPayload) float64 {
	return (meal.ProteinPct + meal.CarbsPct + meal.FatPct + meal.CaloriesPct) / 4.0
}
