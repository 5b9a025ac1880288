package domains

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func taskEvent(action Action, streak, total int) Event {
	return Event{
		Token:     "1700000000000-abc12345",
		UserID:    uuid.New(),
		Source:    SourceTask,
		Action:    action,
		Timestamp: time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC),
		Task: &TaskPayload{
			TaskID:           uuid.New(),
			Name:             "Morning run",
			CurrentStreak:    streak,
			TotalCompletions: total,
		},
	}
}

func TestMilestoneDetectionIsEqualityBased(t *testing.T) {
	table := taskStreakThresholds

	hit, ok := table.Detect(7)
	require.True(t, ok)
	require.Equal(t, "task_streak_7", hit.MilestoneID)
	require.Equal(t, 70, hit.Bonus)

	// Exceeding a threshold is not a hit
	_, ok = table.Detect(8)
	require.False(t, ok)

	_, ok = table.Detect(0)
	require.False(t, ok)

	// Referentially transparent: same input, same answer
	again, ok := table.Detect(7)
	require.True(t, ok)
	require.Equal(t, hit, again)
}

func TestTaskProcessorCompletedWithStreakMilestone(t *testing.T) {
	p := NewTaskProcessor()

	ctx, err := p.Process(taskEvent(ActionCompleted, 7, 42))
	require.NoError(t, err)
	require.Equal(t, "task_streak_7", ctx.MilestoneID)
	require.Equal(t, 10, ctx.BaseXP)
	require.Equal(t, 80, ctx.XPTotal())
	require.Equal(t, 7, ctx.Streak)
}

func TestTaskProcessorTotalMilestoneWhenNoStreakHit(t *testing.T) {
	p := NewTaskProcessor()

	ctx, err := p.Process(taskEvent(ActionCompleted, 4, 50))
	require.NoError(t, err)
	require.Equal(t, "task_total_50", ctx.MilestoneID)
}

func TestTaskProcessorUncompletedCarriesNoMilestone(t *testing.T) {
	p := NewTaskProcessor()

	ctx, err := p.Process(taskEvent(ActionUncompleted, 7, 42))
	require.NoError(t, err)
	require.Empty(t, ctx.MilestoneID)
	require.Zero(t, ctx.XPTotal())
}

func TestTaskProcessorRejectsMissingPayload(t *testing.T) {
	p := NewTaskProcessor()

	event := taskEvent(ActionCompleted, 1, 1)
	event.Task = nil
	_, err := p.Process(event)
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestReverseMapsActionAndClearsMilestone(t *testing.T) {
	p := NewTaskProcessor()
	event := taskEvent(ActionCompleted, 7, 42)

	original, err := p.Process(event)
	require.NoError(t, err)
	require.NotEmpty(t, original.MilestoneID)

	inverse, err := p.Reverse(event, original)
	require.NoError(t, err)
	require.Equal(t, ActionUncompleted, inverse.Action)
	require.True(t, inverse.Reversal)
	require.Empty(t, inverse.MilestoneID)
	require.Zero(t, inverse.MilestoneBonus)
	require.Equal(t, original.Streak, inverse.Streak)
}

func TestReverseFailsForUpdateAction(t *testing.T) {
	p := NewTaskProcessor()
	event := taskEvent(ActionUpdated, 1, 1)

	_, err := p.Reverse(event, Context{Source: SourceTask, Action: ActionUpdated})
	require.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestCanReverseIsCalendarDayEquality(t *testing.T) {
	p := NewTaskProcessor()

	event := taskEvent(ActionCompleted, 1, 1)
	event.Timestamp = time.Date(2025, 6, 9, 23, 59, 59, 0, time.UTC)

	// Yesterday 23:59:59 is not reversible at today 00:00:01
	p.Now = func() time.Time { return time.Date(2025, 6, 10, 0, 0, 1, 0, time.UTC) }
	require.False(t, p.CanReverse(event))

	// Today 00:00:01 is reversible at today 23:59:59
	event.Timestamp = time.Date(2025, 6, 10, 0, 0, 1, 0, time.UTC)
	p.Now = func() time.Time { return time.Date(2025, 6, 10, 23, 59, 59, 0, time.UTC) }
	require.True(t, p.CanReverse(event))
}

func TestNutritionProcessorDailyCapAndMilestones(t *testing.T) {
	p := NewNutritionProcessor(6)

	event := Event{
		UserID:    uuid.New(),
		Source:    SourceNutrition,
		Action:    ActionLogged,
		Timestamp: time.Now().UTC(),
		Meal: &MealPayload{
			MealID:           uuid.New(),
			ProteinPct:       90,
			CarbsPct:         85,
			FatPct:           80,
			CaloriesPct:      85,
			MealsToday:       3,
			TotalMealsLogged: 27,
		},
	}

	ctx, err := p.Process(event)
	require.NoError(t, err)
	require.Equal(t, 5, ctx.BaseXP)
	require.False(t, ctx.ExceedsDailyCap)
	require.Equal(t, "nutrition_daily_3", ctx.MilestoneID)
	require.InDelta(t, 85.0, ctx.MacroProgressPct, 0.001)

	// Over the cap no base XP is earned
	event.Meal.MealsToday = 7
	event.Meal.TotalMealsLogged = 31
	ctx, err = p.Process(event)
	require.NoError(t, err)
	require.True(t, ctx.ExceedsDailyCap)
	require.Zero(t, ctx.BaseXP)

	// Lifetime milestone wins over the daily one
	event.Meal.MealsToday = 3
	event.Meal.TotalMealsLogged = 50
	ctx, err = p.Process(event)
	require.NoError(t, err)
	require.Equal(t, "nutrition_total_50", ctx.MilestoneID)
}

func TestNutritionObligationsRequireMacroTarget(t *testing.T) {
	p := NewNutritionProcessor(0)

	event := Event{
		UserID:    uuid.New(),
		Source:    SourceNutrition,
		Action:    ActionLogged,
		Timestamp: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
		Meal:      &MealPayload{MealsToday: 2},
	}

	require.Empty(t, p.Obligations(event, Context{MacroProgressPct: 79.9}))

	updates := p.Obligations(event, Context{MacroProgressPct: 85})
	require.Len(t, updates, 1)
	require.Equal(t, ActionCompleted, updates[0].Action)
	require.Equal(t, "nutrition", updates[0].Category)
	require.Equal(t, "2025-06-10", updates[0].Date)
	require.Equal(t, event.UserID, updates[0].UserID)
}

func TestMeasurementProcessorComputesDelta(t *testing.T) {
	p := NewMeasurementProcessor()

	event := Event{
		UserID:    uuid.New(),
		Source:    SourceMeasurement,
		Action:    ActionLogged,
		Timestamp: time.Now().UTC(),
		Weight: &WeightPayload{
			EntryID:      uuid.New(),
			CurrentKg:    81.2,
			PreviousKg:   82.0,
			TotalEntries: 10,
		},
	}

	ctx, err := p.Process(event)
	require.NoError(t, err)
	require.InDelta(t, -0.8, ctx.Delta, 0.001)
	require.Equal(t, "weight_entries_10", ctx.MilestoneID)
	require.Equal(t, 5, ctx.BaseXP)

	updates := p.Obligations(event, ctx)
	require.Len(t, updates, 1)
	require.Equal(t, "measurement", updates[0].Category)
}

func TestRegistryResolvesKnownDomainsOnly(t *testing.T) {
	reg := NewDefaultRegistry(6)

	for _, source := range []Source{SourceTask, SourceNutrition, SourceMeasurement} {
		p, err := reg.Resolve(source)
		require.NoError(t, err)
		require.Equal(t, source, p.Source())
	}

	_, err := reg.Resolve("social-domain")
	require.ErrorIs(t, err, ErrUnknownDomain)
}
