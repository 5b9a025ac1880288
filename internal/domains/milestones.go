package domains

import "fmt"

// Threshold is a declarative milestone rule: crossing it is a pure function
// of the current counter value against the fixed list, so detection needs no
// persisted "previously reported" flag as long as counters increment by one.
type Threshold struct {
	Value       int
	MilestoneID string
	Bonus       int
}

// ThresholdTable is an ascending list of thresholds for one counter class
type ThresholdTable []Threshold

// Detect reports a hit iff the current value equals a listed threshold.
// Equality, not exceedance: each threshold only needs to fire once per unit
// increment.
func (t ThresholdTable) Detect(value int) (Threshold, bool) {
	for _, th := range t {
		if th.Value == value {
			return th, true
		}
		if th.Value > value {
			break
		}
	}
	return Threshold{}, false
}

func streakTable(prefix string, bonusPerUnit int, values ...int) ThresholdTable {
	table := make(ThresholdTable, 0, len(values))
	for _, v := range values {
		table = append(table, Threshold{
			Value:       v,
			MilestoneID: fmt.Sprintf("%s_%d", prefix, v),
			Bonus:       bonusPerUnit * v,
		})
	}
	return table
}

// Fixed milestone tables per domain
var (
	taskStreakThresholds = streakTable("task_streak", 10, 3, 7, 14, 30, 60, 100)
	taskTotalThresholds  = streakTable("task_total", 2, 10, 50, 100, 250, 500)

	mealDailyThresholds    = streakTable("nutrition_daily", 10, 3)
	mealLifetimeThresholds = streakTable("nutrition_total", 2, 10, 50, 100, 250)

	weightEntryThresholds = streakTable("weight_entries", 5, 5, 10, 25, 50, 100)
)
