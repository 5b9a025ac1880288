package domains

// Context is the computed, domain-specific summary derived from an event.
// It is what gets forwarded to the XP ledger. A context computed for a
// reversal never carries a milestone.
type Context struct {
	Source   Source `json:"source"`
	Action   Action `json:"action"`
	Reversal bool   `json:"reversal"`

	BaseXP         int    `json:"base_xp"`
	MilestoneID    string `json:"milestone_id,omitempty"`
	MilestoneBonus int    `json:"milestone_bonus,omitempty"`

	// Task domain
	Streak           int  `json:"streak,omitempty"`
	TotalCompletions int  `json:"total_completions,omitempty"`
	SystemTask       bool `json:"system_task,omitempty"`

	// Nutrition domain
	MacroProgressPct float64 `json:"macro_progress_pct,omitempty"`
	MealsToday       int     `json:"meals_today,omitempty"`
	ExceedsDailyCap  bool    `json:"exceeds_daily_cap,omitempty"`

	// Measurement domain
	CurrentValue  float64 `json:"current_value,omitempty"`
	PreviousValue float64 `json:"previous_value,omitempty"`
	Delta         float64 `json:"delta,omitempty"`
	TotalEntries  int     `json:"total_entries,omitempty"`
}

// XPTotal is the XP a forward event earns: base plus any milestone bonus.
func (c Context) XPTotal() int {
	return c.BaseXP + c.MilestoneBonus
}

// Inverse returns a copy for the reversing event: inverse action, milestone
// cleared, reversal flag set.
func (c Context) Inverse(action Action) Context {
	inv := c
	inv.Action = action
	inv.Reversal = true
	inv.MilestoneID = ""
	inv.MilestoneBonus = 0
	return inv
}
