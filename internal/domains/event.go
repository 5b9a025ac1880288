package domains

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies the owning domain of an event
type Source string

// The closed set of event sources
const (
	SourceTask        Source = "task-domain"
	SourceNutrition   Source = "nutrition-domain"
	SourceMeasurement Source = "measurement-domain"
)

// Action is the domain-specific verb of an event
type Action string

// Actions understood by the processors
const (
	ActionCreated     Action = "created"
	ActionCompleted   Action = "completed"
	ActionUncompleted Action = "uncompleted"
	ActionLogged      Action = "logged"
	ActionDeleted     Action = "deleted"
	ActionUpdated     Action = "updated"
)

// Event is an immutable fact submitted once per real-world occurrence.
// Token is the idempotency/reversal key; exactly one payload variant is set,
// matching Source.
type Event struct {
	Token      string           `json:"token"`
	UserID     uuid.UUID        `json:"user_id"`
	Source     Source           `json:"source"`
	Action     Action           `json:"action"`
	Timestamp  time.Time        `json:"timestamp"`
	Task       *TaskPayload     `json:"task,omitempty"`
	Meal       *MealPayload     `json:"meal,omitempty"`
	Weight     *WeightPayload   `json:"weight,omitempty"`
}

// TaskPayload carries the task-domain facts needed to compute a context
type TaskPayload struct {
	TaskID           uuid.UUID `json:"task_id"`
	Name             string    `json:"name"`
	CurrentStreak    int       `json:"current_streak"`
	TotalCompletions int       `json:"total_completions"`
	IsSystem         bool      `json:"is_system"`
}

// MealPayload carries the nutrition-domain facts needed to compute a context.
// MealsToday counts meals already logged today including this one; zero means
// unknown and is filled in by the intake enricher before processing.
type MealPayload struct {
	MealID           uuid.UUID `json:"meal_id"`
	Name             string    `json:"name"`
	ProteinPct       float64   `json:"protein_pct"`
	CarbsPct         float64   `json:"carbs_pct"`
	FatPct           float64   `json:"fat_pct"`
	CaloriesPct      float64   `json:"calories_pct"`
	MealsToday       int       `json:"meals_today"`
	TotalMealsLogged int       `json:"total_meals_logged"`
}

// WeightPayload carries the measurement-domain facts needed to compute a context
type WeightPayload struct {
	EntryID      uuid.UUID `json:"entry_id"`
	CurrentKg    float64   `json:"current_kg"`
	PreviousKg   float64   `json:"previous_kg"`
	TotalEntries int       `json:"total_entries"`
}

// TaskUpdate is a cross-domain task obligation emitted by a non-task processor.
// A task is identified either by ID or by (Category, Labels) for the user.
type TaskUpdate struct {
	TaskID   uuid.UUID `json:"task_id,omitempty"`
	UserID   uuid.UUID `json:"user_id"`
	Category string    `json:"category"`
	Labels   []string  `json:"labels"`
	Title    string    `json:"title"`
	Action   Action    `json:"action"`
	Date     string    `json:"date"`
}
