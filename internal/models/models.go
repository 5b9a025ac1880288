package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event log entry statuses
const (
	EventStatusCompleted = "completed"
	EventStatusFailed    = "failed"
	EventStatusReversed  = "reversed"
)

// EventLog is the durable record of a processed domain event, keyed by token.
// The coordinator creates it; only the reversal service transitions it to reversed.
type EventLog struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	Token             string         `gorm:"not null;uniqueIndex" json:"token"`
	UserID            uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Source            string         `gorm:"not null;index" json:"source"`
	Action            string         `gorm:"not null" json:"action"`
	OccurredAt        time.Time      `gorm:"not null" json:"occurred_at"`
	Payload           datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Context           datatypes.JSON `gorm:"type:jsonb" json:"context"`
	XPAwarded         int            `gorm:"not null;default:0" json:"xp_awarded"`
	Status            string         `gorm:"not null;index" json:"status"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ReversalToken     *string        `gorm:"index" json:"reversal_token,omitempty"`
	ReversalStartedAt *time.Time     `json:"reversal_started_at,omitempty"`
	ReversedAt        *time.Time     `json:"reversed_at,omitempty"`
}

// Task is a user or system task in the task domain
type Task struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
	UserID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Title            string         `gorm:"not null" json:"title"`
	Category         string         `gorm:"index" json:"category"`
	Labels           datatypes.JSON `gorm:"type:jsonb" json:"labels"`
	IsSystem         bool           `gorm:"not null;default:false" json:"is_system"`
	CurrentStreak    int            `gorm:"not null;default:0" json:"current_streak"`
	TotalCompletions int            `gorm:"not null;default:0" json:"total_completions"`
}

// TaskCompletion records one completion of a task for a calendar date.
// The (task_id, date) unique index is what makes cross-domain completes idempotent.
type TaskCompletion struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	TaskID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_task_completion_date" json:"task_id"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Date        string    `gorm:"not null;uniqueIndex:idx_task_completion_date" json:"date"`
	CompletedAt time.Time `gorm:"not null" json:"completed_at"`
	Task        Task      `gorm:"foreignKey:TaskID" json:"-"`
}

// Meal is a logged meal in the nutrition domain
type Meal struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	Name        string         `gorm:"not null" json:"name"`
	Calories    float64        `json:"calories"`
	ProteinG    float64        `json:"protein_g"`
	CarbsG      float64        `json:"carbs_g"`
	FatG        float64        `json:"fat_g"`
	LoggedAt    time.Time      `gorm:"not null;index" json:"logged_at"`
}

// WeightEntry is a recorded weight in the measurement domain
type WeightEntry struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
	UserID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	WeightKg   float64        `gorm:"not null" json:"weight_kg"`
	RecordedAt time.Time      `gorm:"not null;index" json:"recorded_at"`
}

// UserProgress is the per-user XP/level summary maintained by the ledger
type UserProgress struct {
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	TotalXP   int       `gorm:"not null;default:0" json:"total_xp"`
	Level     int       `gorm:"not null;default:1" json:"level"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// XPAward is one signed XP ledger entry; the token unique index makes
// ledger calls idempotent per token.
type XPAward struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	Token     string    `gorm:"not null;uniqueIndex" json:"token"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount    int       `gorm:"not null" json:"amount"`
	Reversal  bool      `gorm:"not null;default:false" json:"reversal"`
	Source    string    `json:"source"`
}

// AchievementGrant records an unlocked achievement. One grant per
// (user, achievement) regardless of how often the threshold is re-detected.
type AchievementGrant struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_achievement" json:"user_id"`
	AchievementID string    `gorm:"not null;uniqueIndex:idx_user_achievement" json:"achievement_id"`
	Token         string    `gorm:"not null" json:"token"`
	GrantedAt     time.Time `gorm:"not null" json:"granted_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&EventLog{},
		&Task{},
		&TaskCompletion{},
		&Meal{},
		&WeightEntry{},
		&UserProgress{},
		&XPAward{},
		&AchievementGrant{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
