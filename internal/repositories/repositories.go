package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"example.com/fitquest/services/progression/internal/models"
)

// TaskRepository provides access to task data
type TaskRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *gorm.DB, readOnlyDB *gorm.DB) *TaskRepository {
	return &TaskRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// GetByID gets a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	var task models.Task
	err := r.readOnlyDB.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to get task by ID")
	}
	return &task, nil
}

// FindByLabels finds a user's task by category and exact label set
func (r *TaskRepository) FindByLabels(ctx context.Context, userID uuid.UUID, category string, labels []string) (*models.Task, error) {
	encoded, err := json.Marshal(labels)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode labels")
	}

	var task models.Task
	err = r.readOnlyDB.WithContext(ctx).
		Where("user_id = ? AND category = ? AND labels = ?", userID, category, datatypes.JSON(encoded)).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find task by labels")
	}
	return &task, nil
}

// Create inserts a new task
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return errors.Wrap(err, "failed to create task")
	}
	return nil
}

// Update saves mutable task fields
func (r *TaskRepository) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return errors.Wrap(err, "failed to update task")
	}
	return nil
}

// CompleteForDate records a completion for the given calendar date and bumps
// the task's counters. A second call for the same date is a no-op; the
// (task_id, date) unique index backs that up under concurrency.
func (r *TaskRepository) CompleteForDate(ctx context.Context, task *models.Task, date string, at time.Time) (bool, error) {
	completed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TaskCompletion
		err := tx.Where("task_id = ? AND date = ?", task.ID, date).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to check existing completion")
		}

		completion := models.TaskCompletion{
			ID:          uuid.New(),
			TaskID:      task.ID,
			UserID:      task.UserID,
			Date:        date,
			CompletedAt: at,
		}
		if err := tx.Create(&completion).Error; err != nil {
			return errors.Wrap(err, "failed to create task completion")
		}

		task.CurrentStreak++
		task.TotalCompletions++
		if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
			"current_streak":    task.CurrentStreak,
			"total_completions": task.TotalCompletions,
		}).Error; err != nil {
			return errors.Wrap(err, "failed to bump task counters")
		}

		completed = true
		return nil
	})
	return completed, err
}

// UncompleteForDate removes a completion and rolls the counters back
func (r *TaskRepository) UncompleteForDate(ctx context.Context, task *models.Task, date string) (bool, error) {
	removed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("task_id = ? AND date = ?", task.ID, date).Delete(&models.TaskCompletion{})
		if result.Error != nil {
			return errors.Wrap(result.Error, "failed to delete task completion")
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if task.CurrentStreak > 0 {
			task.CurrentStreak--
		}
		if task.TotalCompletions > 0 {
			task.TotalCompletions--
		}
		if err := tx.Model(&models.Task{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
			"current_streak":    task.CurrentStreak,
			"total_completions": task.TotalCompletions,
		}).Error; err != nil {
			return errors.Wrap(err, "failed to roll back task counters")
		}

		removed = true
		return nil
	})
	return removed, err
}

// MealRepository provides access to meal data
type MealRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewMealRepository creates a new meal repository
func NewMealRepository(db *gorm.DB, readOnlyDB *gorm.DB) *MealRepository {
	return &MealRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// CountForDay counts a user's meals logged on the given UTC calendar day.
// Read-then-act callers inherit the documented daily-cap race.
func (r *MealRepository) CountForDay(ctx context.Context, userID uuid.UUID, day time.Time) (int, error) {
	start := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Meal{}).
		Where("user_id = ? AND logged_at >= ? AND logged_at < ?", userID, start, end).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count meals for day")
	}
	return int(count), nil
}

// CountForUser counts a user's lifetime logged meals
func (r *MealRepository) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Meal{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count meals for user")
	}
	return int(count), nil
}

// WeightRepository provides access to weight entry data
type WeightRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewWeightRepository creates a new weight repository
func NewWeightRepository(db *gorm.DB, readOnlyDB *gorm.DB) *WeightRepository {
	return &WeightRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// LatestBefore returns the most recent entry recorded before the given time
func (r *WeightRepository) LatestBefore(ctx context.Context, userID uuid.UUID, before time.Time) (*models.WeightEntry, error) {
	var entry models.WeightEntry
	err := r.readOnlyDB.WithContext(ctx).
		Where("user_id = ? AND recorded_at < ?", userID, before).
		Order("recorded_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get latest weight entry")
	}
	return &entry, nil
}

// CountForUser counts a user's lifetime weight entries
func (r *WeightRepository) CountForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.WeightEntry{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count weight entries")
	}
	return int(count), nil
}
