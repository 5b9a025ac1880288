// Package taskbridge applies cross-domain task updates: a non-task domain's
// event creating, updating or completing a task without knowing anything
// about task storage internals.
package taskbridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/models"
	"example.com/fitquest/services/progression/internal/repositories"
)

// TaskStore is the slice of the task repository the bridge needs
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	FindByLabels(ctx context.Context, userID uuid.UUID, category string, labels []string) (*models.Task, error)
	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	CompleteForDate(ctx context.Context, task *models.Task, date string, at time.Time) (bool, error)
	UncompleteForDate(ctx context.Context, task *models.Task, date string) (bool, error)
}

var _ TaskStore = (*repositories.TaskRepository)(nil)

// Result is the per-update outcome returned to the coordinator
type Result struct {
	TaskID  uuid.UUID `json:"task_id"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
}

// Bridge applies task updates on behalf of other domains
type Bridge struct {
	tasks TaskStore
	now   func() time.Time
}

// NewBridge creates a new cross-domain task bridge
func NewBridge(tasks TaskStore) *Bridge {
	return &Bridge{
		tasks: tasks,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Apply executes one task update request. A complete against a missing task
// auto-creates a system task first; a repeated complete for the same date is
// a no-op.
func (b *Bridge) Apply(ctx context.Context, update domains.TaskUpdate) Result {
	task, err := b.resolveTask(ctx, update)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	switch update.Action {
	case domains.ActionCreated:
		if task != nil {
			// Idempotent: the labelled task already exists
			return Result{TaskID: task.ID, Success: true}
		}
		task, err = b.createSystemTask(ctx, update)
		if err != nil {
			return Result{Success: false, Error: err.Error()}
		}
		return Result{TaskID: task.ID, Success: true}

	case domains.ActionCompleted:
		if task == nil {
			task, err = b.createSystemTask(ctx, update)
			if err != nil {
				return Result{Success: false, Error: err.Error()}
			}
		}
		completed, err := b.tasks.CompleteForDate(ctx, task, update.Date, b.now())
		if err != nil {
			return Result{TaskID: task.ID, Success: false, Error: err.Error()}
		}
		if !completed {
			log.Debug().
				Str("task_id", task.ID.String()).
				Str("date", update.Date).
				Msg("Task already completed for date")
		}
		return Result{TaskID: task.ID, Success: true}

	case domains.ActionUncompleted:
		if task == nil {
			return Result{Success: false, Error: "task not found"}
		}
		if _, err := b.tasks.UncompleteForDate(ctx, task, update.Date); err != nil {
			return Result{TaskID: task.ID, Success: false, Error: err.Error()}
		}
		return Result{TaskID: task.ID, Success: true}

	case domains.ActionUpdated:
		if task == nil {
			return Result{Success: false, Error: "task not found"}
		}
		if update.Title != "" {
			task.Title = update.Title
		}
		if err := b.tasks.Update(ctx, task); err != nil {
			return Result{TaskID: task.ID, Success: false, Error: err.Error()}
		}
		return Result{TaskID: task.ID, Success: true}

	default:
		return Result{Success: false, Error: errors.Wrapf(domains.ErrUnsupportedAction, "bridge action %q", update.Action).Error()}
	}
}

func (b *Bridge) resolveTask(ctx context.Context, update domains.TaskUpdate) (*models.Task, error) {
	if update.TaskID != uuid.Nil {
		task, err := b.tasks.GetByID(ctx, update.TaskID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to resolve task by id")
		}
		return task, nil
	}
	return b.tasks.FindByLabels(ctx, update.UserID, update.Category, update.Labels)
}

func (b *Bridge) createSystemTask(ctx context.Context, update domains.TaskUpdate) (*models.Task, error) {
	labels, err := json.Marshal(update.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode labels")
	}

	task := &models.Task{
		ID:       uuid.New(),
		UserID:   update.UserID,
		Title:    update.Title,
		Category: update.Category,
		Labels:   datatypes.JSON(labels),
		IsSystem: true,
	}
	if err := b.tasks.Create(ctx, task); err != nil {
		return nil, errors.Wrap(err, "failed to create system task")
	}

	log.Info().
		Str("task_id", task.ID.String()).
		Str("category", task.Category).
		Msg("System task auto-created")
	return task, nil
}
