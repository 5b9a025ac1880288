package taskbridge

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/models"
)

type MockTaskStore struct {
	mock.Mock
}

func (m *MockTaskStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	args := m.Called(ctx, id)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTaskStore) FindByLabels(ctx context.Context, userID uuid.UUID, category string, labels []string) (*models.Task, error) {
	args := m.Called(ctx, userID, category, labels)
	task, _ := args.Get(0).(*models.Task)
	return task, args.Error(1)
}

func (m *MockTaskStore) Create(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskStore) Update(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskStore) CompleteForDate(ctx context.Context, task *models.Task, date string, at time.Time) (bool, error) {
	args := m.Called(ctx, task, date, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockTaskStore) UncompleteForDate(ctx context.Context, task *models.Task, date string) (bool, error) {
	args := m.Called(ctx, task, date)
	return args.Bool(0), args.Error(1)
}

func completeUpdate(userID uuid.UUID) domains.TaskUpdate {
	return domains.TaskUpdate{
		UserID:   userID,
		Category: "nutrition",
		Labels:   []string{"system", "daily_nutrition"},
		Title:    "Daily nutrition",
		Action:   domains.ActionCompleted,
		Date:     "2025-06-10",
	}
}

func TestCompleteAutoCreatesSystemTask(t *testing.T) {
	store := new(MockTaskStore)
	userID := uuid.New()
	update := completeUpdate(userID)

	store.On("FindByLabels", mock.Anything, userID, "nutrition", update.Labels).Return(nil, nil)
	store.On("Create", mock.Anything, mock.AnythingOfType("*models.Task")).Return(nil)
	store.On("CompleteForDate", mock.Anything, mock.AnythingOfType("*models.Task"), "2025-06-10", mock.Anything).Return(true, nil)

	bridge := NewBridge(store)
	result := bridge.Apply(context.Background(), update)

	require.True(t, result.Success)
	require.NotEqual(t, uuid.Nil, result.TaskID)
	store.AssertExpectations(t)

	created := store.Calls[1].Arguments.Get(1).(*models.Task)
	require.True(t, created.IsSystem)
	require.Equal(t, "Daily nutrition", created.Title)
}

func TestCompleteTwiceIsIdempotent(t *testing.T) {
	store := new(MockTaskStore)
	userID := uuid.New()
	update := completeUpdate(userID)
	task := &models.Task{ID: uuid.New(), UserID: userID, Category: "nutrition", IsSystem: true}

	store.On("FindByLabels", mock.Anything, userID, "nutrition", update.Labels).Return(task, nil)
	// Second completion for the same date reports no new completion
	store.On("CompleteForDate", mock.Anything, task, "2025-06-10", mock.Anything).Return(false, nil)

	bridge := NewBridge(store)
	result := bridge.Apply(context.Background(), update)

	require.True(t, result.Success)
	require.Equal(t, task.ID, result.TaskID)
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestUncompleteMissingTaskFails(t *testing.T) {
	store := new(MockTaskStore)
	userID := uuid.New()
	update := completeUpdate(userID)
	update.Action = domains.ActionUncompleted

	store.On("FindByLabels", mock.Anything, userID, "nutrition", update.Labels).Return(nil, nil)

	bridge := NewBridge(store)
	result := bridge.Apply(context.Background(), update)

	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}
