package coordinator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"example.com/fitquest/services/progression/config"
	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/metrics"
	"example.com/fitquest/services/progression/internal/models"
	"example.com/fitquest/services/progression/internal/taskbridge"
	"example.com/fitquest/services/progression/internal/tracing"
	"example.com/fitquest/services/progression/internal/tracker"
)

type MockEventLogStore struct {
	mock.Mock
}

func (m *MockEventLogStore) Create(ctx context.Context, entry *models.EventLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockEventLogStore) FindByToken(ctx context.Context, token string) (*models.EventLog, error) {
	args := m.Called(ctx, token)
	entry, _ := args.Get(0).(*models.EventLog)
	return entry, args.Error(1)
}

func (m *MockEventLogStore) SetXPAwarded(ctx context.Context, token string, xp int) error {
	args := m.Called(ctx, token, xp)
	return args.Error(0)
}

func (m *MockEventLogStore) MarkFailed(ctx context.Context, token string, message string) error {
	args := m.Called(ctx, token, message)
	return args.Error(0)
}

func (m *MockEventLogStore) BeginReversal(ctx context.Context, token, reversalToken string, at time.Time) error {
	args := m.Called(ctx, token, reversalToken, at)
	return args.Error(0)
}

func (m *MockEventLogStore) ClearReversal(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockEventLogStore) MarkReversed(ctx context.Context, token string, at time.Time) error {
	args := m.Called(ctx, token, at)
	return args.Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Award(ctx context.Context, req ledger.AwardRequest) (ledger.AwardResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(ledger.AwardResult), args.Error(1)
}

type MockBridge struct {
	mock.Mock
}

func (m *MockBridge) Apply(ctx context.Context, update domains.TaskUpdate) taskbridge.Result {
	args := m.Called(ctx, update)
	return args.Get(0).(taskbridge.Result)
}

func newTestCoordinator(store EventLogStore, xpLedger XPLedger, bridge TaskBridge) *Coordinator {
	tracer, _ := tracing.NewTracer(config.TracingConfig{})
	return NewCoordinator(
		domains.NewDefaultRegistry(6),
		store,
		xpLedger,
		bridge,
		tracker.New(time.Minute),
		nil,
		nil,
		metrics.NewMetrics(),
		tracer,
	)
}

func taskCompletedEvent(userID uuid.UUID, at time.Time) domains.Event {
	return domains.Event{
		Token:     tracker.NewToken(),
		UserID:    userID,
		Source:    domains.SourceTask,
		Action:    domains.ActionCompleted,
		Timestamp: at,
		Task: &domains.TaskPayload{
			TaskID:           uuid.New(),
			Name:             "Morning run",
			CurrentStreak:    7,
			TotalCompletions: 42,
		},
	}
}

func TestProcessEventAwardsMilestoneXP(t *testing.T) {
	userID := uuid.New()
	event := taskCompletedEvent(userID, time.Now().UTC())

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)
	bridge := new(MockBridge)

	store.On("Create", mock.Anything, mock.MatchedBy(func(entry *models.EventLog) bool {
		return entry.Token == event.Token &&
			entry.Status == models.EventStatusCompleted &&
			entry.XPAwarded == 0
	})).Return(nil)
	xpLedger.On("Award", mock.Anything, mock.MatchedBy(func(req ledger.AwardRequest) bool {
		// 10 base plus the 7-day streak bonus
		return req.Token == event.Token && req.Amount == 80 && req.UserID == userID
	})).Return(ledger.AwardResult{XPAwarded: 80, TotalXP: 500, Level: 3, LeveledUp: true}, nil)
	store.On("SetXPAwarded", mock.Anything, event.Token, 80).Return(nil)

	result, err := newTestCoordinator(store, xpLedger, bridge).ProcessEvent(context.Background(), event)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 80, result.XPAwarded)
	require.True(t, result.LeveledUp)
	require.Empty(t, result.TaskUpdates)
	store.AssertExpectations(t)
	xpLedger.AssertExpectations(t)
	bridge.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestProcessEventUnknownDomainPersistsNothing(t *testing.T) {
	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)

	event := domains.Event{
		Token:     tracker.NewToken(),
		UserID:    uuid.New(),
		Source:    "social-domain",
		Action:    domains.ActionCompleted,
		Timestamp: time.Now().UTC(),
	}

	result, err := newTestCoordinator(store, xpLedger, new(MockBridge)).ProcessEvent(context.Background(), event)

	require.ErrorIs(t, err, domains.ErrUnknownDomain)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "unknown")
	store.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	xpLedger.AssertNotCalled(t, "Award", mock.Anything, mock.Anything)
}

func TestProcessEventProcessorFailureRecordsFailedEntry(t *testing.T) {
	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)

	// Task event without its payload is rejected by the processor
	event := domains.Event{
		Token:     tracker.NewToken(),
		UserID:    uuid.New(),
		Source:    domains.SourceTask,
		Action:    domains.ActionCompleted,
		Timestamp: time.Now().UTC(),
	}

	store.On("Create", mock.Anything, mock.MatchedBy(func(entry *models.EventLog) bool {
		return entry.Token == event.Token &&
			entry.Status == models.EventStatusFailed &&
			entry.ErrorMessage != ""
	})).Return(nil)

	result, err := newTestCoordinator(store, xpLedger, new(MockBridge)).ProcessEvent(context.Background(), event)

	require.ErrorIs(t, err, domains.ErrInvalidPayload)
	require.False(t, result.Success)
	store.AssertExpectations(t)
	xpLedger.AssertNotCalled(t, "Award", mock.Anything, mock.Anything)
}

func TestProcessEventDuplicateTokenRejected(t *testing.T) {
	event := taskCompletedEvent(uuid.New(), time.Now().UTC())

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)

	// The token unique index already holds an entry for this event
	store.On("Create", mock.Anything, mock.Anything).
		Return(errors.Wrapf(domains.ErrDuplicateToken, "token %q", event.Token))

	result, err := newTestCoordinator(store, xpLedger, new(MockBridge)).ProcessEvent(context.Background(), event)

	require.ErrorIs(t, err, domains.ErrDuplicateToken)
	require.False(t, result.Success)
	store.AssertExpectations(t)
	xpLedger.AssertNotCalled(t, "Award", mock.Anything, mock.Anything)
}

func TestProcessEventLedgerFailureMarksEntryFailed(t *testing.T) {
	event := taskCompletedEvent(uuid.New(), time.Now().UTC())

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)
	bridge := new(MockBridge)

	store.On("Create", mock.Anything, mock.Anything).Return(nil)
	xpLedger.On("Award", mock.Anything, mock.Anything).
		Return(ledger.AwardResult{}, domains.ErrLedgerFailure)
	store.On("MarkFailed", mock.Anything, event.Token, mock.Anything).Return(nil)

	result, err := newTestCoordinator(store, xpLedger, bridge).ProcessEvent(context.Background(), event)

	require.ErrorIs(t, err, domains.ErrLedgerFailure)
	require.False(t, result.Success)
	store.AssertExpectations(t)
	bridge.AssertNotCalled(t, "Apply", mock.Anything, mock.Anything)
}

func TestProcessEventAppliesCrossDomainObligations(t *testing.T) {
	userID := uuid.New()
	event := domains.Event{
		Token:     tracker.NewToken(),
		UserID:    userID,
		Source:    domains.SourceMeasurement,
		Action:    domains.ActionLogged,
		Timestamp: time.Now().UTC(),
		Weight: &domains.WeightPayload{
			EntryID:      uuid.New(),
			CurrentKg:    81.2,
			PreviousKg:   82.0,
			TotalEntries: 3,
		},
	}

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)
	bridge := new(MockBridge)

	store.On("Create", mock.Anything, mock.Anything).Return(nil)
	xpLedger.On("Award", mock.Anything, mock.Anything).
		Return(ledger.AwardResult{XPAwarded: 5}, nil)
	store.On("SetXPAwarded", mock.Anything, event.Token, 5).Return(nil)
	bridge.On("Apply", mock.Anything, mock.MatchedBy(func(update domains.TaskUpdate) bool {
		return update.Category == "measurement" &&
			update.Action == domains.ActionCompleted &&
			update.UserID == userID
	})).Return(taskbridge.Result{TaskID: uuid.New(), Success: true})

	result, err := newTestCoordinator(store, xpLedger, bridge).ProcessEvent(context.Background(), event)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.TaskUpdates, 1)
	require.True(t, result.TaskUpdates[0].Success)
	bridge.AssertExpectations(t)
}

func completedEntry(event domains.Event, xp int) *models.EventLog {
	eventCtx, _ := domains.NewTaskProcessor().Process(event)
	payload, _ := json.Marshal(event)
	contextJSON, _ := json.Marshal(eventCtx)
	return &models.EventLog{
		ID:         uuid.New(),
		Token:      event.Token,
		UserID:     event.UserID,
		Source:     string(event.Source),
		Action:     string(event.Action),
		OccurredAt: event.Timestamp,
		Payload:    datatypes.JSON(payload),
		Context:    datatypes.JSON(contextJSON),
		XPAwarded:  xp,
		Status:     models.EventStatusCompleted,
	}
}

func newTestReversalService(store EventLogStore, xpLedger XPLedger, bridge TaskBridge) *ReversalService {
	tracer, _ := tracing.NewTracer(config.TracingConfig{})
	return NewReversalService(
		domains.NewDefaultRegistry(6),
		store,
		xpLedger,
		bridge,
		tracker.New(time.Minute),
		nil,
		nil,
		metrics.NewMetrics(),
		tracer,
	)
}

func TestReverseSubtractsOriginalAward(t *testing.T) {
	userID := uuid.New()
	event := taskCompletedEvent(userID, time.Now().UTC())
	entry := completedEntry(event, 80)

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)

	store.On("FindByToken", mock.Anything, event.Token).Return(entry, nil)
	store.On("BeginReversal", mock.Anything, event.Token, mock.Anything, mock.Anything).Return(nil)
	xpLedger.On("Award", mock.Anything, mock.MatchedBy(func(req ledger.AwardRequest) bool {
		return req.Amount == -80 &&
			req.Token != event.Token &&
			req.Context.Reversal &&
			req.Context.MilestoneID == ""
	})).Return(ledger.AwardResult{XPAwarded: -80, TotalXP: 420}, nil)
	store.On("MarkReversed", mock.Anything, event.Token, mock.Anything).Return(nil)

	result, err := newTestReversalService(store, xpLedger, new(MockBridge)).
		Reverse(context.Background(), event.Token, userID)

	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, -80, result.XPAdjustment)
	require.NotEmpty(t, result.ReversalToken)
	require.NotEqual(t, event.Token, result.ReversalToken)
	store.AssertExpectations(t)
	xpLedger.AssertExpectations(t)
}

func TestReverseRejectsAlreadyReversed(t *testing.T) {
	userID := uuid.New()
	event := taskCompletedEvent(userID, time.Now().UTC())
	entry := completedEntry(event, 80)
	entry.Status = models.EventStatusReversed

	store := new(MockEventLogStore)
	store.On("FindByToken", mock.Anything, event.Token).Return(entry, nil)

	result, err := newTestReversalService(store, new(MockLedger), new(MockBridge)).
		Reverse(context.Background(), event.Token, userID)

	require.ErrorIs(t, err, domains.ErrAlreadyReversed)
	require.False(t, result.Success)
	require.Contains(t, result.Error, "already reversed")
	store.AssertNotCalled(t, "BeginReversal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReverseRejectsOtherUsersEvent(t *testing.T) {
	event := taskCompletedEvent(uuid.New(), time.Now().UTC())
	entry := completedEntry(event, 80)

	store := new(MockEventLogStore)
	store.On("FindByToken", mock.Anything, event.Token).Return(entry, nil)

	result, err := newTestReversalService(store, new(MockLedger), new(MockBridge)).
		Reverse(context.Background(), event.Token, uuid.New())

	require.ErrorIs(t, err, domains.ErrForbidden)
	require.False(t, result.Success)
	store.AssertNotCalled(t, "BeginReversal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReverseReportsStatusBeforeOwnership(t *testing.T) {
	event := taskCompletedEvent(uuid.New(), time.Now().UTC())
	entry := completedEntry(event, 80)
	entry.Status = models.EventStatusReversed

	store := new(MockEventLogStore)
	store.On("FindByToken", mock.Anything, event.Token).Return(entry, nil)

	// A different caller against a reversed entry sees the status outcome,
	// not an ownership rejection
	result, err := newTestReversalService(store, new(MockLedger), new(MockBridge)).
		Reverse(context.Background(), event.Token, uuid.New())

	require.ErrorIs(t, err, domains.ErrAlreadyReversed)
	require.NotErrorIs(t, err, domains.ErrForbidden)
	require.False(t, result.Success)
	store.AssertNotCalled(t, "BeginReversal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReverseRejectsEarlierCalendarDay(t *testing.T) {
	userID := uuid.New()
	event := taskCompletedEvent(userID, time.Now().UTC().Add(-48*time.Hour))
	entry := completedEntry(event, 80)

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)
	store.On("FindByToken", mock.Anything, event.Token).Return(entry, nil)

	result, err := newTestReversalService(store, xpLedger, new(MockBridge)).
		Reverse(context.Background(), event.Token, userID)

	require.ErrorIs(t, err, domains.ErrTooLate)
	require.False(t, result.Success)
	store.AssertNotCalled(t, "BeginReversal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	xpLedger.AssertNotCalled(t, "Award", mock.Anything, mock.Anything)
}

func TestReverseLedgerFailureClearsStamp(t *testing.T) {
	userID := uuid.New()
	event := taskCompletedEvent(userID, time.Now().UTC())
	entry := completedEntry(event, 80)

	store := new(MockEventLogStore)
	xpLedger := new(MockLedger)

	store.On("FindByToken", mock.Anything, event.Token).Return(entry, nil)
	store.On("BeginReversal", mock.Anything, event.Token, mock.Anything, mock.Anything).Return(nil)
	xpLedger.On("Award", mock.Anything, mock.Anything).
		Return(ledger.AwardResult{}, domains.ErrLedgerFailure)
	store.On("ClearReversal", mock.Anything, event.Token).Return(nil)

	result, err := newTestReversalService(store, xpLedger, new(MockBridge)).
		Reverse(context.Background(), event.Token, userID)

	require.ErrorIs(t, err, domains.ErrLedgerFailure)
	require.False(t, result.Success)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkReversed", mock.Anything, mock.Anything, mock.Anything)
}

type MockReconcilerStore struct {
	mock.Mock
}

func (m *MockReconcilerStore) FindStalledReversals(ctx context.Context, olderThan time.Time, limit int) ([]models.EventLog, error) {
	args := m.Called(ctx, olderThan, limit)
	entries, _ := args.Get(0).([]models.EventLog)
	return entries, args.Error(1)
}

func (m *MockReconcilerStore) FindUnrewarded(ctx context.Context, olderThan time.Time, limit int) ([]models.EventLog, error) {
	args := m.Called(ctx, olderThan, limit)
	entries, _ := args.Get(0).([]models.EventLog)
	return entries, args.Error(1)
}

func (m *MockReconcilerStore) MarkReversed(ctx context.Context, token string, at time.Time) error {
	args := m.Called(ctx, token, at)
	return args.Error(0)
}

func TestReconcileReversalsReplaysStampedToken(t *testing.T) {
	userID := uuid.New()
	event := taskCompletedEvent(userID, time.Now().UTC())
	entry := completedEntry(event, 80)
	reversalToken := tracker.NewToken()
	startedAt := time.Now().UTC().Add(-time.Hour)
	entry.ReversalToken = &reversalToken
	entry.ReversalStartedAt = &startedAt

	store := new(MockReconcilerStore)
	xpLedger := new(MockLedger)

	store.On("FindStalledReversals", mock.Anything, mock.Anything, reconcileBatchSize).
		Return([]models.EventLog{*entry}, nil)
	xpLedger.On("Award", mock.Anything, mock.MatchedBy(func(req ledger.AwardRequest) bool {
		// Replays the stamped token; the ledger makes the retry a no-op
		return req.Token == reversalToken && req.Amount == -80 && req.Context.Reversal
	})).Return(ledger.AwardResult{XPAwarded: -80, Replayed: true}, nil)
	store.On("MarkReversed", mock.Anything, event.Token, mock.Anything).Return(nil)

	reconciler := NewReconciler(
		domains.NewDefaultRegistry(6),
		store,
		xpLedger,
		metrics.NewMetrics(),
		30*time.Minute,
	)
	require.NoError(t, reconciler.ReconcileReversals(context.Background()))
	store.AssertExpectations(t)
	xpLedger.AssertExpectations(t)
}

func TestReportUnrewardedDoesNotRetryAwards(t *testing.T) {
	event := taskCompletedEvent(uuid.New(), time.Now().UTC())
	entry := completedEntry(event, 0)

	store := new(MockReconcilerStore)
	xpLedger := new(MockLedger)
	store.On("FindUnrewarded", mock.Anything, mock.Anything, reconcileBatchSize).
		Return([]models.EventLog{*entry}, nil)

	reconciler := NewReconciler(
		domains.NewDefaultRegistry(6),
		store,
		xpLedger,
		metrics.NewMetrics(),
		30*time.Minute,
	)
	require.NoError(t, reconciler.ReportUnrewarded(context.Background()))
	xpLedger.AssertNotCalled(t, "Award", mock.Anything, mock.Anything)
}
