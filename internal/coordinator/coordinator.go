// Package coordinator routes domain events to their processors, persists the
// event log, forwards contexts to the XP ledger and triggers cross-domain
// task updates. Reversal of a same-day event lives in reversal.go.
package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/eventlog"
	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/metrics"
	"example.com/fitquest/services/progression/internal/models"
	"example.com/fitquest/services/progression/internal/taskbridge"
	"example.com/fitquest/services/progression/internal/tracing"
)

// EventLogStore is the slice of the event log repository the coordinator uses
type EventLogStore interface {
	Create(ctx context.Context, entry *models.EventLog) error
	FindByToken(ctx context.Context, token string) (*models.EventLog, error)
	SetXPAwarded(ctx context.Context, token string, xp int) error
	MarkFailed(ctx context.Context, token string, message string) error
	BeginReversal(ctx context.Context, token, reversalToken string, at time.Time) error
	ClearReversal(ctx context.Context, token string) error
	MarkReversed(ctx context.Context, token string, at time.Time) error
}

var _ EventLogStore = (*eventlog.Repository)(nil)

// XPLedger awards signed XP amounts, idempotent per token
type XPLedger interface {
	Award(ctx context.Context, req ledger.AwardRequest) (ledger.AwardResult, error)
}

var _ XPLedger = (*ledger.Service)(nil)

// TaskBridge applies cross-domain task updates
type TaskBridge interface {
	Apply(ctx context.Context, update domains.TaskUpdate) taskbridge.Result
}

var _ TaskBridge = (*taskbridge.Bridge)(nil)

// OperationTracker records stage transitions for observability. It must not
// be relied upon for correctness.
type OperationTracker interface {
	Start(token string)
	Stage(token, name string)
	Finish(token string)
}

// Notifier publishes processed/reversed notifications; best-effort
type Notifier interface {
	EventProcessed(ctx context.Context, entry *models.EventLog)
	EventReversed(ctx context.Context, entry *models.EventLog, reversalToken string)
}

// Indexer mirrors event log entries into the search backend; best-effort
type Indexer interface {
	IndexEventLog(ctx context.Context, entry *models.EventLog) error
}

// EventResult is the aggregated outcome returned to callers
type EventResult struct {
	Success              bool                `json:"success"`
	Token                string              `json:"token"`
	XPAwarded            int                 `json:"xp_awarded"`
	LeveledUp            bool                `json:"leveled_up"`
	AchievementsUnlocked []string            `json:"achievements_unlocked,omitempty"`
	TaskUpdates          []taskbridge.Result `json:"task_updates,omitempty"`
	Error                string              `json:"error,omitempty"`
}

// Coordinator is the top-level entry point for domain events
type Coordinator struct {
	registry *domains.Registry
	store    EventLogStore
	ledger   XPLedger
	bridge   TaskBridge
	tracker  OperationTracker
	notifier Notifier
	indexer  Indexer
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	now      func() time.Time
}

// NewCoordinator creates a coordinator. Notifier and indexer may be nil.
func NewCoordinator(
	registry *domains.Registry,
	store EventLogStore,
	xpLedger XPLedger,
	bridge TaskBridge,
	opTracker OperationTracker,
	notifier Notifier,
	indexer Indexer,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *Coordinator {
	return &Coordinator{
		registry: registry,
		store:    store,
		ledger:   xpLedger,
		bridge:   bridge,
		tracker:  opTracker,
		notifier: notifier,
		indexer:  indexer,
		metrics:  collector,
		tracer:   tracer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ProcessEvent runs the forward path for one domain event. Stages execute
// strictly in order for a single token; events for different tokens may run
// concurrently.
func (c *Coordinator) ProcessEvent(ctx context.Context, event domains.Event) (EventResult, error) {
	txn := c.tracer.StartTransaction("process-event")
	defer c.tracer.EndTransaction(txn)
	started := c.now()

	succeeded := false
	defer func() { c.metrics.RecordOutcome("process_event", succeeded) }()

	c.tracker.Start(event.Token)
	defer c.tracker.Finish(event.Token)

	processor, err := c.registry.Resolve(event.Source)
	if err != nil {
		// Nothing persisted for an unknown domain
		c.tracer.RecordError(txn, err)
		c.metrics.IncrementCounter("events_unknown_domain")
		return failure(event.Token, err), err
	}

	c.tracker.Stage(event.Token, "processor")
	span := c.tracer.StartSpan("domain-processor", txn)
	eventCtx, err := processor.Process(event)
	span.End()
	if err != nil {
		c.tracer.RecordError(txn, err)
		c.recordFailedEvent(ctx, event, err)
		return failure(event.Token, err), err
	}

	// Persist before contacting the ledger so a crash between context
	// computation and the XP award still leaves an auditable, reversible
	// record with a zero placeholder.
	c.tracker.Stage(event.Token, "persist")
	entry, err := c.persistEntry(ctx, event, eventCtx)
	if err != nil {
		c.tracer.RecordError(txn, err)
		c.metrics.IncrementCounter("events_persist_failed")
		return failure(event.Token, err), err
	}

	c.tracker.Stage(event.Token, "ledger")
	awardSpan := c.tracer.StartSpan("xp-award", txn)
	award, err := c.ledger.Award(ctx, ledger.AwardRequest{
		Token:   event.Token,
		UserID:  event.UserID,
		Context: eventCtx,
		Amount:  eventCtx.XPTotal(),
	})
	awardSpan.End()
	if err != nil {
		c.tracer.RecordError(txn, err)
		c.metrics.IncrementCounter("events_ledger_failed")
		if markErr := c.store.MarkFailed(ctx, event.Token, err.Error()); markErr != nil {
			log.Error().Err(markErr).Str("token", event.Token).Msg("Failed to mark entry failed after ledger error")
		}
		return failure(event.Token, err), err
	}

	if err := c.store.SetXPAwarded(ctx, event.Token, award.XPAwarded); err != nil {
		// The award landed; the patch is best-effort and the reconciler
		// reports entries left with the zero placeholder.
		log.Warn().Err(err).Str("token", event.Token).Msg("Failed to patch awarded XP")
	}
	entry.XPAwarded = award.XPAwarded

	result := EventResult{
		Success:              true,
		Token:                event.Token,
		XPAwarded:            award.XPAwarded,
		LeveledUp:            award.LeveledUp,
		AchievementsUnlocked: award.AchievementsUnlocked,
	}

	// Obligations run one at a time; one failing does not abort the rest
	c.tracker.Stage(event.Token, "bridge")
	for _, update := range processor.Obligations(event, eventCtx) {
		bridgeResult := c.bridge.Apply(ctx, update)
		if !bridgeResult.Success {
			c.metrics.IncrementCounter("bridge_updates_failed")
			log.Warn().
				Str("token", event.Token).
				Str("category", update.Category).
				Str("error", bridgeResult.Error).
				Msg("Cross-domain task update failed")
		}
		result.TaskUpdates = append(result.TaskUpdates, bridgeResult)
	}

	c.afterProcessed(ctx, entry)

	succeeded = true
	c.metrics.IncrementCounter("events_processed")
	c.metrics.RecordTimer("process_event_ms", c.now().Sub(started).Milliseconds())
	log.Info().
		Str("token", event.Token).
		Str("source", string(event.Source)).
		Str("action", string(event.Action)).
		Int("xp_awarded", result.XPAwarded).
		Msg("Event processed")
	return result, nil
}

func (c *Coordinator) persistEntry(ctx context.Context, event domains.Event, eventCtx domains.Context) (*models.EventLog, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event payload")
	}
	contextJSON, err := json.Marshal(eventCtx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event context")
	}

	entry := &models.EventLog{
		Token:      event.Token,
		UserID:     event.UserID,
		Source:     string(event.Source),
		Action:     string(event.Action),
		OccurredAt: event.Timestamp,
		Payload:    datatypes.JSON(payload),
		Context:    datatypes.JSON(contextJSON),
		XPAwarded:  0,
		Status:     models.EventStatusCompleted,
	}
	if err := c.store.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// recordFailedEvent keeps an auditable failed entry for processor errors so
// the token is burned and excluded from reversal consideration.
func (c *Coordinator) recordFailedEvent(ctx context.Context, event domains.Event, cause error) {
	c.metrics.IncrementCounter("events_failed")

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("token", event.Token).Msg("Failed to marshal failed event payload")
		return
	}
	entry := &models.EventLog{
		Token:        event.Token,
		UserID:       event.UserID,
		Source:       string(event.Source),
		Action:       string(event.Action),
		OccurredAt:   event.Timestamp,
		Payload:      datatypes.JSON(payload),
		Status:       models.EventStatusFailed,
		ErrorMessage: cause.Error(),
	}
	if err := c.store.Create(ctx, entry); err != nil {
		log.Error().Err(err).Str("token", event.Token).Msg("Failed to persist failed event entry")
	}
}

func (c *Coordinator) afterProcessed(ctx context.Context, entry *models.EventLog) {
	if c.notifier != nil {
		c.notifier.EventProcessed(ctx, entry)
	}
	if c.indexer != nil {
		if err := c.indexer.IndexEventLog(ctx, entry); err != nil {
			log.Warn().Err(err).Str("token", entry.Token).Msg("Failed to index event log entry")
		}
	}
}

func failure(token string, err error) EventResult {
	return EventResult{
		Success: false,
		Token:   token,
		Error:   err.Error(),
	}
}
