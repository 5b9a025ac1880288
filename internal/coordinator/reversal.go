package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/metrics"
	"example.com/fitquest/services/progression/internal/models"
	"example.com/fitquest/services/progression/internal/taskbridge"
	"example.com/fitquest/services/progression/internal/tracing"
	"example.com/fitquest/services/progression/internal/tracker"
)

// ReversalResult is the outcome of a reversal request
type ReversalResult struct {
	Success       bool                `json:"success"`
	Token         string              `json:"token"`
	ReversalToken string              `json:"reversal_token,omitempty"`
	XPAdjustment  int                 `json:"xp_adjustment"`
	TaskUpdates   []taskbridge.Result `json:"task_updates,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// ReversalService undoes a completed event on the same calendar day it
// occurred. The compensating award is keyed by a fresh reversal token so the
// ledger can replay it safely if the reversed status write is lost.
type ReversalService struct {
	registry *domains.Registry
	store    EventLogStore
	ledger   XPLedger
	bridge   TaskBridge
	tracker  OperationTracker
	notifier Notifier
	indexer  Indexer
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
	newToken func() string
	now      func() time.Time
}

// NewReversalService creates a reversal service. Notifier and indexer may be
// nil.
func NewReversalService(
	registry *domains.Registry,
	store EventLogStore,
	xpLedger XPLedger,
	bridge TaskBridge,
	opTracker OperationTracker,
	notifier Notifier,
	indexer Indexer,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *ReversalService {
	return &ReversalService{
		registry: registry,
		store:    store,
		ledger:   xpLedger,
		bridge:   bridge,
		tracker:  opTracker,
		notifier: notifier,
		indexer:  indexer,
		metrics:  collector,
		tracer:   tracer,
		newToken: tracker.NewToken,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Reverse undoes the event identified by token on behalf of userID. All
// eligibility checks run before any write; a failed check leaves the entry
// untouched.
func (s *ReversalService) Reverse(ctx context.Context, token string, userID uuid.UUID) (ReversalResult, error) {
	txn := s.tracer.StartTransaction("reverse-event")
	defer s.tracer.EndTransaction(txn)

	succeeded := false
	defer func() { s.metrics.RecordOutcome("reverse_event", succeeded) }()

	reversalToken := s.newToken()
	s.tracker.Start(reversalToken)
	defer s.tracker.Finish(reversalToken)

	s.tracker.Stage(reversalToken, "lookup")
	entry, err := s.store.FindByToken(ctx, token)
	if err != nil {
		s.tracer.RecordError(txn, err)
		return reversalFailure(token, err), err
	}

	event, inverse, err := s.checkEligibility(entry, userID)
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.IncrementCounter("reversals_rejected")
		return reversalFailure(token, err), err
	}

	// Stamp first. If the process dies after the ledger subtraction but
	// before MarkReversed, the reconciler finds the stamp and replays the
	// idempotent award before finalizing.
	s.tracker.Stage(reversalToken, "stamp")
	if err := s.store.BeginReversal(ctx, token, reversalToken, s.now()); err != nil {
		s.tracer.RecordError(txn, err)
		return reversalFailure(token, err), err
	}

	s.tracker.Stage(reversalToken, "ledger")
	span := s.tracer.StartSpan("xp-subtract", txn)
	award, err := s.ledger.Award(ctx, ledger.AwardRequest{
		Token:   reversalToken,
		UserID:  entry.UserID,
		Context: inverse,
		Amount:  -entry.XPAwarded,
	})
	span.End()
	if err != nil {
		// Nothing was subtracted; unstamp so the entry stays reversible
		s.tracer.RecordError(txn, err)
		s.metrics.IncrementCounter("reversals_ledger_failed")
		if clearErr := s.store.ClearReversal(ctx, token); clearErr != nil {
			log.Error().Err(clearErr).Str("token", token).Msg("Failed to clear reversal stamp after ledger error")
		}
		return reversalFailure(token, err), err
	}

	s.tracker.Stage(reversalToken, "finalize")
	if err := s.store.MarkReversed(ctx, token, s.now()); err != nil {
		// The subtraction landed; the reconciler will finalize the status.
		// Reported as success because the user-visible effect is done.
		log.Error().Err(err).Str("token", token).Msg("Failed to mark entry reversed, leaving it for reconciliation")
	}

	result := ReversalResult{
		Success:       true,
		Token:         token,
		ReversalToken: reversalToken,
		XPAdjustment:  award.XPAwarded,
	}

	s.tracker.Stage(reversalToken, "bridge")
	for _, update := range s.inverseObligations(event) {
		bridgeResult := s.bridge.Apply(ctx, update)
		if !bridgeResult.Success {
			log.Warn().
				Str("token", token).
				Str("category", update.Category).
				Str("error", bridgeResult.Error).
				Msg("Cross-domain task rollback failed")
		}
		result.TaskUpdates = append(result.TaskUpdates, bridgeResult)
	}

	if s.notifier != nil {
		s.notifier.EventReversed(ctx, entry, reversalToken)
	}
	if s.indexer != nil {
		reversedAt := s.now()
		entry.Status = models.EventStatusReversed
		entry.ReversalToken = &reversalToken
		entry.ReversedAt = &reversedAt
		if err := s.indexer.IndexEventLog(ctx, entry); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("Failed to re-index reversed entry")
		}
	}

	succeeded = true
	s.metrics.IncrementCounter("reversals_completed")
	log.Info().
		Str("token", token).
		Str("reversal_token", reversalToken).
		Int("xp_adjustment", award.XPAwarded).
		Msg("Event reversed")
	return result, nil
}

// checkEligibility validates status, ownership and the same-day window, in
// that order, and returns the reconstructed event together with its inverse
// context.
func (s *ReversalService) checkEligibility(entry *models.EventLog, userID uuid.UUID) (domains.Event, domains.Context, error) {
	var zero domains.Context

	switch entry.Status {
	case models.EventStatusReversed:
		return domains.Event{}, zero, errors.Wrapf(domains.ErrAlreadyReversed, "token %q", entry.Token)
	case models.EventStatusFailed:
		return domains.Event{}, zero, errors.Wrapf(domains.ErrNotReversible, "token %q recorded a failure", entry.Token)
	}

	if entry.UserID != userID {
		return domains.Event{}, zero, errors.Wrapf(domains.ErrForbidden, "token %q belongs to another user", entry.Token)
	}

	processor, err := s.registry.Resolve(domains.Source(entry.Source))
	if err != nil {
		return domains.Event{}, zero, err
	}

	var event domains.Event
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		return domains.Event{}, zero, errors.Wrap(domains.ErrInvalidPayload, err.Error())
	}
	var original domains.Context
	if err := json.Unmarshal(entry.Context, &original); err != nil {
		return domains.Event{}, zero, errors.Wrap(domains.ErrInvalidPayload, err.Error())
	}

	if !processor.CanReverse(event) {
		return domains.Event{}, zero, errors.Wrapf(domains.ErrTooLate, "token %q occurred on an earlier day", entry.Token)
	}

	inverse, err := processor.Reverse(event, original)
	if err != nil {
		return domains.Event{}, zero, err
	}
	return event, inverse, nil
}

// inverseObligations flips the forward obligations so bridge tasks completed
// by the original event are uncompleted again.
func (s *ReversalService) inverseObligations(event domains.Event) []domains.TaskUpdate {
	processor, err := s.registry.Resolve(event.Source)
	if err != nil {
		return nil
	}

	forward, err := processor.Process(event)
	if err != nil {
		return nil
	}

	updates := processor.Obligations(event, forward)
	for i := range updates {
		updates[i].Action = domains.ActionUncompleted
	}
	return updates
}

func reversalFailure(token string, err error) ReversalResult {
	return ReversalResult{
		Success: false,
		Token:   token,
		Error:   err.Error(),
	}
}
