package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/eventlog"
	"example.com/fitquest/services/progression/internal/ledger"
	"example.com/fitquest/services/progression/internal/metrics"
	"example.com/fitquest/services/progression/internal/models"
)

const reconcileBatchSize = 100

// ReconcilerStore is the event log surface the reconciler needs
type ReconcilerStore interface {
	FindStalledReversals(ctx context.Context, olderThan time.Time, limit int) ([]models.EventLog, error)
	FindUnrewarded(ctx context.Context, olderThan time.Time, limit int) ([]models.EventLog, error)
	MarkReversed(ctx context.Context, token string, at time.Time) error
}

var _ ReconcilerStore = (*eventlog.Repository)(nil)

// Reconciler finishes reversals that stalled between the XP subtraction and
// the reversed status write, and reports forward awards that never landed.
// It runs on a schedule; each pass is independent and safe to repeat.
type Reconciler struct {
	registry   *domains.Registry
	store      ReconcilerStore
	ledger     XPLedger
	metrics    *metrics.Metrics
	stallAfter time.Duration
	now        func() time.Time
}

// NewReconciler creates a reconciler. stallAfter is how old a reversal stamp
// must be before the entry counts as stalled.
func NewReconciler(
	registry *domains.Registry,
	store ReconcilerStore,
	xpLedger XPLedger,
	collector *metrics.Metrics,
	stallAfter time.Duration,
) *Reconciler {
	return &Reconciler{
		registry:   registry,
		store:      store,
		ledger:     xpLedger,
		metrics:    collector,
		stallAfter: stallAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileReversals replays the compensating award for every stalled
// reversal and finalizes its status. The award is keyed by the reversal
// token stamped on the entry, so replaying one the ledger already applied
// subtracts nothing a second time.
func (r *Reconciler) ReconcileReversals(ctx context.Context) error {
	cutoff := r.now().Add(-r.stallAfter)
	entries, err := r.store.FindStalledReversals(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := r.finishReversal(ctx, entry); err != nil {
			log.Error().Err(err).Str("token", entry.Token).Msg("Failed to reconcile stalled reversal")
			r.metrics.IncrementCounter("reconcile_reversals_failed")
			continue
		}
		r.metrics.IncrementCounter("reconcile_reversals_finished")
	}

	r.metrics.SetGauge("reconcile_stalled_reversals", int64(len(entries)))
	if len(entries) > 0 {
		log.Info().Int("count", len(entries)).Msg("Reconciled stalled reversals")
	}
	return nil
}

func (r *Reconciler) finishReversal(ctx context.Context, entry models.EventLog) error {
	inverse, err := r.inverseContext(entry)
	if err != nil {
		return err
	}

	_, err = r.ledger.Award(ctx, ledger.AwardRequest{
		Token:   *entry.ReversalToken,
		UserID:  entry.UserID,
		Context: inverse,
		Amount:  -entry.XPAwarded,
	})
	if err != nil {
		return err
	}

	return r.store.MarkReversed(ctx, entry.Token, r.now())
}

func (r *Reconciler) inverseContext(entry models.EventLog) (domains.Context, error) {
	var zero domains.Context

	processor, err := r.registry.Resolve(domains.Source(entry.Source))
	if err != nil {
		return zero, err
	}

	var event domains.Event
	if err := json.Unmarshal(entry.Payload, &event); err != nil {
		return zero, err
	}
	var original domains.Context
	if err := json.Unmarshal(entry.Context, &original); err != nil {
		return zero, err
	}

	return processor.Reverse(event, original)
}

// ReportUnrewarded logs completed entries whose XP award never landed. They
// are surfaced for operators, not retried; the entry stays reversible with
// its zero award.
func (r *Reconciler) ReportUnrewarded(ctx context.Context) error {
	cutoff := r.now().Add(-r.stallAfter)
	entries, err := r.store.FindUnrewarded(ctx, cutoff, reconcileBatchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		log.Warn().
			Str("token", entry.Token).
			Str("source", entry.Source).
			Time("created_at", entry.CreatedAt).
			Msg("Completed entry has no XP award")
	}

	r.metrics.SetGauge("reconcile_unrewarded_entries", int64(len(entries)))
	return nil
}
