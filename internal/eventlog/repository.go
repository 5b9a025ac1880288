// Package eventlog owns the durable record of every processed domain event.
// An entry is written once by the coordinator and mutated at most once more,
// by the reversal service; it is never deleted.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/models"
)

// Repository persists event log entries
type Repository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewRepository creates a new event log repository
func NewRepository(db *gorm.DB, readOnlyDB *gorm.DB) *Repository {
	return &Repository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts a new entry. The token unique index rejects a second
// forward event for the same token.
func (r *Repository) Create(ctx context.Context, entry *models.EventLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// The token is burned, whether the first entry completed or
			// failed; retrying this event can never succeed
			return errors.Wrapf(domains.ErrDuplicateToken, "token %q", entry.Token)
		}
		return errors.Wrap(domains.ErrPersistenceFailure, err.Error())
	}

	log.Info().
		Str("token", entry.Token).
		Str("source", entry.Source).
		Str("status", entry.Status).
		Msg("Event log entry created")
	return nil
}

// FindByToken looks up an entry by its operation token
func (r *Repository) FindByToken(ctx context.Context, token string) (*models.EventLog, error) {
	var entry models.EventLog
	err := r.readOnlyDB.WithContext(ctx).Where("token = ?", token).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(domains.ErrNotFound, "token %q", token)
		}
		return nil, errors.Wrap(err, "failed to look up event log entry")
	}
	return &entry, nil
}

// SetXPAwarded patches the awarded XP after the ledger call succeeds
func (r *Repository) SetXPAwarded(ctx context.Context, token string, xp int) error {
	err := r.db.WithContext(ctx).
		Model(&models.EventLog{}).
		Where("token = ?", token).
		Update("xp_awarded", xp).Error
	if err != nil {
		return errors.Wrap(domains.ErrPersistenceFailure, err.Error())
	}
	return nil
}

// MarkFailed transitions an entry to failed with the error message attached.
// Failed entries are excluded from cross-domain and reversal consideration.
func (r *Repository) MarkFailed(ctx context.Context, token string, message string) error {
	err := r.db.WithContext(ctx).
		Model(&models.EventLog{}).
		Where("token = ?", token).
		Updates(map[string]interface{}{
			"status":        models.EventStatusFailed,
			"error_message": message,
		}).Error
	if err != nil {
		return errors.Wrap(domains.ErrPersistenceFailure, err.Error())
	}
	return nil
}

// BeginReversal stamps the reversal token on a completed entry before the
// ledger subtraction. The stamp is what lets the reconciler find reversals
// stalled between the XP subtraction and the reversed status write.
func (r *Repository) BeginReversal(ctx context.Context, token, reversalToken string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.EventLog{}).
		Where("token = ? AND status = ?", token, models.EventStatusCompleted).
		Updates(map[string]interface{}{
			"reversal_token":      reversalToken,
			"reversal_started_at": at,
		})
	if result.Error != nil {
		return errors.Wrap(domains.ErrPersistenceFailure, result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(domains.ErrNotReversible, "token %q", token)
	}
	return nil
}

// ClearReversal removes the stamp when a reversal aborts before the ledger
// subtraction, leaving the entry exactly as it was.
func (r *Repository) ClearReversal(ctx context.Context, token string) error {
	err := r.db.WithContext(ctx).
		Model(&models.EventLog{}).
		Where("token = ? AND status = ?", token, models.EventStatusCompleted).
		Updates(map[string]interface{}{
			"reversal_token":      nil,
			"reversal_started_at": nil,
		}).Error
	if err != nil {
		return errors.Wrap(domains.ErrPersistenceFailure, err.Error())
	}
	return nil
}

// MarkReversed finalizes a reversal. Only entries still in completed status
// transition; a second attempt affects no rows.
func (r *Repository) MarkReversed(ctx context.Context, token string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&models.EventLog{}).
		Where("token = ? AND status = ?", token, models.EventStatusCompleted).
		Updates(map[string]interface{}{
			"status":      models.EventStatusReversed,
			"reversed_at": at,
		})
	if result.Error != nil {
		return errors.Wrap(domains.ErrPersistenceFailure, result.Error.Error())
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(domains.ErrAlreadyReversed, "token %q", token)
	}

	log.Info().Str("token", token).Msg("Event log entry marked reversed")
	return nil
}

// FindStalledReversals returns completed entries whose reversal stamp is
// older than the cutoff: the ledger subtraction may have happened without
// the reversed status write landing.
func (r *Repository) FindStalledReversals(ctx context.Context, olderThan time.Time, limit int) ([]models.EventLog, error) {
	var entries []models.EventLog
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND reversal_token IS NOT NULL AND reversal_started_at < ?",
			models.EventStatusCompleted, olderThan).
		Order("reversal_started_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find stalled reversals")
	}
	return entries, nil
}

// FindUnrewarded returns completed entries that never received their XP
// patch. They are reported, not retried; the forward reward is allowed to
// be lost.
func (r *Repository) FindUnrewarded(ctx context.Context, olderThan time.Time, limit int) ([]models.EventLog, error) {
	var entries []models.EventLog
	err := r.readOnlyDB.WithContext(ctx).
		Where("status = ? AND xp_awarded = 0 AND reversal_token IS NULL AND created_at < ?",
			models.EventStatusCompleted, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find unrewarded entries")
	}
	return entries, nil
}
