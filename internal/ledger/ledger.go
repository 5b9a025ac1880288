// Package ledger applies signed XP awards to user progress and records
// achievement grants. Awards are idempotent per token: retrying a token
// replays the stored outcome instead of moving XP twice.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/fitquest/services/progression/internal/cache"
	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/models"
)

const progressCacheTTL = 5 * time.Minute

// AwardRequest is one signed ledger call
type AwardRequest struct {
	Token   string // operation token; the idempotency key for this call
	UserID  uuid.UUID
	Context domains.Context
	Amount  int // signed; negative for reversals
}

// AwardResult is the outcome of a ledger call
type AwardResult struct {
	XPAwarded            int      `json:"xp_awarded"`
	TotalXP              int      `json:"total_xp"`
	Level                int      `json:"level"`
	LeveledUp            bool     `json:"leveled_up"`
	AchievementsUnlocked []string `json:"achievements_unlocked"`
	Replayed             bool     `json:"replayed"`
}

// errAwardRaced marks a unique-index violation from a concurrent call. The
// competing transaction has committed, so one retry resolves to the replay
// or no-op branch.
var errAwardRaced = errors.New("award raced with a concurrent ledger call")

// Service is the gorm-backed XP ledger
type Service struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
	cache      *cache.RedisCache
	runTx      func(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// NewService creates the ledger service
func NewService(db *gorm.DB, readOnlyDB *gorm.DB, redisCache *cache.RedisCache) *Service {
	s := &Service{
		db:         db,
		readOnlyDB: readOnlyDB,
		cache:      redisCache,
	}
	s.runTx = func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return s.db.WithContext(ctx).Transaction(fn)
	}
	return s
}

// Award applies a signed XP amount to the user's progress, records the award
// row keyed by token, and grants the context's milestone achievement on
// positive awards. Negative awards never unlock achievements and never drop
// total XP below zero.
func (s *Service) Award(ctx context.Context, req AwardRequest) (AwardResult, error) {
	if req.Token == "" {
		return AwardResult{}, errors.Wrap(domains.ErrLedgerFailure, "award token required")
	}

	result, err := s.apply(ctx, req)
	if errors.Is(err, errAwardRaced) {
		result, err = s.apply(ctx, req)
	}
	if err != nil {
		return AwardResult{}, errors.Wrap(domains.ErrLedgerFailure, err.Error())
	}

	s.invalidateProgress(ctx, req.UserID)

	log.Info().
		Str("token", req.Token).
		Str("user_id", req.UserID.String()).
		Int("amount", req.Amount).
		Bool("replayed", result.Replayed).
		Msg("XP award applied")
	return result, nil
}

func (s *Service) apply(ctx context.Context, req AwardRequest) (AwardResult, error) {
	var result AwardResult
	err := s.runTx(ctx, func(tx *gorm.DB) error {
		// Replay a token we have already applied
		var existing models.XPAward
		err := tx.Where("token = ?", req.Token).First(&existing).Error
		if err == nil {
			progress, perr := loadProgress(tx, req.UserID)
			if perr != nil {
				return perr
			}
			result = AwardResult{
				XPAwarded: existing.Amount,
				TotalXP:   progress.TotalXP,
				Level:     progress.Level,
				Replayed:  true,
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to check award token")
		}

		award := models.XPAward{
			ID:       uuid.New(),
			Token:    req.Token,
			UserID:   req.UserID,
			Amount:   req.Amount,
			Reversal: req.Context.Reversal,
			Source:   string(req.Context.Source),
		}
		if err := tx.Create(&award).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errAwardRaced
			}
			return errors.Wrap(err, "failed to record xp award")
		}

		progress, err := loadProgress(tx, req.UserID)
		if err != nil {
			return err
		}

		previousLevel := progress.Level
		progress.TotalXP += req.Amount
		if progress.TotalXP < 0 {
			progress.TotalXP = 0
		}
		progress.Level = LevelForXP(progress.TotalXP)
		if err := tx.Save(progress).Error; err != nil {
			return errors.Wrap(err, "failed to update user progress")
		}

		result = AwardResult{
			XPAwarded: req.Amount,
			TotalXP:   progress.TotalXP,
			Level:     progress.Level,
			LeveledUp: progress.Level > previousLevel,
		}

		if req.Amount > 0 && req.Context.MilestoneID != "" && !req.Context.Reversal {
			granted, err := grantAchievement(tx, req.UserID, req.Context.MilestoneID, req.Token)
			if err != nil {
				return err
			}
			if granted {
				result.AchievementsUnlocked = []string{req.Context.MilestoneID}
			}
		}
		return nil
	})
	return result, err
}

// ProgressSummary is the read model for a user's progress
type ProgressSummary struct {
	UserID       uuid.UUID `json:"user_id"`
	TotalXP      int       `json:"total_xp"`
	Level        int       `json:"level"`
	Achievements []string  `json:"achievements"`
}

// GetProgress returns a user's XP/level/achievements summary, cached briefly
func (s *Service) GetProgress(ctx context.Context, userID uuid.UUID) (ProgressSummary, error) {
	key := cache.GetProgressCacheKey(userID)

	var summary ProgressSummary
	if s.cache != nil {
		if err := s.cache.Get(ctx, key, &summary); err == nil {
			return summary, nil
		}
	}

	var progress models.UserProgress
	err := s.readOnlyDB.WithContext(ctx).First(&progress, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ProgressSummary{}, errors.Wrap(err, "failed to load user progress")
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		progress = models.UserProgress{UserID: userID, TotalXP: 0, Level: 1}
	}

	var grants []models.AchievementGrant
	if err := s.readOnlyDB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at DESC").
		Find(&grants).Error; err != nil {
		return ProgressSummary{}, errors.Wrap(err, "failed to load achievements")
	}

	summary = ProgressSummary{
		UserID:       userID,
		TotalXP:      progress.TotalXP,
		Level:        progress.Level,
		Achievements: make([]string, 0, len(grants)),
	}
	for _, grant := range grants {
		summary.Achievements = append(summary.Achievements, grant.AchievementID)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, summary, progressCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache progress summary")
		}
	}
	return summary, nil
}

// LevelForXP computes the level for a total XP amount. Level n requires
// 100*n + 50*n*(n-1)/2 total XP.
func LevelForXP(totalXP int) int {
	if totalXP <= 0 {
		return 1
	}
	level := 1
	for level < 100 {
		next := 100*level + (50*level*(level-1))/2
		if totalXP < next {
			break
		}
		level++
	}
	return level
}

// loadProgress reads the progress row under a FOR UPDATE lock so two
// transactions for the same user serialize their read-modify-write instead
// of both reading the same total and the later commit losing the earlier
// increment.
func loadProgress(tx *gorm.DB, userID uuid.UUID) (*models.UserProgress, error) {
	var progress models.UserProgress
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&progress, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		progress = models.UserProgress{UserID: userID, TotalXP: 0, Level: 1}
		if err := tx.Create(&progress).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, errAwardRaced
			}
			return nil, errors.Wrap(err, "failed to create user progress")
		}
		return &progress, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load user progress")
	}
	return &progress, nil
}

func grantAchievement(tx *gorm.DB, userID uuid.UUID, achievementID, token string) (bool, error) {
	var existing models.AchievementGrant
	err := tx.Where("user_id = ? AND achievement_id = ?", userID, achievementID).First(&existing).Error
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, errors.Wrap(err, "failed to check achievement grant")
	}

	grant := models.AchievementGrant{
		ID:            uuid.New(),
		UserID:        userID,
		AchievementID: achievementID,
		Token:         token,
		GrantedAt:     time.Now().UTC(),
	}
	if err := tx.Create(&grant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent call granted it first; the retry sees the
			// existing grant and reports nothing unlocked.
			return false, errAwardRaced
		}
		return false, errors.Wrap(err, "failed to record achievement grant")
	}
	return true, nil
}

func (s *Service) invalidateProgress(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.GetProgressCacheKey(userID)); err != nil {
		log.Warn().Err(err).Msg("Failed to invalidate progress cache")
	}
}
