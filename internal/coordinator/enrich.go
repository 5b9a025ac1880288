package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"example.com/fitquest/services/progression/internal/domains"
	"example.com/fitquest/services/progression/internal/models"
	"example.com/fitquest/services/progression/internal/repositories"
)

// MealCounts supplies per-day and lifetime meal counts
type MealCounts interface {
	CountForDay(ctx context.Context, userID uuid.UUID, day time.Time) (int, error)
	CountForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// WeightHistory supplies weight entry history
type WeightHistory interface {
	LatestBefore(ctx context.Context, userID uuid.UUID, before time.Time) (*models.WeightEntry, error)
	CountForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

var (
	_ MealCounts    = (*repositories.MealRepository)(nil)
	_ WeightHistory = (*repositories.WeightRepository)(nil)
)

// Enricher fills the counter fields of an event payload when the publisher
// omitted them. Processors stay pure; all storage lookups happen here, before
// routing.
type Enricher struct {
	meals   MealCounts
	weights WeightHistory
}

// NewEnricher creates an enricher
func NewEnricher(meals MealCounts, weights WeightHistory) *Enricher {
	return &Enricher{meals: meals, weights: weights}
}

// Enrich returns a copy of the event with missing counters filled in. A
// lookup failure leaves the field at its published value; the processors
// treat a zero counter as "no milestone".
func (e *Enricher) Enrich(ctx context.Context, event domains.Event) domains.Event {
	switch event.Source {
	case domains.SourceNutrition:
		e.enrichMeal(ctx, &event)
	case domains.SourceMeasurement:
		e.enrichWeight(ctx, &event)
	}
	return event
}

func (e *Enricher) enrichMeal(ctx context.Context, event *domains.Event) {
	if event.Meal == nil || event.Action != domains.ActionLogged {
		return
	}

	if event.Meal.MealsToday == 0 {
		count, err := e.meals.CountForDay(ctx, event.UserID, event.Timestamp)
		if err != nil {
			log.Warn().Err(err).Str("token", event.Token).Msg("Failed to count meals for day")
		} else {
			// The event's own meal is not yet stored; count it
			event.Meal.MealsToday = count + 1
		}
	}

	if event.Meal.TotalMealsLogged == 0 {
		total, err := e.meals.CountForUser(ctx, event.UserID)
		if err != nil {
			log.Warn().Err(err).Str("token", event.Token).Msg("Failed to count lifetime meals")
		} else {
			event.Meal.TotalMealsLogged = total + 1
		}
	}
}

func (e *Enricher) enrichWeight(ctx context.Context, event *domains.Event) {
	if event.Weight == nil || event.Action != domains.ActionLogged {
		return
	}

	if event.Weight.PreviousKg == 0 {
		previous, err := e.weights.LatestBefore(ctx, event.UserID, event.Timestamp)
		if err != nil {
			log.Warn().Err(err).Str("token", event.Token).Msg("Failed to look up previous weight entry")
		} else if previous != nil {
			event.Weight.PreviousKg = previous.WeightKg
		}
	}

	if event.Weight.TotalEntries == 0 {
		total, err := e.weights.CountForUser(ctx, event.UserID)
		if err != nil {
			log.Warn().Err(err).Str("token", event.Token).Msg("Failed to count weight entries")
		} else {
			event.Weight.TotalEntries = total + 1
		}
	}
}
