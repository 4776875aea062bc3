package menusync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UpsertOutcome string

const (
	OutcomeInserted           UpsertOutcome = "inserted"
	OutcomeUpdated            UpsertOutcome = "updated"
	OutcomeNutritionPreserved UpsertOutcome = "nutrition_preserved"
	OutcomeSkipped            UpsertOutcome = "skipped"
)

// UpsertEngine merges deduplicated items into the foods catalog, one transaction per item.
type UpsertEngine struct {
	db       *gorm.DB
	registry *models.FacilityRegistry
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewUpsertEngine(db *gorm.DB, registry *models.FacilityRegistry, logger logrus.FieldLogger) *UpsertEngine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &UpsertEngine{db: db, registry: registry, logger: logger, now: time.Now}
}

// Upsert applies the catalog rules for one item:
//   - a match is any row with the same name, meal period and station (case-insensitive) under any
//     alias of the facility
//   - stored nutrition is replaced only by non-zero nutrition, or when the stored one is all zero
//   - dining_court is rewritten to the display name and next_available is replaced wholesale
//   - an item with zero nutrition and no schedule is not inserted
func (e *UpsertEngine) Upsert(ctx context.Context, item DedupedItem) (UpsertOutcome, error) {
	obs := item.Observation
	facility := obs.Facility
	if resolved, ok := e.registry.Resolve(facility.DisplayName); ok {
		facility = resolved
	}
	name := strings.TrimSpace(obs.Name)
	meal := models.CanonicalMeal(obs.MealTime)
	station := models.CanonicalStation(obs.Station)
	schedule := item.Schedule.Sorted()
	now := e.now()

	var outcome UpsertOutcome
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Food
		err := tx.Where("LOWER(name) = ? AND LOWER(meal_time) = ? AND LOWER(station) = ? AND dining_court IN ?",
			strings.ToLower(name), meal, strings.ToLower(station), facility.Aliases()).
			Order(clause.OrderBy{Expression: clause.Expr{
				SQL:                "CASE WHEN dining_court = ? THEN 0 ELSE 1 END, id",
				Vars:               []interface{}{facility.DisplayName},
				WithoutParentheses: true,
			}}).
			Take(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			if obs.Nutrition.IsZero() && len(schedule) == 0 {
				outcome = OutcomeSkipped
				return nil
			}
			food := models.Food{
				Name:          name,
				Calories:      obs.Nutrition.Calories,
				Macros:        obs.Nutrition.Macros,
				DiningCourt:   facility.DisplayName,
				MealTime:      meal,
				Station:       station,
				NextAvailable: schedule,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.Create(&food).Error; err != nil {
				return err
			}
			outcome = OutcomeInserted
			return nil
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"dining_court":   facility.DisplayName,
			"meal_time":      meal,
			"next_available": schedule,
			"updated_at":     now,
		}
		outcome = OutcomeNutritionPreserved
		if !obs.Nutrition.IsZero() || existing.Nutrition().IsZero() {
			updates["calories"] = obs.Nutrition.Calories
			updates["macros"] = obs.Nutrition.Macros
			outcome = OutcomeUpdated
		}
		return tx.Model(&models.Food{}).Where("id = ?", existing.ID).Updates(updates).Error
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrPersistenceConflict, item.Identity.String(), err)
	}
	return outcome, nil
}

// UpsertAll writes items in order. A failed item is logged and skipped; cancellation stops
// between items and returns ctx.Err() with everything committed so far left in place.
func (e *UpsertEngine) UpsertAll(ctx context.Context, items []DedupedItem) (UpsertSummary, []ItemFailure, error) {
	var summary UpsertSummary
	var failures []ItemFailure
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, failures, err
		}
		outcome, err := e.Upsert(ctx, item)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return summary, failures, ctxErr
			}
			summary.Failed++
			config.LogError(e.logger, "menusync", "UpsertAll", "upsert item", item.Identity.String(), err)
			failures = append(failures, ItemFailure{
				EntityType: models.SyncEntityItem,
				EntityKey:  item.Identity.String(),
				Code:       "upsert_failed",
				Message:    err.Error(),
				Retryable:  true,
			})
			continue
		}
		switch outcome {
		case OutcomeInserted:
			summary.Inserted++
		case OutcomeUpdated:
			summary.Updated++
		case OutcomeNutritionPreserved:
			summary.Updated++
			summary.NutritionPreserved++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}
	return summary, failures, nil
}
