package menusync

import (
	"context"
	"strings"
	"time"

	"github.com/boilerfuel/menu_backend/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotBatchSize = 200

// SnapshotRecorder keeps the per-date record of raw observations. Re-recording the same
// (date, facility, meal, station, name) overwrites that row, so same-day re-runs are idempotent.
type SnapshotRecorder struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSnapshotRecorder(db *gorm.DB) *SnapshotRecorder {
	return &SnapshotRecorder{db: db, now: time.Now}
}

func (r *SnapshotRecorder) Record(ctx context.Context, observations []MenuItemObservation) (int, error) {
	rows := snapshotRows(observations, r.now())
	if len(rows) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "menu_date"}, {Name: "dining_court"}, {Name: "meal_time"}, {Name: "station"}, {Name: "name"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"calories", "macros", "dining_court_code", "source", "updated_at"}),
		}).
		CreateInBatches(&rows, snapshotBatchSize).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// snapshotRows converts observations, keeping the first of any duplicate key so a single
// statement never touches the same row twice.
func snapshotRows(observations []MenuItemObservation, now time.Time) []models.MenuSnapshot {
	seen := make(map[string]bool, len(observations))
	rows := make([]models.MenuSnapshot, 0, len(observations))
	for _, o := range observations {
		name := strings.TrimSpace(o.Name)
		meal := models.CanonicalMeal(o.MealTime)
		station := models.CanonicalStation(o.Station)
		key := strings.Join([]string{o.MenuDate, o.Facility.DisplayName, meal, station, name}, "\x00")
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, models.MenuSnapshot{
			MenuDate:        o.MenuDate,
			DiningCourt:     o.Facility.DisplayName,
			DiningCourtCode: o.Facility.Code,
			MealTime:        meal,
			Station:         station,
			Name:            name,
			Calories:        o.Nutrition.Calories,
			Macros:          o.Nutrition.Macros,
			Source:          o.Source,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return rows
}
