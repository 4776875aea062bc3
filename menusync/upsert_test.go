package menusync

import (
	"context"
	"errors"
	"testing"

	"github.com/boilerfuel/menu_backend/models"
)

func dedupedItem(name, facility, meal, stationName string, n models.Nutrition, days ...int) DedupedItem {
	f, _ := models.DefaultFacilityRegistry().Resolve(facility)
	obs := MenuItemObservation{Name: name, Facility: f, MealTime: meal, Station: stationName, Nutrition: n}
	var sched models.Schedule
	for _, d := range days {
		sched = sched.Add(models.NewAppearanceSlot(day(d), meal))
	}
	return DedupedItem{Identity: obs.Identity(), Observation: obs, Schedule: sched}
}

func TestUpsert_SkipPolicy(t *testing.T) {
	db := newTestDB(t)
	e := NewUpsertEngine(db, models.DefaultFacilityRegistry(), quietLogger())
	ctx := context.Background()

	outcome, err := e.Upsert(ctx, dedupedItem("Mystery Soup", "Ford", models.MealLunch, "Soup", models.Nutrition{}))
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("zero nutrition without schedule should be skipped, got %s err=%v", outcome, err)
	}
	outcome, err = e.Upsert(ctx, dedupedItem("Mystery Soup", "Ford", models.MealLunch, "Soup", models.Nutrition{}, 0))
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("zero nutrition with a schedule is a placeholder insert, got %s err=%v", outcome, err)
	}
	outcome, err = e.Upsert(ctx, dedupedItem("Apple", "Ford", models.MealLunch, "Fruit", models.Nutrition{Calories: 95}))
	if err != nil || outcome != OutcomeInserted {
		t.Fatalf("nutrition-bearing item without schedule should insert, got %s err=%v", outcome, err)
	}

	foods := loadFoods(t, db)
	if len(foods) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(foods))
	}
	if foods[1].NextAvailable == nil || len(foods[1].NextAvailable) != 0 {
		t.Fatalf("empty schedule should round-trip as an empty list, got %#v", foods[1].NextAvailable)
	}
}

func TestUpsert_ReplacesPlaceholderNutrition(t *testing.T) {
	db := newTestDB(t)
	e := NewUpsertEngine(db, models.DefaultFacilityRegistry(), quietLogger())
	ctx := context.Background()

	if _, err := e.Upsert(ctx, dedupedItem("Tofu Bowl", "Hillenbrand", models.MealDinner, "Bowls", models.Nutrition{}, 0)); err != nil {
		t.Fatalf("seed placeholder: %v", err)
	}
	outcome, err := e.Upsert(ctx, dedupedItem("Tofu Bowl", "HILL", "Dinner", "Bowls", models.Nutrition{Calories: 480, Macros: models.Macros{Protein: 22}}, 1))
	if err != nil || outcome != OutcomeUpdated {
		t.Fatalf("expected update, got %s err=%v", outcome, err)
	}
	foods := loadFoods(t, db)
	if len(foods) != 1 || foods[0].Calories != 480 || foods[0].NextAvailable[0].Date != "2026-03-03" {
		t.Fatalf("unexpected row %+v", foods)
	}
}

func TestUpsert_PrefersDisplayNameRowAmongAliases(t *testing.T) {
	db := newTestDB(t)
	rows := []models.Food{
		{Name: "Pizza", DiningCourt: "WIND", MealTime: "Lunch", Station: "Oven", Calories: 300, Macros: models.Macros{Protein: 12}},
		{Name: "Pizza", DiningCourt: "Windsor", MealTime: "lunch", Station: "Oven", Calories: 310, Macros: models.Macros{Protein: 13}},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	e := NewUpsertEngine(db, models.DefaultFacilityRegistry(), quietLogger())
	if _, err := e.Upsert(context.Background(), dedupedItem("Pizza", "Windsor", models.MealLunch, "Oven", models.Nutrition{Calories: 320, Macros: models.Macros{Protein: 14}}, 0)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	var updated models.Food
	db.Where("id = ?", rows[1].ID).Take(&updated)
	if updated.Calories != 320 || len(updated.NextAvailable) != 1 {
		t.Fatalf("expected display-name row to be updated, got %+v", updated)
	}
	var untouched models.Food
	db.Where("id = ?", rows[0].ID).Take(&untouched)
	if untouched.Calories != 300 || untouched.DiningCourt != "WIND" {
		t.Fatalf("alias duplicate should be left alone, got %+v", untouched)
	}
}

func TestUpsertAll_RecordsFailuresAndContinues(t *testing.T) {
	db := newTestDB(t)
	e := NewUpsertEngine(db, models.DefaultFacilityRegistry(), quietLogger())

	// every write fails once the table is gone
	if err := db.Migrator().DropTable(&models.Food{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	items := []DedupedItem{
		dedupedItem("Apple", "Ford", models.MealLunch, "Fruit", models.Nutrition{Calories: 95}, 0),
		dedupedItem("Pear", "Ford", models.MealLunch, "Fruit", models.Nutrition{Calories: 100}, 0),
	}
	summary, failures, err := e.UpsertAll(context.Background(), items)
	if err != nil {
		t.Fatalf("per-item failures must not abort: %v", err)
	}
	if summary.Failed != 2 || len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %+v %+v", summary, failures)
	}
	if failures[0].Code != "upsert_failed" || failures[0].EntityType != models.SyncEntityItem {
		t.Fatalf("unexpected failure %+v", failures[0])
	}
}

func TestUpsertAll_StopsOnCancellation(t *testing.T) {
	db := newTestDB(t)
	e := NewUpsertEngine(db, models.DefaultFacilityRegistry(), quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := e.UpsertAll(ctx, []DedupedItem{dedupedItem("Apple", "Ford", models.MealLunch, "Fruit", models.Nutrition{Calories: 95}, 0)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := countRows(t, db, &models.Food{}); n != 0 {
		t.Fatalf("nothing should be written, got %d", n)
	}
}

func TestUpsert_MatchIgnoresCase(t *testing.T) {
	db := newTestDB(t)
	e := NewUpsertEngine(db, models.DefaultFacilityRegistry(), quietLogger())
	ctx := context.Background()

	first := dedupedItem("Grilled Chicken", "Ford", models.MealLunch, "Grill", models.Nutrition{Calories: 250}, 0)
	second := dedupedItem("grilled chicken", "Ford", models.MealLunch, "grill", models.Nutrition{Calories: 260}, 1)
	if first.Identity != second.Identity {
		t.Fatalf("expected one identity, got %v and %v", first.Identity, second.Identity)
	}

	if outcome, err := e.Upsert(ctx, first); err != nil || outcome != OutcomeInserted {
		t.Fatalf("first upsert: %s err=%v", outcome, err)
	}
	if outcome, err := e.Upsert(ctx, second); err != nil || outcome != OutcomeUpdated {
		t.Fatalf("differently cased observation should update, got %s err=%v", outcome, err)
	}
	foods := loadFoods(t, db)
	if len(foods) != 1 || foods[0].Calories != 260 || foods[0].Name != "Grilled Chicken" {
		t.Fatalf("expected one updated row, got %+v", foods)
	}
}
