package models_test

import (
	"testing"
	"time"

	"github.com/boilerfuel/menu_backend/models"
)

func TestSchedule_AddDeduplicatesDateAndMeal(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var s models.Schedule
	s = s.Add(models.NewAppearanceSlot(day, models.MealLunch))
	s = s.Add(models.NewAppearanceSlot(day, models.MealLunch))
	s = s.Add(models.NewAppearanceSlot(day, models.MealDinner))
	if len(s) != 2 {
		t.Fatalf("expected 2 slots, got %d: %+v", len(s), s)
	}
	if s[0].DayName != "Monday" || s[0].Date != "2026-03-02" {
		t.Fatalf("unexpected slot %+v", s[0])
	}
	if !s.Contains("2026-03-02") || s.Contains("2026-03-03") {
		t.Fatalf("Contains mismatch for %+v", s)
	}
}

func TestSchedule_SortedByDateThenMeal(t *testing.T) {
	d1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	s := models.Schedule{
		models.NewAppearanceSlot(d2, models.MealBreakfast),
		models.NewAppearanceSlot(d1, models.MealDinner),
		models.NewAppearanceSlot(d1, models.MealBreakfast),
	}
	sorted := s.Sorted()
	want := []string{"2026-03-02 breakfast", "2026-03-02 dinner", "2026-03-03 breakfast"}
	for i, slot := range sorted {
		if got := slot.Date + " " + slot.MealTime; got != want[i] {
			t.Fatalf("slot %d expected %q, got %q", i, want[i], got)
		}
	}
	if s[0].Date != "2026-03-03" {
		t.Fatalf("Sorted must not reorder the receiver")
	}
}

func TestSchedule_ValueAndScan(t *testing.T) {
	var empty models.Schedule
	v, err := empty.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != "[]" {
		t.Fatalf("nil schedule should store as [], got %v", v)
	}

	var s models.Schedule
	if err := s.Scan([]byte(`[{"date":"2026-03-02","day_name":"Monday","meal_time":"lunch"}]`)); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(s) != 1 || s[0].MealTime != "lunch" {
		t.Fatalf("unexpected scan result %+v", s)
	}
	if err := s.Scan(nil); err != nil || s != nil {
		t.Fatalf("Scan(nil) should reset, got %+v err=%v", s, err)
	}
	if err := s.Scan(42); err == nil {
		t.Fatalf("expected error scanning an int")
	}
}

func TestNutrition_IsZeroAndDiffers(t *testing.T) {
	var zero models.Nutrition
	if !zero.IsZero() {
		t.Fatalf("zero value should be IsZero")
	}
	flagsOnly := models.Nutrition{Macros: models.Macros{IsVegetarian: true, Sodium: 10}}
	if !flagsOnly.IsZero() {
		t.Fatalf("flags and minor nutrients do not make nutrition non-zero")
	}
	a := models.Nutrition{Calories: 250, Macros: models.Macros{Protein: 30, Carbs: 2, Fats: 12}}
	if a.IsZero() {
		t.Fatalf("expected non-zero")
	}
	b := a
	b.Macros.Protein = 30.05
	if a.Differs(b, 0.1) {
		t.Fatalf("difference within epsilon should not count")
	}
	b.Macros.Protein = 31
	if !a.Differs(b, 0.1) {
		t.Fatalf("expected protein difference to count")
	}
}
