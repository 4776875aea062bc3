package menusync

import (
	"errors"
	"testing"
)

func TestParseNutrition_MatchesLabelsMostSpecificFirst(t *testing.T) {
	detail, err := decodeItemDetail([]byte(`{
		"Name": "Grilled Chicken",
		"IsVegetarian": false,
		"Ingredients": " chicken breast, salt ",
		"Allergens": [{"Name":"Soy","Value":true},{"Name":"Milk","Value":false}],
		"Nutrition": [
			{"Name":"Serving Size","LabelValue":"1 each"},
			{"Name":"Calories","Value":249.6},
			{"Name":"Calories from Fat","Value":108},
			{"Name":"Total Fat","Value":"12g"},
			{"Name":"Saturated Fat","Value":3.5},
			{"Name":"Monounsaturated Fat","Value":5},
			{"Name":"Trans Fat","Value":0.2},
			{"Name":"Cholesterol","Value":null,"LabelValue":"85mg"},
			{"Name":"Sodium","LabelValue":"<5mg"},
			{"Name":"Total Carbohydrate","Value":2},
			{"Name":"Dietary Fiber","Value":1},
			{"Name":"Sugar","Value":1.5},
			{"Name":"Added Sugar","Value":0.5},
			{"Name":"Protein","Value":30},
			{"Name":"Vitamin D","Value":2}
		]
	}`))
	if err != nil {
		t.Fatalf("decodeItemDetail: %v", err)
	}
	n, errs := parseNutrition(detail)
	if len(errs) != 0 {
		t.Fatalf("unexpected parse errors: %v", errs)
	}

	if n.Calories != 250 {
		t.Fatalf("expected calories rounded to 250, got %d", n.Calories)
	}
	checks := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"fats", n.Macros.Fats, 12},
		{"saturated fat", n.Macros.SaturatedFat, 3.5},
		{"cholesterol", n.Macros.Cholesterol, 85},
		{"sodium", n.Macros.Sodium, 5},
		{"carbs", n.Macros.Carbs, 2},
		{"fiber", n.Macros.Fiber, 1},
		{"sugar", n.Macros.Sugar, 1.5},
		{"added sugar", n.Macros.AddedSugar, 0.5},
		{"protein", n.Macros.Protein, 30},
	}
	for _, c := range checks {
		if c.got != c.expected {
			t.Fatalf("%s expected %v, got %v", c.name, c.expected, c.got)
		}
	}
	if n.Macros.ServingSize != "1 each" {
		t.Fatalf("unexpected serving size %q", n.Macros.ServingSize)
	}
	if n.Macros.Ingredients != "chicken breast, salt" {
		t.Fatalf("unexpected ingredients %q", n.Macros.Ingredients)
	}
	if len(n.Macros.Allergens) != 1 || n.Macros.Allergens[0] != "Soy" {
		t.Fatalf("expected only present allergens, got %v", n.Macros.Allergens)
	}
}

func TestParseNutrition_UnparsableFieldStaysZero(t *testing.T) {
	detail, err := decodeItemDetail([]byte(`[
		{"Name":"Calories","Value":"n/a"},
		{"Name":"Protein","Value":7}
	]`))
	if err != nil {
		t.Fatalf("bare nutrient list should decode: %v", err)
	}
	n, errs := parseNutrition(detail)
	if n.Calories != 0 || n.Macros.Protein != 7 {
		t.Fatalf("unexpected nutrition %+v", n)
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrParse) {
		t.Fatalf("expected one ErrParse, got %v", errs)
	}
}

func TestDecodeItemDetail_RejectsGarbage(t *testing.T) {
	if _, err := decodeItemDetail([]byte(`<html>oops</html>`)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}
