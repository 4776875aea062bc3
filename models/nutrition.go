package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
)

// Macros is stored as the foods.macros / menu_snapshots.macros JSON column.
type Macros struct {
	Protein      float64  `json:"protein"`
	Carbs        float64  `json:"carbs"`
	Fats         float64  `json:"fats"`
	SaturatedFat float64  `json:"saturated_fat"`
	Cholesterol  float64  `json:"cholesterol"`
	Sodium       float64  `json:"sodium"`
	Fiber        float64  `json:"fiber"`
	Sugar        float64  `json:"sugar"`
	AddedSugar   float64  `json:"added_sugar"`
	ServingSize  string   `json:"serving_size,omitempty"`
	IsVegetarian bool     `json:"is_vegetarian"`
	IsVegan      bool     `json:"is_vegan"`
	Allergens    []string `json:"allergens,omitempty"`
	Ingredients  string   `json:"ingredients,omitempty"`
}

// Value implements the driver.Valuer interface
func (m Macros) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (m *Macros) Scan(value interface{}) error {
	*m = Macros{}
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, m)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot convert %T to Macros", value)
	}
}

// Nutrition is one item's nutrition snapshot.
type Nutrition struct {
	Calories int    `json:"calories"`
	Macros   Macros `json:"macros"`
}

// IsZero reports a placeholder snapshot: no calories and no macronutrients.
func (n Nutrition) IsZero() bool {
	return n.Calories == 0 && n.Macros.Protein == 0 && n.Macros.Carbs == 0 && n.Macros.Fats == 0
}

// Differs reports whether calories or any macronutrient differ by more than eps.
func (n Nutrition) Differs(other Nutrition, eps float64) bool {
	pairs := [][2]float64{
		{float64(n.Calories), float64(other.Calories)},
		{n.Macros.Protein, other.Macros.Protein},
		{n.Macros.Carbs, other.Macros.Carbs},
		{n.Macros.Fats, other.Macros.Fats},
	}
	for _, p := range pairs {
		if math.Abs(p[0]-p[1]) > eps {
			return true
		}
	}
	return false
}
