package models

import (
	"strings"
	"time"
)

// Food is a catalog entry: one item at one facility, meal period and station.
type Food struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	Name          string    `gorm:"size:255;not null;uniqueIndex:idx_foods_identity,priority:1" json:"name"`
	Calories      int       `gorm:"not null;default:0" json:"calories"`
	Macros        Macros    `gorm:"type:json" json:"macros"`
	DiningCourt   string    `gorm:"size:100;not null;index;uniqueIndex:idx_foods_identity,priority:2" json:"dining_court"`
	MealTime      string    `gorm:"size:50;not null;uniqueIndex:idx_foods_identity,priority:3" json:"meal_time"`
	Station       string    `gorm:"size:255;not null;uniqueIndex:idx_foods_identity,priority:4" json:"station"`
	NextAvailable Schedule  `gorm:"type:json" json:"next_available"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (f Food) Nutrition() Nutrition {
	return Nutrition{Calories: f.Calories, Macros: f.Macros}
}

// ItemIdentity is the normalized dedup key of a menu item.
// Facility must already be the canonical display name so aliases collapse.
type ItemIdentity struct {
	Name     string
	Facility string
	MealTime string
	Station  string
}

func NewItemIdentity(name, facility, mealTime, station string) ItemIdentity {
	return ItemIdentity{
		Name:     NormalizeText(name),
		Facility: NormalizeText(facility),
		MealTime: NormalizeText(mealTime),
		Station:  NormalizeText(station),
	}
}

func (i ItemIdentity) String() string {
	return strings.Join([]string{i.Name, i.Facility, i.MealTime, i.Station}, "|")
}

// NutritionKey is the (name, facility) key used by the nutrition cache.
func NutritionKey(name, facility string) string {
	return NormalizeText(name) + "|" + NormalizeText(facility)
}
