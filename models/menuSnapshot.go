package models

import "time"

const (
	SnapshotSourceAPI  = "api"
	SnapshotSourceHTML = "html"
)

// MenuSnapshot is the per-date record of a raw observation, independent of the catalog.
type MenuSnapshot struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	MenuDate        string    `gorm:"size:10;not null;uniqueIndex:idx_menu_snapshots_key,priority:1" json:"menu_date"`
	DiningCourt     string    `gorm:"size:100;not null;uniqueIndex:idx_menu_snapshots_key,priority:2" json:"dining_court"`
	MealTime        string    `gorm:"size:50;not null;uniqueIndex:idx_menu_snapshots_key,priority:3" json:"meal_time"`
	Station         string    `gorm:"size:255;not null;uniqueIndex:idx_menu_snapshots_key,priority:4" json:"station"`
	Name            string    `gorm:"size:255;not null;uniqueIndex:idx_menu_snapshots_key,priority:5" json:"name"`
	DiningCourtCode string    `gorm:"size:10" json:"dining_court_code"`
	Calories        int       `gorm:"not null;default:0" json:"calories"`
	Macros          Macros    `gorm:"type:json" json:"macros"`
	Source          string    `gorm:"size:20" json:"source"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s MenuSnapshot) Nutrition() Nutrition {
	return Nutrition{Calories: s.Calories, Macros: s.Macros}
}
