package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AppearanceSlot is one forecast sighting of an item.
type AppearanceSlot struct {
	Date     string `json:"date"`
	DayName  string `json:"day_name"`
	MealTime string `json:"meal_time"`
}

func NewAppearanceSlot(date time.Time, meal string) AppearanceSlot {
	return AppearanceSlot{
		Date:     date.Format("2006-01-02"),
		DayName:  date.Weekday().String(),
		MealTime: meal,
	}
}

// Schedule is the ordered next_available list.
type Schedule []AppearanceSlot

// Value implements the driver.Valuer interface
func (s Schedule) Value() (driver.Value, error) {
	if s == nil {
		s = Schedule{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (s *Schedule) Scan(value interface{}) error {
	*s = nil
	var raw []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot convert %T to Schedule", value)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, s)
}

// Add appends a slot unless the same (date, meal) is already present.
func (s Schedule) Add(slot AppearanceSlot) Schedule {
	for _, existing := range s {
		if existing.Date == slot.Date && existing.MealTime == slot.MealTime {
			return s
		}
	}
	return append(s, slot)
}

// Contains reports whether any slot falls on date.
func (s Schedule) Contains(date string) bool {
	for _, slot := range s {
		if slot.Date == date {
			return true
		}
	}
	return false
}

// Sorted returns a copy ordered by date, then meal period.
func (s Schedule) Sorted() Schedule {
	out := make(Schedule, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return MealOrder(out[i].MealTime) < MealOrder(out[j].MealTime)
	})
	return out
}
