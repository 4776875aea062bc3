package models

import (
	"regexp"
	"strings"
)

const (
	MealBreakfast = "breakfast"
	MealBrunch    = "brunch"
	MealLunch     = "lunch"
	MealLateLunch = "late lunch"
	MealDinner    = "dinner"
	MealUnknown   = "unknown"

	StationUnknown = "Unknown"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeText lowercases s and collapses every run of non-alphanumerics into one space.
func NormalizeText(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// mealAliases is keyed by NormalizeText output.
var mealAliases = map[string]string{
	"breakfast":  MealBreakfast,
	"brunch":     MealBrunch,
	"lunch":      MealLunch,
	"late lunch": MealLateLunch,
	"latelunch":  MealLateLunch,
	"dinner":     MealDinner,
}

// CanonicalMeal maps an upstream meal label onto the stored meal period.
// Unknown labels pass through normalized so new periods are not silently merged.
func CanonicalMeal(name string) string {
	n := NormalizeText(name)
	if n == "" {
		return MealUnknown
	}
	if m, ok := mealAliases[n]; ok {
		return m
	}
	return n
}

// MealOrder sorts meal periods within a day.
func MealOrder(meal string) int {
	switch meal {
	case MealBreakfast:
		return 0
	case MealBrunch:
		return 1
	case MealLunch:
		return 2
	case MealLateLunch:
		return 3
	case MealDinner:
		return 4
	default:
		return 5
	}
}

// CanonicalStation trims the station label; blanks become "Unknown".
func CanonicalStation(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return StationUnknown
	}
	return name
}
