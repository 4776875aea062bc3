package models

import (
	"fmt"
	"strings"
)

// FacilityRef identifies one dining or retail location.
// Code and DisplayName are both used as the stored dining_court value in older rows.
type FacilityRef struct {
	Code        string `json:"code"`
	APIName     string `json:"api_name"`
	DisplayName string `json:"display_name"`
}

// Aliases returns the distinct spellings a catalog row may carry for this facility.
func (f FacilityRef) Aliases() []string {
	out := make([]string, 0, 3)
	seen := map[string]bool{}
	for _, v := range []string{f.DisplayName, f.Code, f.APIName} {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

type FacilityRegistry struct {
	facilities []FacilityRef
	byAlias    map[string]int
}

var defaultFacilities = []FacilityRef{
	{Code: "ERHT", APIName: "Earhart", DisplayName: "Earhart"},
	{Code: "FORD", APIName: "Ford", DisplayName: "Ford"},
	{Code: "HILL", APIName: "Hillenbrand", DisplayName: "Hillenbrand"},
	{Code: "WILY", APIName: "Wiley", DisplayName: "Wiley"},
	{Code: "WIND", APIName: "Windsor", DisplayName: "Windsor"},
	{Code: "BOWL", APIName: "1bowl at Meredith Hall", DisplayName: "1bowl at Meredith Hall"},
	{Code: "PZZA", APIName: "Pete's Za at Tarkington Hall", DisplayName: "Pete's Za at Tarkington Hall"},
	{Code: "@TGP", APIName: "Sushi Boss at Meredith Hall", DisplayName: "Sushi Boss at Meredith Hall"},
	{Code: "EOTG", APIName: "Earhart On-the-GO!", DisplayName: "Earhart On-the-GO!"},
	{Code: "FOTG", APIName: "Ford On-the-GO!", DisplayName: "Ford On-the-GO!"},
	{Code: "LWSN", APIName: "Lawson On-the-GO!", DisplayName: "Lawson On-the-GO!"},
	{Code: "WOTG", APIName: "Windsor On-the-GO!", DisplayName: "Windsor On-the-GO!"},
}

// DefaultFacilityRegistry returns the campus dining registry.
func DefaultFacilityRegistry() *FacilityRegistry {
	r, err := NewFacilityRegistry(defaultFacilities)
	if err != nil {
		panic(err)
	}
	return r
}

// NewFacilityRegistry indexes every alias case-insensitively. Two facilities sharing an alias is an error.
func NewFacilityRegistry(facilities []FacilityRef) (*FacilityRegistry, error) {
	r := &FacilityRegistry{
		facilities: make([]FacilityRef, 0, len(facilities)),
		byAlias:    make(map[string]int),
	}
	for _, f := range facilities {
		if strings.TrimSpace(f.DisplayName) == "" || strings.TrimSpace(f.APIName) == "" {
			return nil, fmt.Errorf("facility %q: display name and api name are required", f.Code)
		}
		idx := len(r.facilities)
		for _, alias := range f.Aliases() {
			key := aliasKey(alias)
			if prev, ok := r.byAlias[key]; ok && prev != idx {
				return nil, fmt.Errorf("alias %q is shared by %q and %q", alias, r.facilities[prev].DisplayName, f.DisplayName)
			}
			r.byAlias[key] = idx
		}
		r.facilities = append(r.facilities, f)
	}
	return r, nil
}

// All returns the facilities in registry order.
func (r *FacilityRegistry) All() []FacilityRef {
	out := make([]FacilityRef, len(r.facilities))
	copy(out, r.facilities)
	return out
}

// Resolve maps a code, API name or display name to its facility.
func (r *FacilityRegistry) Resolve(alias string) (FacilityRef, bool) {
	idx, ok := r.byAlias[aliasKey(alias)]
	if !ok {
		return FacilityRef{}, false
	}
	return r.facilities[idx], true
}

// CanonicalName returns the display name for a known alias, or the trimmed input otherwise.
func (r *FacilityRegistry) CanonicalName(alias string) string {
	if f, ok := r.Resolve(alias); ok {
		return f.DisplayName
	}
	return strings.TrimSpace(alias)
}

// Select resolves a list of aliases, preserving registry order. An empty list selects everything.
func (r *FacilityRegistry) Select(aliases []string) ([]FacilityRef, error) {
	if len(aliases) == 0 {
		return r.All(), nil
	}
	want := make(map[int]bool, len(aliases))
	for _, a := range aliases {
		idx, ok := r.byAlias[aliasKey(a)]
		if !ok {
			return nil, fmt.Errorf("unknown facility %q", a)
		}
		want[idx] = true
	}
	out := make([]FacilityRef, 0, len(want))
	for i, f := range r.facilities {
		if want[i] {
			out = append(out, f)
		}
	}
	return out, nil
}

func aliasKey(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
