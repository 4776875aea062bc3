package models_test

import (
	"testing"

	"github.com/boilerfuel/menu_backend/models"
)

func TestFacilityRegistry_ResolvesEveryAlias(t *testing.T) {
	r := models.DefaultFacilityRegistry()
	for _, alias := range []string{"WILY", "wily", "Wiley", " wiley "} {
		f, ok := r.Resolve(alias)
		if !ok {
			t.Fatalf("Resolve(%q) not found", alias)
		}
		if f.DisplayName != "Wiley" || f.Code != "WILY" {
			t.Fatalf("Resolve(%q) returned %+v", alias, f)
		}
	}
	if got := r.CanonicalName("ERHT"); got != "Earhart" {
		t.Fatalf("CanonicalName(ERHT) expected Earhart, got %q", got)
	}
	if got := r.CanonicalName(" Unlisted Cafe "); got != "Unlisted Cafe" {
		t.Fatalf("CanonicalName of unknown alias should pass through, got %q", got)
	}
	if _, ok := r.Resolve("nowhere"); ok {
		t.Fatalf("unknown alias must not resolve")
	}
}

func TestFacilityRegistry_SelectKeepsRegistryOrder(t *testing.T) {
	r := models.DefaultFacilityRegistry()
	got, err := r.Select([]string{"Wiley", "FORD", "ford"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0].Code != "FORD" || got[1].Code != "WILY" {
		t.Fatalf("unexpected selection %+v", got)
	}

	all, err := r.Select(nil)
	if err != nil {
		t.Fatalf("Select(nil): %v", err)
	}
	if len(all) != len(r.All()) || len(all) != 12 {
		t.Fatalf("expected all 12 facilities, got %d", len(all))
	}

	if _, err := r.Select([]string{"Atlantis"}); err == nil {
		t.Fatalf("expected error for unknown facility")
	}
}

func TestNewFacilityRegistry_RejectsSharedAlias(t *testing.T) {
	_, err := models.NewFacilityRegistry([]models.FacilityRef{
		{Code: "A", APIName: "Alpha", DisplayName: "Alpha"},
		{Code: "ALPHA", APIName: "Alpha Two", DisplayName: "Alpha Two"},
	})
	if err == nil {
		t.Fatalf("expected shared alias error")
	}
}

func TestFacilityRef_AliasesAreDistinct(t *testing.T) {
	f := models.FacilityRef{Code: "FORD", APIName: "Ford", DisplayName: "Ford"}
	aliases := f.Aliases()
	if len(aliases) != 2 || aliases[0] != "Ford" || aliases[1] != "FORD" {
		t.Fatalf("unexpected aliases %v", aliases)
	}
}
