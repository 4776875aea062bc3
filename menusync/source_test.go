package menusync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boilerfuel/menu_backend/models"
)

type stubSource struct {
	name  string
	obs   []MenuItemObservation
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, facility models.FacilityRef, date time.Time) ([]MenuItemObservation, error) {
	s.calls++
	return s.obs, s.err
}

func TestChainSource_FirstNonEmptyWins(t *testing.T) {
	primary := &stubSource{name: "api", obs: []MenuItemObservation{{Name: "Taco"}}}
	fallback := &stubSource{name: "html", obs: []MenuItemObservation{{Name: "Burrito"}}}
	chain := NewChainSource(primary, nil, fallback)
	if chain.Len() != 2 {
		t.Fatalf("nil sources must be dropped, got %d", chain.Len())
	}

	obs, err := chain.Fetch(context.Background(), models.FacilityRef{}, testStart)
	if err != nil || len(obs) != 1 || obs[0].Name != "Taco" {
		t.Fatalf("unexpected result %+v err=%v", obs, err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback must not be consulted when primary has items")
	}
}

func TestChainSource_FallsThroughEmptyAndFailed(t *testing.T) {
	boom := errors.New("boom")
	primary := &stubSource{name: "api", err: boom}
	fallback := &stubSource{name: "html"}
	obs, err := NewChainSource(primary, fallback).Fetch(context.Background(), models.FacilityRef{}, testStart)
	if len(obs) != 0 || !errors.Is(err, boom) {
		t.Fatalf("expected joined primary error, got %+v err=%v", obs, err)
	}
	if fallback.calls != 1 {
		t.Fatalf("fallback should be tried once, got %d", fallback.calls)
	}

	closed := &stubSource{name: "api"}
	obs, err = NewChainSource(closed, &stubSource{name: "html"}).Fetch(context.Background(), models.FacilityRef{}, testStart)
	if len(obs) != 0 || err != nil {
		t.Fatalf("all-empty chain is closed, not an error: %+v err=%v", obs, err)
	}
}
