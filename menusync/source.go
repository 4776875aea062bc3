package menusync

import (
	"context"
	"errors"
	"time"

	"github.com/boilerfuel/menu_backend/models"
)

// MenuSource produces the observations of one facility-day.
// An empty result with a nil error means closed or unpublished.
type MenuSource interface {
	Name() string
	Fetch(ctx context.Context, facility models.FacilityRef, date time.Time) ([]MenuItemObservation, error)
}

// ChainSource asks each source in turn and returns the first non-empty answer.
type ChainSource struct {
	sources []MenuSource
}

func NewChainSource(sources ...MenuSource) *ChainSource {
	var nonNil []MenuSource
	for _, s := range sources {
		if s != nil {
			nonNil = append(nonNil, s)
		}
	}
	return &ChainSource{sources: nonNil}
}

func (c *ChainSource) Name() string {
	return "chain"
}

func (c *ChainSource) Len() int {
	return len(c.sources)
}

// Fetch returns the first non-empty result. Errors are only returned when every source came back empty.
func (c *ChainSource) Fetch(ctx context.Context, facility models.FacilityRef, date time.Time) ([]MenuItemObservation, error) {
	var errs []error
	for _, s := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, err := s.Fetch(ctx, facility, date)
		if len(obs) > 0 {
			return obs, nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			errs = append(errs, err)
		}
	}
	return nil, errors.Join(errs...)
}
