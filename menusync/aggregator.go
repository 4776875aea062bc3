package menusync

import (
	"context"
	"errors"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 4

type AggregateInput struct {
	StartDate           time.Time
	DaysBack            int
	DaysForward         int
	ScheduleStartOffset int
	Facilities          []models.FacilityRef
	Workers             int
	IncludeSnapshot     bool
}

type AggregateResult struct {
	Items    []DedupedItem
	Snapshot []MenuItemObservation
	Stats    FetchStats
	Failures []ItemFailure
}

// Aggregator sweeps the date window across facilities and folds observations per identity.
type Aggregator struct {
	source MenuSource
	logger logrus.FieldLogger
	tracer trace.Tracer
}

func NewAggregator(source MenuSource, logger logrus.FieldLogger, tracer trace.Tracer) *Aggregator {
	if logger == nil {
		logger = config.GetLogger()
	}
	if tracer == nil {
		tracer = defaultTracer
	}
	return &Aggregator{source: source, logger: logger, tracer: tracer}
}

type cellResult struct {
	observations []MenuItemObservation
	err          error
}

// Aggregate fetches every facility-day through a bounded pool, then merges the results on
// the calling goroutine in day, facility, meal, station order. Cancellation aborts the
// sweep with ctx.Err(); fetch failures only empty their own cell.
func (a *Aggregator) Aggregate(ctx context.Context, in AggregateInput) (AggregateResult, error) {
	if a.source == nil {
		return AggregateResult{}, errors.Join(ErrConfiguration, errors.New("no menu source configured"))
	}
	workers := in.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	offsets := make([]int, 0, in.DaysBack+in.DaysForward+1)
	for off := -in.DaysBack; off <= in.DaysForward; off++ {
		offsets = append(offsets, off)
	}

	cells := make([][]cellResult, len(offsets))
	for i := range cells {
		cells[i] = make([]cellResult, len(in.Facilities))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
schedule:
	for di, off := range offsets {
		for fi, facility := range in.Facilities {
			if gctx.Err() != nil {
				break schedule
			}
			di, fi, facility := di, fi, facility
			date := in.StartDate.AddDate(0, 0, off)
			g.Go(func() error {
				obs, err := a.fetchCell(gctx, facility, date)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				cells[di][fi] = cellResult{observations: obs, err: err}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return AggregateResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AggregateResult{}, err
	}

	return a.merge(in, offsets, cells), nil
}

func (a *Aggregator) fetchCell(ctx context.Context, facility models.FacilityRef, date time.Time) ([]MenuItemObservation, error) {
	ctx, span := a.tracer.Start(ctx, "menusync.fetchFacilityDay", trace.WithAttributes(
		attribute.String("facility", facility.Code),
		attribute.String("date", date.Format(utils.DateLayout)),
	))
	defer span.End()

	obs, err := a.source.Fetch(ctx, facility, date)
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int("observations", len(obs)))
	return obs, err
}

func (a *Aggregator) merge(in AggregateInput, offsets []int, cells [][]cellResult) AggregateResult {
	var res AggregateResult
	index := make(map[models.ItemIdentity]int)

	for di, off := range offsets {
		date := in.StartDate.AddDate(0, 0, off)
		menuDate := date.Format(utils.DateLayout)
		for fi, facility := range in.Facilities {
			cell := cells[di][fi]
			res.Stats.FacilityDays++

			if cell.err != nil {
				res.Stats.FetchErrors++
				a.logger.WithFields(logrus.Fields{
					"facility": facility.Code,
					"date":     menuDate,
				}).Warn("facility-day fetch failed; treating as empty: " + cell.err.Error())
				res.Failures = append(res.Failures, ItemFailure{
					EntityType: models.SyncEntityFacilityDay,
					EntityKey:  facility.Code + "@" + menuDate,
					Code:       "fetch_failed",
					Message:    cell.err.Error(),
					Retryable:  true,
				})
			}
			if len(cell.observations) == 0 {
				if cell.err == nil {
					res.Stats.Closed++
				}
				continue
			}
			if cell.observations[0].Source == models.SnapshotSourceHTML {
				res.Stats.FallbackUsed++
			}

			for _, obs := range cell.observations {
				obs.DayOffset = off
				obs.MenuDate = menuDate
				res.Stats.Observations++
				if in.IncludeSnapshot {
					res.Snapshot = append(res.Snapshot, obs)
				}
				if off < in.ScheduleStartOffset {
					continue
				}

				id := obs.Identity()
				slot := models.NewAppearanceSlot(date, obs.MealTime)
				if idx, ok := index[id]; ok {
					res.Items[idx].Schedule = res.Items[idx].Schedule.Add(slot)
					continue
				}
				index[id] = len(res.Items)
				res.Items = append(res.Items, DedupedItem{
					Identity:    id,
					Observation: obs,
					Schedule:    models.Schedule{slot},
				})
			}
		}
	}
	res.Stats.Identities = len(res.Items)
	return res
}
