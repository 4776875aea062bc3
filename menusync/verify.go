package menusync

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	CompareStatusOK     = "ok"
	CompareStatusClosed = "closed"
	CompareStatusError  = "error"

	compareAgainstCatalog  = "catalog"
	compareAgainstSnapshot = "snapshot"

	nutritionEpsilon = 0.1
)

type CompareOptions struct {
	Start      string   `json:"start" validate:"omitempty,datetime=2006-01-02"`
	Days       int      `json:"days" validate:"min=1,max=14"`
	Limit      int      `json:"limit" validate:"min=5,max=50"`
	Facilities []string `json:"facilities,omitempty"`
}

func DefaultCompareOptions() CompareOptions {
	return CompareOptions{Days: 1, Limit: 20}
}

// CompareCell is the coverage of one facility on one date.
type CompareCell struct {
	Date                string   `json:"date"`
	Facility            string   `json:"facility"`
	FacilityCode        string   `json:"facility_code"`
	Against             string   `json:"against"`
	Status              string   `json:"status"`
	Error               string   `json:"error,omitempty"`
	APICount            int      `json:"api_count"`
	StoredCount         int      `json:"stored_count"`
	Matched             int      `json:"matched"`
	Missing             int      `json:"missing"`
	Extra               int      `json:"extra"`
	NutritionMismatches int      `json:"nutrition_mismatches"`
	MissingSamples      []string `json:"missing_samples,omitempty"`
	ExtraSamples        []string `json:"extra_samples,omitempty"`
	MismatchSamples     []string `json:"mismatch_samples,omitempty"`
}

type CompareTotals struct {
	Cells               int `json:"cells"`
	Closed              int `json:"closed"`
	Errors              int `json:"errors"`
	APICount            int `json:"api_count"`
	Matched             int `json:"matched"`
	Missing             int `json:"missing"`
	Extra               int `json:"extra"`
	NutritionMismatches int `json:"nutrition_mismatches"`
}

type CompareReport struct {
	Start       string        `json:"start"`
	Days        int           `json:"days"`
	GeneratedAt time.Time     `json:"generated_at"`
	Cells       []CompareCell `json:"cells"`
	Totals      CompareTotals `json:"totals"`
}

// Verifier reports how well the stored catalog covers what the upstream API publishes.
type Verifier struct {
	pipeline *Pipeline
	Workers  int
}

func NewVerifier(p *Pipeline) *Verifier {
	return &Verifier{pipeline: p, Workers: defaultWorkers}
}

type compareEntry struct {
	name      string
	nutrition models.Nutrition
	bearing   bool
}

// Compare checks each date x facility. Today and later are compared against the catalog
// schedule; earlier dates against recorded snapshots.
func (v *Verifier) Compare(ctx context.Context, opts CompareOptions) (*CompareReport, error) {
	p := v.pipeline
	if p == nil {
		return nil, fmt.Errorf("%w: verifier has no pipeline", ErrConfiguration)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := utils.Validator().Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: invalid compare options: %v", ErrConfiguration, err)
	}
	facilities, err := p.Registry.Select(opts.Facilities)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	start, err := p.StartDate(opts.Start)
	if err != nil {
		return nil, err
	}
	today, err := p.StartDate("")
	if err != nil {
		return nil, err
	}

	ctx, span := p.tracer().Start(ctx, "menusync.Compare")
	defer span.End()

	source := p.Primary.ForRun(EmptyNutritionCache())
	cells := make([]CompareCell, opts.Days*len(facilities))

	g, gctx := errgroup.WithContext(ctx)
	workers := v.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	g.SetLimit(workers)
	for d := 0; d < opts.Days; d++ {
		date := start.AddDate(0, 0, d)
		for f, facility := range facilities {
			idx := d*len(facilities) + f
			facility := facility
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				cells[idx] = v.compareCell(gctx, source, facility, date, !date.Before(today), opts.Limit)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &CompareReport{
		Start:       start.Format(utils.DateLayout),
		Days:        opts.Days,
		GeneratedAt: p.now().UTC(),
		Cells:       cells,
	}
	for _, c := range cells {
		report.Totals.Cells++
		switch c.Status {
		case CompareStatusClosed:
			report.Totals.Closed++
		case CompareStatusError:
			report.Totals.Errors++
		}
		report.Totals.APICount += c.APICount
		report.Totals.Matched += c.Matched
		report.Totals.Missing += c.Missing
		report.Totals.Extra += c.Extra
		report.Totals.NutritionMismatches += c.NutritionMismatches
	}
	return report, nil
}

func (v *Verifier) compareCell(ctx context.Context, source MenuSource, facility models.FacilityRef, date time.Time, upcoming bool, limit int) CompareCell {
	menuDate := date.Format(utils.DateLayout)
	cell := CompareCell{
		Date:         menuDate,
		Facility:     facility.DisplayName,
		FacilityCode: facility.Code,
		Against:      compareAgainstSnapshot,
	}
	if upcoming {
		cell.Against = compareAgainstCatalog
	}

	observations, err := source.Fetch(ctx, facility, date)
	if err != nil {
		cell.Status = CompareStatusError
		cell.Error = err.Error()
		return cell
	}
	if len(observations) == 0 {
		cell.Status = CompareStatusClosed
	}

	api := map[string]compareEntry{}
	for _, o := range observations {
		key := compareKey(o.Name, o.MealTime, o.Station)
		if _, ok := api[key]; ok {
			continue
		}
		api[key] = compareEntry{name: o.Name, nutrition: o.Nutrition, bearing: o.NutritionReady && !o.Nutrition.IsZero()}
	}

	var stored map[string]compareEntry
	if upcoming {
		stored, err = storedCatalog(ctx, v.pipeline.DB, facility, menuDate)
	} else {
		stored, err = storedSnapshots(ctx, v.pipeline.DB, facility, menuDate)
	}
	if err != nil {
		cell.Status = CompareStatusError
		cell.Error = err.Error()
		return cell
	}
	if cell.Status == "" {
		cell.Status = CompareStatusOK
	}

	cell.APICount = len(api)
	cell.StoredCount = len(stored)
	for _, key := range sortedKeys(api) {
		a := api[key]
		s, ok := stored[key]
		if !ok {
			cell.Missing++
			cell.MissingSamples = appendSample(cell.MissingSamples, a.name, limit)
			continue
		}
		cell.Matched++
		if a.bearing && s.bearing && a.nutrition.Differs(s.nutrition, nutritionEpsilon) {
			cell.NutritionMismatches++
			cell.MismatchSamples = appendSample(cell.MismatchSamples, a.name, limit)
		}
	}
	for _, key := range sortedKeys(stored) {
		if _, ok := api[key]; !ok {
			cell.Extra++
			cell.ExtraSamples = appendSample(cell.ExtraSamples, stored[key].name, limit)
		}
	}
	return cell
}

func compareKey(name, meal, station string) string {
	return models.NormalizeText(name) + "|" + models.NormalizeText(meal) + "|" + models.NormalizeText(station)
}

func storedCatalog(ctx context.Context, db *gorm.DB, facility models.FacilityRef, menuDate string) (map[string]compareEntry, error) {
	var foods []models.Food
	if err := db.WithContext(ctx).
		Where("dining_court IN ?", facility.Aliases()).
		Find(&foods).Error; err != nil {
		return nil, err
	}
	out := map[string]compareEntry{}
	for _, f := range foods {
		if !f.NextAvailable.Contains(menuDate) {
			continue
		}
		n := f.Nutrition()
		out[compareKey(f.Name, f.MealTime, f.Station)] = compareEntry{name: f.Name, nutrition: n, bearing: !n.IsZero()}
	}
	return out, nil
}

func storedSnapshots(ctx context.Context, db *gorm.DB, facility models.FacilityRef, menuDate string) (map[string]compareEntry, error) {
	var rows []models.MenuSnapshot
	if err := db.WithContext(ctx).
		Where("menu_date = ? AND dining_court IN ?", menuDate, facility.Aliases()).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]compareEntry{}
	for _, r := range rows {
		n := r.Nutrition()
		out[compareKey(r.Name, r.MealTime, r.Station)] = compareEntry{name: r.Name, nutrition: n, bearing: !n.IsZero()}
	}
	return out, nil
}

func sortedKeys(m map[string]compareEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendSample(samples []string, name string, limit int) []string {
	if len(samples) >= limit {
		return samples
	}
	return append(samples, name)
}
