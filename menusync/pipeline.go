package menusync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const defaultTimezone = "America/Indiana/Indianapolis"

var defaultTracer = otel.Tracer("menusync")

// Pipeline wires the sources, aggregator and writers. It holds no per-run state;
// everything a run produces is in its RunResult.
type Pipeline struct {
	DB       *gorm.DB
	Registry *models.FacilityRegistry
	Primary  *PrimarySource
	Fallback MenuSource
	Logger   logrus.FieldLogger
	Tracer   trace.Tracer
	Location *time.Location
	Now      func() time.Time
}

// NewPipelineFromEnv builds the production pipeline on db.
func NewPipelineFromEnv(db *gorm.DB) (*Pipeline, error) {
	tz := config.EnvString("MENU_SYNC_TIMEZONE", defaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: MENU_SYNC_TIMEZONE %q: %v", ErrConfiguration, tz, err)
	}
	logger := config.GetLogger()

	p := &Pipeline{
		DB:       db,
		Registry: models.DefaultFacilityRegistry(),
		Primary:  NewPrimarySource(PrimaryConfigFromEnv(), logger).WithDetailCache(NewRedisDetailCache()),
		Logger:   logger,
		Location: loc,
	}
	if config.MenuFallbackEnabled() {
		p.Fallback = NewFallbackSource(FallbackConfigFromEnv())
	}
	return p, nil
}

func (p *Pipeline) validate() error {
	switch {
	case p.DB == nil:
		return fmt.Errorf("%w: no catalog database configured", ErrConfiguration)
	case p.Registry == nil:
		return fmt.Errorf("%w: no facility registry configured", ErrConfiguration)
	case p.Primary == nil:
		return fmt.Errorf("%w: no primary menu source configured", ErrConfiguration)
	}
	return nil
}

func (p *Pipeline) logger() logrus.FieldLogger {
	if p.Logger != nil {
		return p.Logger
	}
	return config.GetLogger()
}

func (p *Pipeline) tracer() trace.Tracer {
	if p.Tracer != nil {
		return p.Tracer
	}
	return defaultTracer
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// StartDate resolves opts.StartDate (YYYY-MM-DD) or today, at midnight in the menu timezone.
func (p *Pipeline) StartDate(raw string) (time.Time, error) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	if raw != "" {
		t, err := time.ParseInLocation(utils.DateLayout, raw, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: start date %q: %v", ErrConfiguration, raw, err)
		}
		return t, nil
	}
	return utils.ConvertToDate(p.now(), loc.String())
}

// Run sweeps [start-DaysBack, start+DaysForward], upserts the deduplicated items and,
// with IncludeSnapshot, records the raw observations. Configuration problems fail before
// any fetch. Per facility-day and per item failures are collected in RunResult.Failures.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	startedAt := p.now()
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := utils.Validator().Struct(opts); err != nil {
		return nil, fmt.Errorf("%w: invalid run options: %v", ErrConfiguration, err)
	}
	facilities, err := p.Registry.Select(opts.Facilities)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	start, err := p.StartDate(opts.StartDate)
	if err != nil {
		return nil, err
	}

	logger := p.logger()
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		logger = logger.WithField("correlation_id", cid)
	}
	if runID, ok := utils.GetRunIdFromContext(ctx); ok {
		logger = logger.WithField("run_id", runID)
	}

	ctx, span := p.tracer().Start(ctx, "menusync.Run", trace.WithAttributes(
		attribute.String("start_date", start.Format(utils.DateLayout)),
		attribute.Int("days_back", opts.DaysBack),
		attribute.Int("days_forward", opts.DaysForward),
		attribute.Int("facilities", len(facilities)),
	))
	defer span.End()

	cache := EmptyNutritionCache()
	if opts.UseCache {
		loaded, err := LoadNutritionCache(ctx, p.DB, p.Registry)
		if err != nil {
			config.LogError(logger, "menusync", "Run", "load nutrition cache; continuing without it", nil, err)
		} else {
			cache = loaded
		}
	}

	primary := p.Primary.ForRun(cache)
	agg := NewAggregator(NewChainSource(primary, p.Fallback), logger, p.tracer())
	aggregated, err := agg.Aggregate(ctx, AggregateInput{
		StartDate:           start,
		DaysBack:            opts.DaysBack,
		DaysForward:         opts.DaysForward,
		ScheduleStartOffset: opts.ScheduleStartOffset,
		Facilities:          facilities,
		Workers:             opts.Workers,
		IncludeSnapshot:     opts.IncludeSnapshot,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	result := &RunResult{
		Items:    aggregated.Items,
		Snapshot: aggregated.Snapshot,
		Failures: aggregated.Failures,
		Stats: RunStats{
			StartDate: start.Format(utils.DateLayout),
			Fetch:     aggregated.Stats,
		},
	}
	result.Stats.Fetch.CacheHits = cache.Hits()
	result.Stats.Fetch.CacheMisses = cache.Misses()
	result.Stats.Fetch.DetailRequests = primary.DetailRequests()

	if opts.DryRun {
		result.Stats.DurationMs = p.now().Sub(startedAt).Milliseconds()
		return result, nil
	}

	summary, failures, upsertErr := NewUpsertEngine(p.DB, p.Registry, logger).UpsertAll(ctx, result.Items)
	result.Stats.Upsert = summary
	result.Failures = append(result.Failures, failures...)
	if upsertErr != nil {
		result.Stats.DurationMs = p.now().Sub(startedAt).Milliseconds()
		span.RecordError(upsertErr)
		return result, upsertErr
	}

	if opts.IncludeSnapshot && len(result.Snapshot) > 0 {
		n, err := NewSnapshotRecorder(p.DB).Record(ctx, result.Snapshot)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			config.LogError(logger, "menusync", "Run", "record snapshots", len(result.Snapshot), err)
			result.Failures = append(result.Failures, ItemFailure{
				EntityType: models.SyncEntitySnapshot,
				EntityKey:  result.Stats.StartDate,
				Code:       "snapshot_failed",
				Message:    err.Error(),
				Retryable:  true,
			})
		} else {
			result.Stats.SnapshotsRecorded = n
		}
	}

	result.Stats.DurationMs = p.now().Sub(startedAt).Milliseconds()
	logger.WithFields(logrus.Fields{
		"start_date":   result.Stats.StartDate,
		"identities":   result.Stats.Fetch.Identities,
		"inserted":     summary.Inserted,
		"updated":      summary.Updated,
		"failed":       summary.Failed,
		"fetch_errors": result.Stats.Fetch.FetchErrors,
	}).Info("menu sync run finished")
	return result, nil
}
