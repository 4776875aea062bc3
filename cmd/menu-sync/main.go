package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/menusync"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/google/uuid"
)

func main() {
	defaults := menusync.DefaultRunOptions()
	start := flag.String("start", "", "Optional: start date (YYYY-MM-DD). Defaults to today in MENU_SYNC_TIMEZONE.")
	daysBack := flag.Int("days-back", defaults.DaysBack, "Days before start to fetch (snapshots only unless -schedule-offset reaches them).")
	daysForward := flag.Int("days-forward", defaults.DaysForward, "Days after start to fetch.")
	scheduleOffset := flag.Int("schedule-offset", 0, "Offset from start of the first day that counts toward next_available.")
	noCache := flag.Bool("no-cache", false, "Do not seed nutrition from the stored catalog.")
	snapshot := flag.Bool("snapshot", defaults.IncludeSnapshot, "Record per-date menu snapshots.")
	workers := flag.Int("workers", 0, "Concurrent facility-day fetches (default 4).")
	facilities := flag.String("facilities", strings.Join(config.MenuSyncFacilities(), ","), "Optional: comma separated facility codes or names.")
	dryRun := flag.Bool("dry-run", false, "Fetch and aggregate only; print the result without writing.")
	flag.Parse()

	opts := menusync.RunOptions{
		StartDate:           strings.TrimSpace(*start),
		DaysBack:            *daysBack,
		DaysForward:         *daysForward,
		UseCache:            !*noCache,
		IncludeSnapshot:     *snapshot,
		ScheduleStartOffset: *scheduleOffset,
		Workers:             *workers,
		DryRun:              *dryRun,
	}
	for _, f := range strings.Split(*facilities, ",") {
		if f = strings.TrimSpace(f); f != "" {
			opts.Facilities = append(opts.Facilities, f)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	}
	models.MigrateTable()

	if opts.DryRun {
		pipeline, err := menusync.NewPipelineFromEnv(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build pipeline: %v\n", err)
			os.Exit(1)
		}
		result, err := pipeline.Run(ctx, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dry run failed: %v\n", err)
			os.Exit(1)
		}
		printJSON(struct {
			Stats    menusync.RunStats      `json:"stats"`
			Items    int                    `json:"items"`
			Failures []menusync.ItemFailure `json:"failures,omitempty"`
		}{result.Stats, len(result.Items), result.Failures})
		return
	}

	optionsJSON, _ := json.Marshal(opts)
	run := models.MenuSyncRun{
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredSchedule,
		RequestedBy: "menu-sync-cli",
		OptionsJSON: optionsJSON,
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to create sync run: %v\n", err)
		os.Exit(1)
	}

	payload := menusync.SyncPubSubPayload{RunId: run.ID, CorrelationId: uuid.NewString()}
	if err := menusync.ProcessSyncRun(ctx, payload); err != nil {
		fmt.Fprintf(os.Stderr, "sync run %d failed: %v\n", run.ID, err)
	}

	if err := db.Where("id = ?", run.ID).Take(&run).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to reload sync run %d: %v\n", run.ID, err)
		os.Exit(1)
	}
	fmt.Printf("run %d: status=%s items_upserted=%d errors=%d duration_ms=%d\n",
		run.ID, run.Status, run.ItemsUpserted, run.ErrorCount, run.DurationMs)
	if len(run.StatsJSON) > 0 {
		fmt.Println(string(run.StatsJSON))
	}
	if run.Status == models.SyncRunStatusFailed {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
