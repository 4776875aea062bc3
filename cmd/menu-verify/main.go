package main

import (
	"bytes"
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
)

func main() {
	defaults := menusync.DefaultCompareOptions()
	start := flag.String("start", "", "Optional: first date (YYYY-MM-DD). Defaults to today in MENU_SYNC_TIMEZONE.")
	days := flag.Int("days", defaults.Days, "Number of dates to compare (1-14).")
	limit := flag.Int("limit", defaults.Limit, "Sample names kept per list (5-50).")
	facilities := flag.String("facilities", "", "Optional: comma separated facility codes or names.")
	out := flag.String("out", "", "Optional: write the report to this path (.json or .xlsx). Prints JSON when empty.")
	upload := flag.String("upload", "", "Optional: also upload the report to GCS_BUCKET as json or xlsx.")
	flag.Parse()

	opts := menusync.CompareOptions{
		Start: strings.TrimSpace(*start),
		Days:  *days,
		Limit: *limit,
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
	models.MigrateTable()

	pipeline, err := menusync.NewPipelineFromEnv(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build pipeline: %v\n", err)
		os.Exit(1)
	}
	report, err := menusync.NewVerifier(pipeline).Compare(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "compare failed: %v\n", err)
		os.Exit(1)
	}

	if *upload != "" {
		object, err := menusync.UploadCompareReport(ctx, report, *upload)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "uploaded %s\n", object)
		}
	}

	var buf bytes.Buffer
	if strings.HasSuffix(strings.ToLower(*out), ".xlsx") {
		err = menusync.WriteCompareXLSX(report, &buf)
	} else {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render report: %v\n", err)
		os.Exit(1)
	}

	if *out == "" {
		_, _ = os.Stdout.Write(buf.Bytes())
	} else if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}

	t := report.Totals
	fmt.Fprintf(os.Stderr, "cells=%d closed=%d errors=%d api=%d matched=%d missing=%d extra=%d nutrition_mismatches=%d\n",
		t.Cells, t.Closed, t.Errors, t.APICount, t.Matched, t.Missing, t.Extra, t.NutritionMismatches)
}
