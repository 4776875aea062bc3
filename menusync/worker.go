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
	"gorm.io/gorm"
)

// newPipeline is swapped in tests to point the worker at fake upstreams.
var newPipeline = NewPipelineFromEnv

// staleRunAfter bounds how long a queued or running row blocks new triggers. A process that
// died mid-run leaves its row behind.
var staleRunAfter = time.Hour

// ProcessSyncRun executes a queued MenuSyncRun and records its outcome. The run is claimed by
// moving it from queued to running; a redelivered message for a running or finished run is a no-op.
func ProcessSyncRun(ctx context.Context, payload SyncPubSubPayload) error {
	if payload.RunId == 0 {
		return errors.New("invalid payload")
	}
	if payload.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, payload.CorrelationId)
	}
	ctx = utils.SetRunIdInContext(ctx, payload.RunId)

	base := config.GetDB()
	if base == nil {
		return fmt.Errorf("%w: database is not connected", ErrConfiguration)
	}
	db := base.WithContext(ctx)
	logger := config.GetLogger().WithFields(logrus.Fields{"run_id": payload.RunId, "correlation_id": payload.CorrelationId})

	var run models.MenuSyncRun
	if err := db.Where("id = ?", payload.RunId).Take(&run).Error; err != nil {
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		logger.WithField("status", run.Status).Info("sync run already claimed; skipping")
		return nil
	}

	startedAt := time.Now()
	claim := db.Model(&models.MenuSyncRun{}).
		Where("id = ? AND status = ?", run.ID, models.SyncRunStatusQueued).
		Updates(map[string]interface{}{
			"status":     models.SyncRunStatusRunning,
			"started_at": startedAt,
		})
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		logger.Info("sync run claimed by another worker; skipping")
		return nil
	}
	run.Status = models.SyncRunStatusRunning
	run.StartedAt = &startedAt

	lock, err := acquireRunLock(ctx)
	if err != nil {
		config.LogError(logger, "menusync", "ProcessSyncRun", "obtain sync lock", syncLockKey, err)
		run.ErrorCount = 1
		recordSyncError(ctx, logger, db, run.ID, models.SyncEntityRun, "", "lock_failed", err.Error(), nil, true)
		if ferr := finishRun(db, &run, models.SyncRunStatusFailed, nil, 0, err.Error()); ferr != nil {
			config.LogError(logger, "menusync", "ProcessSyncRun", "finish sync run", run.ID, ferr)
		}
		return err
	}
	defer lock.Release()

	pipeline, err := newPipeline(base)
	if err != nil {
		config.LogError(logger, "menusync", "ProcessSyncRun", "build pipeline", nil, err)
		return finishRun(db, &run, models.SyncRunStatusFailed, nil, 0, err.Error())
	}

	opts := decodeRunOptions(run.OptionsJSON)
	result, runErr := pipeline.Run(ctx, opts)
	if runErr != nil {
		config.LogError(logger, "menusync", "ProcessSyncRun", "pipeline run", string(run.OptionsJSON), runErr)
	}

	errorCount := 0
	written := 0
	var stats *RunStats
	if result != nil {
		stats = &result.Stats
		written = result.Stats.Upsert.Written()
		for _, f := range result.Failures {
			errorCount++
			recordSyncError(ctx, logger, db, run.ID, f.EntityType, f.EntityKey, f.Code, f.Message, nil, f.Retryable)
		}
		if runErr == nil && config.MenuSnapshotArchiveEnabled() && len(result.Snapshot) > 0 {
			if _, err := ArchiveSnapshot(ctx, run.ID, result.Stats.StartDate, result.Snapshot); err != nil {
				errorCount++
				config.LogError(logger, "menusync", "ProcessSyncRun", "archive snapshot", result.Stats.StartDate, err)
				recordSyncError(ctx, logger, db, run.ID, models.SyncEntityArchive, result.Stats.StartDate, "archive_failed", err.Error(), nil, true)
			}
		}
	}

	status := models.SyncRunStatusSuccess
	message := ""
	switch {
	case runErr != nil && written == 0:
		status = models.SyncRunStatusFailed
		message = runErr.Error()
	case runErr != nil:
		status = models.SyncRunStatusPartial
		message = runErr.Error()
	case errorCount > 0 && written == 0 && result != nil && len(result.Items) > 0:
		status = models.SyncRunStatusFailed
	case errorCount > 0:
		status = models.SyncRunStatusPartial
	}
	if runErr != nil {
		errorCount++
		recordSyncError(ctx, logger, db, run.ID, models.SyncEntityRun, "", runErrorCode(runErr), runErr.Error(), nil, !errors.Is(runErr, ErrConfiguration))
	}

	run.ErrorCount = errorCount
	return finishRun(db, &run, status, stats, written, message)
}

func finishRun(db *gorm.DB, run *models.MenuSyncRun, status string, stats *RunStats, written int, message string) error {
	finishedAt := time.Now()
	var durationMs int64
	if run.StartedAt != nil {
		durationMs = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}
	updates := map[string]interface{}{
		"status":         status,
		"finished_at":    finishedAt,
		"duration_ms":    durationMs,
		"items_upserted": written,
		"error_count":    run.ErrorCount,
		"message":        message,
	}
	if stats != nil {
		updates["stats_json"] = encodeJSON(stats)
	}
	// the request context may already be cancelled; the outcome still has to land
	return db.WithContext(context.Background()).Model(run).Updates(updates).Error
}

func runErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrPersistenceConflict):
		return "persistence"
	default:
		return "run_failed"
	}
}

func createSyncError(ctx context.Context, db *gorm.DB, runId uint, entityType string, entityKey string, code string, message string, payload []byte, retryable bool) error {
	errRec := models.MenuSyncError{
		SyncRunId:   runId,
		EntityType:  entityType,
		EntityKey:   entityKey,
		ErrorCode:   code,
		Message:     message,
		PayloadJSON: payload,
		Retryable:   retryable,
	}
	return db.WithContext(context.WithoutCancel(ctx)).Create(&errRec).Error
}

// recordSyncError writes an error row; a failed write is logged rather than returned so the run
// outcome is still recorded.
func recordSyncError(ctx context.Context, logger logrus.FieldLogger, db *gorm.DB, runId uint, entityType string, entityKey string, code string, message string, payload []byte, retryable bool) {
	if err := createSyncError(ctx, db, runId, entityType, entityKey, code, message, payload, retryable); err != nil {
		config.LogError(logger, "menusync", "recordSyncError", "create sync error", entityType+":"+entityKey, err)
	}
}

// activeRun returns the newest queued or running run that is not stale, or nil.
func activeRun(db *gorm.DB) (*models.MenuSyncRun, error) {
	var run models.MenuSyncRun
	err := db.Where("status IN ? AND created_at > ?",
		[]string{models.SyncRunStatusQueued, models.SyncRunStatusRunning},
		time.Now().Add(-staleRunAfter)).
		Order("id desc").
		Take(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
