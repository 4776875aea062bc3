package menusync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/boilerfuel/menu_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TriggerSyncHandler queues a run. The body is optional; omitted fields keep DefaultRunOptions.
func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := DefaultRunOptions()
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&opts); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if err := utils.Validator().Struct(opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		if _, err := models.DefaultFacilityRegistry().Select(opts.Facilities); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		run, status, err := queueRun(c, opts, models.SyncTriggeredManual, nil)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": run.ID})
	}
}

func SyncStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB().WithContext(c.Request.Context())

		active, err := activeRun(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := SyncStatusResponse{IsRunning: active != nil}

		var last models.MenuSyncRun
		err = db.Order("id desc").Take(&last).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		default:
			mapped := mapRunToResponse(last)
			resp.LastRun = &mapped
		}
		c.JSON(http.StatusOK, resp)
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var runs []models.MenuSyncRun
		if err := db.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRunParam(c)
		if !ok {
			return
		}

		var errs []models.MenuSyncError
		db := config.GetDB().WithContext(c.Request.Context())
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Errors:          mapErrors(errs),
		})
	}
}

// RetrySyncRunHandler queues a new run with the options of an earlier one.
func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := loadRunParam(c)
		if !ok {
			return
		}
		if !run.IsFinished() {
			c.JSON(http.StatusConflict, gin.H{"error": "run has not finished"})
			return
		}

		newRun, status, err := queueRun(c, decodeRunOptions(run.OptionsJSON), models.SyncTriggeredRetry, &run.ID)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": newRun.ID})
	}
}

// CompareHandler runs the coverage report. ?format=xlsx downloads a workbook instead of JSON;
// ?upload=true also stores it in the report bucket.
func CompareHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := DefaultCompareOptions()
		opts.Start = strings.TrimSpace(c.Query("start"))
		if v := strings.TrimSpace(c.Query("days")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
				return
			}
			opts.Days = n
		}
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			opts.Limit = n
		}
		if v := strings.TrimSpace(c.Query("facilities")); v != "" {
			opts.Facilities = utils.UniqueSlice(strings.Split(v, ","))
		}
		if err := utils.Validator().Struct(opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}

		pipeline, err := newPipeline(config.GetDB())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		report, err := NewVerifier(pipeline).Compare(c.Request.Context(), opts)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrConfiguration) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		format := strings.ToLower(strings.TrimSpace(c.Query("format")))
		if upload, _ := strconv.ParseBool(c.Query("upload")); upload {
			if _, err := UploadCompareReport(c.Request.Context(), report, format); err != nil {
				config.LogError(config.GetLogger(), "menusync", "CompareHandler", "upload compare report", report.Start, err)
			}
		}

		if format == "xlsx" {
			c.Header("Content-Type", xlsxContentType)
			c.Header("Content-Disposition", "attachment; filename="+CompareReportFilename(report)+".xlsx")
			if err := WriteCompareXLSX(report, c.Writer); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
			}
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// queueRun refuses with 409 while another run is queued or running, then creates the run row
// and dispatches it.
func queueRun(c *gin.Context, opts RunOptions, triggeredBy string, parent *uint) (*models.MenuSyncRun, int, error) {
	ctx := c.Request.Context()
	base := config.GetDB()
	if base == nil {
		return nil, http.StatusServiceUnavailable, errors.New("database is not connected")
	}
	db := base.WithContext(ctx)

	active, err := activeRun(db)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	if active != nil {
		return nil, http.StatusConflict, ErrRunInProgress
	}
	held, err := runLockHeld(ctx)
	if err != nil {
		config.LogError(config.GetLogger(), "menusync", "queueRun", "check sync lock", syncLockKey, err)
	}
	if held {
		return nil, http.StatusConflict, ErrRunInProgress
	}

	username, _ := utils.GetUsernameFromContext(ctx)
	run := models.MenuSyncRun{
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: triggeredBy,
		RequestedBy: username,
		OptionsJSON: encodeJSON(opts),
		ParentRunId: parent,
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, http.StatusInternalServerError, err
	}

	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	dispatchRun(ctx, run.ID, cid)
	return &run, http.StatusAccepted, nil
}

func loadRunParam(c *gin.Context) (*models.MenuSyncRun, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}

	var run models.MenuSyncRun
	db := config.GetDB().WithContext(c.Request.Context())
	if err := db.Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return &run, true
}

func mapRunToResponse(run models.MenuSyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		ItemsUpserted: run.ItemsUpserted,
		ErrorCount:    run.ErrorCount,
		Message:       run.Message,
		ParentRunId:   run.ParentRunId,
	}
	if len(run.OptionsJSON) > 0 {
		resp.Options = run.OptionsJSON
	}
	if len(run.StatsJSON) > 0 {
		resp.Stats = run.StatsJSON
	}
	return resp
}

func mapErrors(errorsList []models.MenuSyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			EntityType: errItem.EntityType,
			EntityKey:  errItem.EntityKey,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}
