package menusync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

// useWorkerEnv installs db as the global connection and points the worker at up.
func useWorkerEnv(t *testing.T, db *gorm.DB, up *fakeUpstream) {
	t.Helper()
	prevDB := config.GetDB()
	prevPipeline := newPipeline
	config.UseDB(db)
	p := newTestPipeline(t, db, up, false)
	newPipeline = func(*gorm.DB) (*Pipeline, error) { return p, nil }
	t.Cleanup(func() {
		config.UseDB(prevDB)
		newPipeline = prevPipeline
	})
}

func queuedRun(t *testing.T, db *gorm.DB, opts RunOptions) models.MenuSyncRun {
	t.Helper()
	run := models.MenuSyncRun{
		Status:      models.SyncRunStatusQueued,
		TriggeredBy: models.SyncTriggeredManual,
		OptionsJSON: encodeJSON(opts),
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run
}

func reloadRun(t *testing.T, db *gorm.DB, id uint) models.MenuSyncRun {
	t.Helper()
	var run models.MenuSyncRun
	if err := db.Where("id = ?", id).Take(&run).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	return run
}

func TestProcessSyncRun_Success(t *testing.T) {
	db := newTestDB(t)
	up := newFakeUpstream()
	up.setMenu("Ford", day(0), menuBody(meal("Lunch", station("Grill", item("gc-1", "Grilled Chicken", true)))))
	up.setDetail("gc-1", detailBody("Grilled Chicken", 250, 30, 2, 12))
	useWorkerEnv(t, db, up)

	run := queuedRun(t, db, testRunOptions("Ford"))
	if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID, CorrelationId: "cid-1"}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}

	got := reloadRun(t, db, run.ID)
	if got.Status != models.SyncRunStatusSuccess || got.ItemsUpserted != 1 || got.ErrorCount != 0 {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Fatalf("run timestamps not recorded: %+v", got)
	}
	var stats RunStats
	if err := json.Unmarshal(got.StatsJSON, &stats); err != nil {
		t.Fatalf("stats_json: %v", err)
	}
	if stats.Upsert.Inserted != 1 || stats.SnapshotsRecorded != 1 || stats.StartDate != "2026-03-02" {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestProcessSyncRun_PartialRecordsFetchErrors(t *testing.T) {
	db := newTestDB(t)
	up := newFakeUpstream()
	up.setMenuStatus("Ford", day(0), http.StatusInternalServerError)
	up.setMenu("Wiley", day(0), menuBody(meal("Dinner", station("Pasta", item("", "Penne", false)))))
	useWorkerEnv(t, db, up)

	run := queuedRun(t, db, testRunOptions("Ford", "Wiley"))
	if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}

	got := reloadRun(t, db, run.ID)
	if got.Status != models.SyncRunStatusPartial || got.ItemsUpserted != 1 || got.ErrorCount != 1 {
		t.Fatalf("unexpected run %+v", got)
	}
	var errs []models.MenuSyncError
	db.Where("sync_run_id = ?", run.ID).Find(&errs)
	if len(errs) != 1 || errs[0].ErrorCode != "fetch_failed" || errs[0].EntityKey != "FORD@2026-03-02" || !errs[0].Retryable {
		t.Fatalf("unexpected sync errors %+v", errs)
	}
}

func TestProcessSyncRun_ConfigurationErrorFailsRun(t *testing.T) {
	db := newTestDB(t)
	useWorkerEnv(t, db, newFakeUpstream())

	run := queuedRun(t, db, testRunOptions("Nowhere Hall"))
	if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}

	got := reloadRun(t, db, run.ID)
	if got.Status != models.SyncRunStatusFailed || !strings.Contains(got.Message, "Nowhere Hall") {
		t.Fatalf("unexpected run %+v", got)
	}
	var errRec models.MenuSyncError
	if err := db.Where("sync_run_id = ?", run.ID).Take(&errRec).Error; err != nil {
		t.Fatalf("expected a run-level error row: %v", err)
	}
	if errRec.ErrorCode != "configuration" || errRec.EntityType != models.SyncEntityRun || errRec.Retryable {
		t.Fatalf("unexpected error row %+v", errRec)
	}
}

func TestProcessSyncRun_FinishedRunIsIgnored(t *testing.T) {
	db := newTestDB(t)
	up := newFakeUpstream()
	useWorkerEnv(t, db, up)

	run := queuedRun(t, db, testRunOptions("Ford"))
	db.Model(&run).Update("status", models.SyncRunStatusSuccess)

	if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}
	if up.totalMenuCalls() != 0 {
		t.Fatalf("redelivered run must not fetch, got %d calls", up.totalMenuCalls())
	}
}

func TestPubSubPushHandler_ProcessesRunAndAcks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	up := newFakeUpstream()
	up.setMenu("Ford", day(0), menuBody(meal("Breakfast", station("Bakery", item("", "Bagel", false)))))
	useWorkerEnv(t, db, up)
	run := queuedRun(t, db, testRunOptions("Ford"))

	data, _ := json.Marshal(SyncPubSubPayload{RunId: run.ID})
	var envelope PubSubPushEnvelope
	envelope.Message.Data = data
	envelope.Message.ID = "m-1"
	body, _ := json.Marshal(envelope)

	r := gin.New()
	r.POST("/pubsub/menu-sync", PubSubPushHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/menu-sync", strings.NewReader(string(body))))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if got := reloadRun(t, db, run.ID); got.Status != models.SyncRunStatusSuccess {
		t.Fatalf("expected run to be processed, got %+v", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/menu-sync", strings.NewReader("not json")))
	if w.Code != http.StatusNoContent {
		t.Fatalf("malformed push must still ack, got %d", w.Code)
	}
}

func TestProcessSyncRun_RedeliveredRunningRunIsIgnored(t *testing.T) {
	db := newTestDB(t)
	up := newFakeUpstream()
	up.setMenu("Ford", day(0), menuBody(meal("Lunch", station("Grill", item("", "Burger", false)))))
	useWorkerEnv(t, db, up)

	run := queuedRun(t, db, testRunOptions("Ford"))
	db.Model(&run).Update("status", models.SyncRunStatusRunning)

	if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}
	if up.totalMenuCalls() != 0 {
		t.Fatalf("in-flight run must not be executed again, got %d menu calls", up.totalMenuCalls())
	}
	got := reloadRun(t, db, run.ID)
	if got.Status != models.SyncRunStatusRunning || got.FinishedAt != nil {
		t.Fatalf("in-flight run must be left alone, got %+v", got)
	}
	if n := countRows(t, db, &models.MenuSyncError{}); n != 0 {
		t.Fatalf("expected no error rows, got %d", n)
	}
}

func TestProcessSyncRun_LockFailureFailsClaimedRun(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{name: "held by another run", err: ErrRunInProgress},
		{name: "redis unavailable", err: errors.New("dial tcp: connection refused")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			up := newFakeUpstream()
			useWorkerEnv(t, db, up)

			prev := acquireRunLock
			acquireRunLock = func(context.Context) (*runLock, error) { return nil, tc.err }
			t.Cleanup(func() { acquireRunLock = prev })

			run := queuedRun(t, db, testRunOptions("Ford"))
			err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID})
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if up.totalMenuCalls() != 0 {
				t.Fatalf("no fetch without the lock, got %d", up.totalMenuCalls())
			}
			got := reloadRun(t, db, run.ID)
			if got.Status != models.SyncRunStatusFailed || got.FinishedAt == nil || got.ErrorCount != 1 {
				t.Fatalf("claimed run should be failed, got %+v", got)
			}
			var errRec models.MenuSyncError
			if err := db.Where("sync_run_id = ?", run.ID).Take(&errRec).Error; err != nil {
				t.Fatalf("expected lock error row: %v", err)
			}
			if errRec.ErrorCode != "lock_failed" || errRec.EntityType != models.SyncEntityRun {
				t.Fatalf("unexpected error row %+v", errRec)
			}
		})
	}
}

func TestProcessSyncRun_LogsLostErrorRows(t *testing.T) {
	db := newTestDB(t)
	up := newFakeUpstream()
	up.setMenuStatus("Ford", day(0), http.StatusInternalServerError)
	up.setMenu("Wiley", day(0), menuBody(meal("Dinner", station("Pasta", item("", "Penne", false)))))
	useWorkerEnv(t, db, up)

	hook := logtest.NewLocal(config.GetLogger())
	t.Cleanup(func() { config.GetLogger().ReplaceHooks(make(logrus.LevelHooks)) })

	run := queuedRun(t, db, testRunOptions("Ford", "Wiley"))
	if err := db.Migrator().DropTable(&models.MenuSyncError{}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := ProcessSyncRun(context.Background(), SyncPubSubPayload{RunId: run.ID}); err != nil {
		t.Fatalf("ProcessSyncRun: %v", err)
	}

	if got := reloadRun(t, db, run.ID); got.Status != models.SyncRunStatusPartial {
		t.Fatalf("outcome must be recorded even when error rows are lost, got %+v", got)
	}
	logged := false
	for _, e := range hook.AllEntries() {
		if e.Data["funcName"] == "recordSyncError" {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("expected the failed error-row write to be logged")
	}
}
