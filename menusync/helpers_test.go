package menusync

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

var testStart = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:menusync_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), config.NewGormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeUpstream serves the menus API under /menus, item details under /items and the
// HTML fallback under /html.
type fakeUpstream struct {
	mu          sync.Mutex
	menus       map[string]string
	menuStatus  map[string]int
	details     map[string]string
	pages       map[string]string
	menuCalls   map[string]int
	detailCalls map[string]int
	onMenu      func(key string)
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		menus:       map[string]string{},
		menuStatus:  map[string]int{},
		details:     map[string]string{},
		pages:       map[string]string{},
		menuCalls:   map[string]int{},
		detailCalls: map[string]int{},
	}
}

func menuKey(apiName string, date time.Time) string {
	return apiName + "/" + date.Format("2006-01-02")
}

func (f *fakeUpstream) setMenu(apiName string, date time.Time, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menus[menuKey(apiName, date)] = body
}

func (f *fakeUpstream) setMenuStatus(apiName string, date time.Time, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menuStatus[menuKey(apiName, date)] = status
}

func (f *fakeUpstream) setDetail(id string, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[id] = body
}

func (f *fakeUpstream) setPage(path string, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[path] = body
}

func (f *fakeUpstream) totalDetailCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.detailCalls {
		n += c
	}
	return n
}

func (f *fakeUpstream) totalMenuCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.menuCalls {
		n += c
	}
	return n
}

func (f *fakeUpstream) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasPrefix(path, "/menus/"):
			key := strings.TrimPrefix(path, "/menus/")
			f.mu.Lock()
			f.menuCalls[key]++
			status, hasStatus := f.menuStatus[key]
			body, ok := f.menus[key]
			hook := f.onMenu
			f.mu.Unlock()
			if hook != nil {
				hook(key)
			}
			if hasStatus {
				w.WriteHeader(status)
				return
			}
			if !ok {
				body = `{"IsOpen":true,"IsPublished":true,"Meals":[]}`
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
		case strings.HasPrefix(path, "/items/"):
			id := strings.TrimPrefix(path, "/items/")
			f.mu.Lock()
			f.detailCalls[id]++
			body, ok := f.details[id]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, body)
		case strings.HasPrefix(path, "/html/"):
			f.mu.Lock()
			body, ok := f.pages[strings.TrimPrefix(path, "/html/")]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClientOptions() ClientOptions {
	return ClientOptions{Timeout: 2 * time.Second, MaxRetries: 0, RetryBaseDelay: time.Millisecond}
}

func newTestPipeline(t *testing.T, db *gorm.DB, up *fakeUpstream, withFallback bool) *Pipeline {
	t.Helper()
	srv := up.start(t)
	logger := quietLogger()
	p := &Pipeline{
		DB:       db,
		Registry: models.DefaultFacilityRegistry(),
		Primary: NewPrimarySource(PrimaryConfig{
			BaseURL:  srv.URL + "/menus",
			ItemsURL: srv.URL + "/items",
			Client:   testClientOptions(),
		}, logger),
		Logger:   logger,
		Location: time.UTC,
		Now:      func() time.Time { return testStart.Add(9 * time.Hour) },
	}
	if withFallback {
		p.Fallback = NewFallbackSource(FallbackConfig{BaseURL: srv.URL + "/html", Client: testClientOptions()})
	}
	return p
}

func testRunOptions(facilities ...string) RunOptions {
	return RunOptions{
		StartDate:       testStart.Format("2006-01-02"),
		DaysForward:     0,
		UseCache:        true,
		IncludeSnapshot: true,
		Workers:         2,
		Facilities:      facilities,
	}
}

func menuBody(meals ...apiMeal) string {
	open := true
	b, _ := json.Marshal(apiMenu{IsOpen: &open, IsPublished: &open, Meals: meals})
	return string(b)
}

func meal(name string, stations ...apiStation) apiMeal {
	return apiMeal{Name: name, Stations: stations}
}

func station(name string, items ...apiMenuItem) apiStation {
	return apiStation{Name: name, Items: items}
}

func item(id, name string, ready bool) apiMenuItem {
	return apiMenuItem{ID: id, Name: name, NutritionReady: ready}
}

func detailBody(name string, calories, protein, carbs, fats float64) string {
	return fmt.Sprintf(`{"Name":%q,"Nutrition":[
		{"Name":"Calories","Value":%v},
		{"Name":"Protein","Value":%v,"LabelValue":"%vg"},
		{"Name":"Total Carbohydrate","Value":%v},
		{"Name":"Total Fat","Value":%v}
	]}`, name, calories, protein, protein, carbs, fats)
}

func day(offset int) time.Time {
	return testStart.AddDate(0, 0, offset)
}

func loadFoods(t *testing.T, db *gorm.DB) []models.Food {
	t.Helper()
	var foods []models.Food
	if err := db.Order("id").Find(&foods).Error; err != nil {
		t.Fatalf("load foods: %v", err)
	}
	return foods
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
