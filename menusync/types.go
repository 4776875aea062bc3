package menusync

import (
	"encoding/json"
	"time"

	"github.com/boilerfuel/menu_backend/config"
	"github.com/boilerfuel/menu_backend/models"
)

// MenuItemObservation is one sighting of an item on one facility-day. Never persisted as-is.
type MenuItemObservation struct {
	Name           string             `json:"name"`
	ItemID         string             `json:"item_id,omitempty"`
	Nutrition      models.Nutrition   `json:"nutrition"`
	NutritionReady bool               `json:"nutrition_ready"`
	Facility       models.FacilityRef `json:"facility"`
	Station        string             `json:"station"`
	MealTime       string             `json:"meal_time"`
	MenuDate       string             `json:"menu_date"`
	DayOffset      int                `json:"day_offset"`
	Source         string             `json:"source"`
}

func (o MenuItemObservation) Identity() models.ItemIdentity {
	return models.NewItemIdentity(o.Name, o.Facility.DisplayName, o.MealTime, o.Station)
}

// DedupedItem is the representative observation of an identity plus every slot seen for it.
type DedupedItem struct {
	Identity    models.ItemIdentity `json:"-"`
	Observation MenuItemObservation `json:"observation"`
	Schedule    models.Schedule     `json:"schedule"`
}

// RunOptions parameterizes a pipeline run. StartDate defaults to today in the menu timezone.
type RunOptions struct {
	StartDate           string   `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	DaysBack            int      `json:"days_back" validate:"min=0,max=14"`
	DaysForward         int      `json:"days_forward" validate:"min=0,max=14"`
	UseCache            bool     `json:"use_cache"`
	IncludeSnapshot     bool     `json:"include_snapshot"`
	ScheduleStartOffset int      `json:"schedule_start_offset" validate:"min=-14,max=14"`
	Workers             int      `json:"workers" validate:"omitempty,min=1,max=16"`
	Facilities          []string `json:"facilities,omitempty"`
	DryRun              bool     `json:"dry_run,omitempty"`
}

// DefaultRunOptions mirrors the scheduled sync: today plus six days, cache on, snapshots on.
// MENU_SYNC_DAYS_BACK, MENU_SYNC_DAYS_FORWARD, MENU_SYNC_WORKERS and MENU_SYNC_FACILITIES override.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		DaysBack:        config.IntFromEnv("MENU_SYNC_DAYS_BACK", 0),
		DaysForward:     config.IntFromEnv("MENU_SYNC_DAYS_FORWARD", 6),
		UseCache:        true,
		IncludeSnapshot: true,
		Workers:         config.IntFromEnv("MENU_SYNC_WORKERS", 0),
		Facilities:      config.MenuSyncFacilities(),
	}
}

type FetchStats struct {
	FacilityDays   int `json:"facility_days"`
	Closed         int `json:"closed"`
	FallbackUsed   int `json:"fallback_used"`
	FetchErrors    int `json:"fetch_errors"`
	Observations   int `json:"observations"`
	Identities     int `json:"identities"`
	CacheHits      int `json:"cache_hits"`
	CacheMisses    int `json:"cache_misses"`
	DetailRequests int `json:"detail_requests"`
}

type UpsertSummary struct {
	Inserted           int `json:"inserted"`
	Updated            int `json:"updated"`
	NutritionPreserved int `json:"nutrition_preserved"`
	Skipped            int `json:"skipped"`
	Failed             int `json:"failed"`
}

func (s UpsertSummary) Written() int {
	return s.Inserted + s.Updated
}

type RunStats struct {
	StartDate         string        `json:"start_date"`
	Fetch             FetchStats    `json:"fetch"`
	Upsert            UpsertSummary `json:"upsert"`
	SnapshotsRecorded int           `json:"snapshots_recorded"`
	DurationMs        int64         `json:"duration_ms"`
}

// RunResult is everything a run produced. Runs keep no state outside of it.
type RunResult struct {
	Items    []DedupedItem         `json:"items"`
	Snapshot []MenuItemObservation `json:"snapshot,omitempty"`
	Stats    RunStats              `json:"stats"`
	Failures []ItemFailure         `json:"failures,omitempty"`
}

// ItemFailure records one non-fatal problem (fetch or persistence) for run bookkeeping.
type ItemFailure struct {
	EntityType string `json:"entity_type"`
	EntityKey  string `json:"entity_key"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

func encodeJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func decodeRunOptions(raw []byte) RunOptions {
	opts := DefaultRunOptions()
	if len(raw) == 0 {
		return opts
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return DefaultRunOptions()
	}
	return opts
}

// Handler payloads.

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncStatusResponse struct {
	IsRunning bool             `json:"is_running"`
	LastRun   *SyncRunResponse `json:"last_run"`
}

type SyncRunResponse struct {
	ID            uint            `json:"id"`
	Status        string          `json:"status"`
	TriggeredBy   string          `json:"triggered_by"`
	StartedAt     *string         `json:"started_at"`
	FinishedAt    *string         `json:"finished_at"`
	DurationMs    int64           `json:"duration_ms"`
	ItemsUpserted int             `json:"items_upserted"`
	ErrorCount    int             `json:"error_count"`
	Message       string          `json:"message,omitempty"`
	Options       json.RawMessage `json:"options,omitempty"`
	Stats         json.RawMessage `json:"stats,omitempty"`
	ParentRunId   *uint           `json:"parent_run_id,omitempty"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entity_type"`
	EntityKey  string `json:"entity_key"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId         uint   `json:"run_id"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
