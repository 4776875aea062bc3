package models

import "time"

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredRetry    = "retry"
	SyncTriggeredSystem   = "system"
	SyncTriggeredSchedule = "schedule"
)

const (
	SyncEntityFacilityDay = "facility_day"
	SyncEntityItem        = "item"
	SyncEntitySnapshot    = "snapshot"
	SyncEntityArchive     = "archive"
	SyncEntityRun         = "run"
)

// MenuSyncRun is the job-status record of one pipeline run.
type MenuSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	RequestedBy   string     `gorm:"size:100" json:"requested_by"`
	OptionsJSON   []byte     `gorm:"type:json" json:"options"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	ItemsUpserted int        `json:"items_upserted"`
	ErrorCount    int        `json:"error_count"`
	Message       string     `gorm:"type:text" json:"message"`
	ParentRunId   *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r MenuSyncRun) IsFinished() bool {
	return r.Status == SyncRunStatusSuccess || r.Status == SyncRunStatusFailed || r.Status == SyncRunStatusPartial
}

type MenuSyncError struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	SyncRunId   uint      `gorm:"index;not null" json:"sync_run_id"`
	EntityType  string    `gorm:"size:50" json:"entity_type"`
	EntityKey   string    `gorm:"size:512" json:"entity_key"`
	ErrorCode   string    `gorm:"size:64" json:"error_code"`
	Message     string    `gorm:"type:text" json:"message"`
	PayloadJSON []byte    `gorm:"type:json" json:"payload"`
	Retryable   bool      `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}
