package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/nimbusgrid/hosting_backend/config"
	"bitbucket.org/nimbusgrid/hosting_backend/utils"
	"gorm.io/gorm"
)

// DisputeSyncRun records one invocation of the dispute reconciliation job.
type DisputeSyncRun struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	Status            string     `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy       string     `gorm:"size:20" json:"triggered_by"`
	CutoffUnix        int64      `json:"cutoff_unix"`
	DisputesSeen      int        `json:"disputes_seen"`
	DisputesProcessed int        `json:"disputes_processed"`
	DisputesSkipped   int        `json:"disputes_skipped"`
	ErrorCount        int        `json:"error_count"`
	StartedAt         *time.Time `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at"`
	DurationMs        int64      `json:"duration_ms"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// DisputeSyncError is one per-dispute failure inside a run. The batch never
// aborts on these; they exist for observability and manual follow-up.
type DisputeSyncError struct {
	ID              uint      `gorm:"primary_key" json:"id"`
	SyncRunId       uint      `gorm:"index;not null" json:"sync_run_id"`
	DisputeId       string    `gorm:"size:64;index" json:"dispute_id"`
	ChargeReference string    `gorm:"size:64" json:"charge_reference"`
	ErrorKind       string    `gorm:"size:32;not null" json:"error_kind"`
	Message         string    `gorm:"type:text" json:"message"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateDisputeSyncRun(ctx context.Context, run *DisputeSyncRun) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(run).Error
}

func GetDisputeSyncRun(ctx context.Context, id uint) (*DisputeSyncRun, error) {
	db := config.GetDB()
	var run DisputeSyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

func UpdateDisputeSyncRun(ctx context.Context, id uint, updates map[string]interface{}) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&DisputeSyncRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func ListDisputeSyncRuns(ctx context.Context, limit int) ([]DisputeSyncRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	db := config.GetDB()
	var runs []DisputeSyncRun
	err := db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func CreateDisputeSyncError(ctx context.Context, syncErr *DisputeSyncError) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(syncErr).Error
}

func ListDisputeSyncErrors(ctx context.Context, runId uint) ([]DisputeSyncError, error) {
	db := config.GetDB()
	var errs []DisputeSyncError
	err := db.WithContext(ctx).
		Where("sync_run_id = ?", runId).
		Order("id").
		Find(&errs).Error
	return errs, err
}
