package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// RunRecord is one persisted deployment run.
type RunRecord struct {
	RunID              string    `gorm:"primaryKey;column:run_id"`
	State              string    `gorm:"index"`
	Error              string    `gorm:"type:text"`
	OrderJSON          string    `gorm:"column:order_json;type:text"`
	MissingCredentials string    `gorm:"type:text"`
	StartedAt          time.Time `gorm:"index"`
	FinishedAt         time.Time
	CreatedAt          time.Time
}

func (RunRecord) TableName() string { return "deploy_runs" }

// UnitRecord is one persisted per-template outcome within a run.
type UnitRecord struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RunID      string `gorm:"index"`
	TemplateID string `gorm:"index"`
	Status     string
	RemoteID   string
	Endpoints  string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (UnitRecord) TableName() string { return "deploy_run_units" }

// History persists finished runs to a local SQLite database so past
// deployments can be inspected after the process exits.
type History struct {
	db *gorm.DB
}

// OpenHistory opens (or creates) the run-history database at path and
// migrates its schema. Use ":memory:" for an ephemeral store.
func OpenHistory(path string) (*History, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open run history database %s: %w", path, err)
	}
	if err := db.AutoMigrate(&RunRecord{}, &UnitRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate run history schema: %w", err)
	}
	return &History{db: db}, nil
}

// SaveRun writes the run and its unit outcomes in one transaction.
func (h *History) SaveRun(ctx context.Context, report *Report) error {
	orderJSON, err := json.Marshal(report.Order)
	if err != nil {
		return fmt.Errorf("failed to encode run order: %w", err)
	}
	missingJSON, err := json.Marshal(report.MissingCredentials)
	if err != nil {
		return fmt.Errorf("failed to encode missing credentials: %w", err)
	}

	record := &RunRecord{
		RunID:              report.RunID,
		State:              string(report.State),
		Error:              report.Error,
		OrderJSON:          string(orderJSON),
		MissingCredentials: string(missingJSON),
		StartedAt:          report.StartedAt,
		FinishedAt:         report.FinishedAt,
	}

	units := make([]UnitRecord, 0, len(report.Units))
	for _, u := range report.Units {
		endpointsJSON, err := json.Marshal(u.Endpoints)
		if err != nil {
			return fmt.Errorf("failed to encode unit endpoints: %w", err)
		}
		units = append(units, UnitRecord{
			RunID:      report.RunID,
			TemplateID: u.TemplateID,
			Status:     string(u.Status),
			RemoteID:   u.RemoteID,
			Endpoints:  string(endpointsJSON),
			Error:      u.Error,
		})
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		if len(units) == 0 {
			return nil
		}
		return tx.Create(&units).Error
	})
}

// GetRun loads one run with its unit outcomes.
func (h *History) GetRun(ctx context.Context, runID string) (*RunRecord, []UnitRecord, error) {
	var record RunRecord
	err := h.db.WithContext(ctx).Where("run_id = ?", runID).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return nil, nil, err
	}

	var units []UnitRecord
	if err := h.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id").
		Find(&units).Error; err != nil {
		return nil, nil, err
	}
	return &record, units, nil
}

// ListRuns returns the most recent runs, newest first.
func (h *History) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []RunRecord
	err := h.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
