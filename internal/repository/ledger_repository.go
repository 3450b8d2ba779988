package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"lpr-gate-service/internal/domain/lpr"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

type ValetLedgerRow struct {
	ID              int64  `gorm:"primaryKey"`
	PlateReadID     string `gorm:"not null;uniqueIndex"`
	PlateNumber     string `gorm:"not null"`
	NormalizedPlate string `gorm:"not null"`
	TimestampMs     int64  `gorm:"not null"`
	Confidence      *float64
	Region          *string
	DayPartition    int64 `gorm:"not null"`
	PlateCropURL    *string
	VehicleCropURL  *string
	ExitReadID      *string
	ExitTimestampMs *int64
	CreatedAt       time.Time
	ClosedAt        *time.Time
}

func (ValetLedgerRow) TableName() string {
	return "valet_ledger"
}

// RecordEntry appends an open ledger entry. The unique index on
// plate_read_id is the store-level duplicate guard: a second insert for the
// same plate read returns lpr.ErrDuplicateEntry.
func (r *LedgerRepository) RecordEntry(ctx context.Context, entry lpr.LedgerEntry) error {
	row := ValetLedgerRow{
		PlateReadID:     entry.PlateReadID,
		PlateNumber:     entry.PlateNumber,
		NormalizedPlate: entry.NormalizedPlate,
		TimestampMs:     entry.TimestampMs,
		DayPartition:    entry.DayPartition,
		CreatedAt:       time.Now(),
	}
	if entry.Confidence != 0 {
		row.Confidence = &entry.Confidence
	}
	if entry.Region != "" {
		row.Region = &entry.Region
	}
	if entry.PlateCropURL != "" {
		row.PlateCropURL = &entry.PlateCropURL
	}
	if entry.VehicleCropURL != "" {
		row.VehicleCropURL = &entry.VehicleCropURL
	}

	err := r.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return lpr.ErrDuplicateEntry
	}
	return err
}

func (r *LedgerRepository) HasEntryFor(ctx context.Context, plateReadID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&ValetLedgerRow{}).
		Where("plate_read_id = ?", plateReadID).
		Count(&count).Error
	return count > 0, err
}

// QueryOpenEntries returns all unreconciled entries with entrance timestamp
// at or after sinceMs.
func (r *LedgerRepository) QueryOpenEntries(ctx context.Context, sinceMs int64) ([]lpr.LedgerEntry, error) {
	var rows []ValetLedgerRow
	err := r.db.WithContext(ctx).
		Where("exit_read_id IS NULL").
		Where("timestamp_ms >= ?", sinceMs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	entries := make([]lpr.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries, nil
}

// CloseEntry marks the open entry for plateReadID as reconciled by the
// given exit read. Returns lpr.ErrNotFound if no open entry exists; a
// closed entry is never re-closed.
func (r *LedgerRepository) CloseEntry(ctx context.Context, plateReadID, exitReadID string, exitTimestampMs int64) error {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&ValetLedgerRow{}).
		Where("plate_read_id = ? AND exit_read_id IS NULL", plateReadID).
		Updates(map[string]interface{}{
			"exit_read_id":      exitReadID,
			"exit_timestamp_ms": exitTimestampMs,
			"closed_at":         now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return lpr.ErrNotFound
	}
	return nil
}

func toEntry(row ValetLedgerRow) lpr.LedgerEntry {
	entry := lpr.LedgerEntry{
		PlateReadID:     row.PlateReadID,
		PlateNumber:     row.PlateNumber,
		NormalizedPlate: row.NormalizedPlate,
		TimestampMs:     row.TimestampMs,
		DayPartition:    row.DayPartition,
	}
	if row.Confidence != nil {
		entry.Confidence = *row.Confidence
	}
	if row.Region != nil {
		entry.Region = *row.Region
	}
	if row.PlateCropURL != nil {
		entry.PlateCropURL = *row.PlateCropURL
	}
	if row.VehicleCropURL != nil {
		entry.VehicleCropURL = *row.VehicleCropURL
	}
	if row.ExitReadID != nil {
		entry.ExitReadID = *row.ExitReadID
	}
	if row.ExitTimestampMs != nil {
		entry.ExitTimestampMs = *row.ExitTimestampMs
	}
	return entry
}
