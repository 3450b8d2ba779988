package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"lpr-gate-service/internal/domain/lpr"
)

type ReadRepository struct {
	db *gorm.DB
}

func NewReadRepository(db *gorm.DB) *ReadRepository {
	return &ReadRepository{db: db}
}

type PlateRead struct {
	ID              string `gorm:"primaryKey"`
	TimestampMs     int64  `gorm:"not null"`
	DayPartition    int64  `gorm:"not null"`
	PlateNumber     *string
	NormalizedPlate *string
	Confidence      *float64
	Region          *string
	LocationTag     string `gorm:"not null"`
	Candidates      datatypes.JSON
	Vehicle         datatypes.JSON
	PlateCropURL    *string
	VehicleCropURL  *string
	CreatedAt       time.Time
}

func (PlateRead) TableName() string {
	return "plate_reads"
}

func (r *ReadRepository) CreateRead(ctx context.Context, read *lpr.ReadRecord) error {
	row := PlateRead{
		ID:           read.ID,
		TimestampMs:  read.TimestampMs,
		DayPartition: read.DayPartition,
		LocationTag:  read.LocationTag,
		CreatedAt:    time.Now(),
	}

	if read.PlateNumber != "" {
		row.PlateNumber = &read.PlateNumber
	}
	if read.NormalizedPlate != "" {
		row.NormalizedPlate = &read.NormalizedPlate
	}
	if read.Confidence != 0 {
		row.Confidence = &read.Confidence
	}
	if read.Region != "" {
		row.Region = &read.Region
	}
	if read.PlateCropURL != "" {
		row.PlateCropURL = &read.PlateCropURL
	}
	if read.VehicleCropURL != "" {
		row.VehicleCropURL = &read.VehicleCropURL
	}
	if len(read.Candidates) > 0 {
		raw, err := json.Marshal(read.Candidates)
		if err != nil {
			return err
		}
		row.Candidates = raw
	}
	if len(read.Vehicle) > 0 {
		raw, err := json.Marshal(read.Vehicle)
		if err != nil {
			return err
		}
		row.Vehicle = raw
	}

	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *ReadRepository) GetByID(ctx context.Context, id string) (*lpr.ReadRecord, error) {
	var row PlateRead
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	read := toRecord(row)
	return &read, nil
}

// QueryByPartitionAndRange returns reads in one day partition for one
// location tag with timestamp in [startMs, endMs). No ordering is
// guaranteed; callers scan the whole result set.
func (r *ReadRepository) QueryByPartitionAndRange(ctx context.Context, partition int64, locationTag string, startMs, endMs int64) ([]lpr.ReadRecord, error) {
	var rows []PlateRead
	err := r.db.WithContext(ctx).
		Where("day_partition = ?", partition).
		Where("location_tag = ?", locationTag).
		Where("timestamp_ms >= ? AND timestamp_ms < ?", startMs, endMs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	reads := make([]lpr.ReadRecord, 0, len(rows))
	for _, row := range rows {
		reads = append(reads, toRecord(row))
	}
	return reads, nil
}

// FindReads lists reads for the query API, newest first.
func (r *ReadRepository) FindReads(ctx context.Context, normalizedPlate *string, fromMs, toMs *int64, locationTag *string, limit, offset int) ([]lpr.ReadRecord, error) {
	query := r.db.WithContext(ctx).Model(&PlateRead{})

	if normalizedPlate != nil {
		query = query.Where("normalized_plate = ?", *normalizedPlate)
	}
	if fromMs != nil {
		query = query.Where("timestamp_ms >= ?", *fromMs)
	}
	if toMs != nil {
		query = query.Where("timestamp_ms <= ?", *toMs)
	}
	if locationTag != nil {
		query = query.Where("location_tag = ?", *locationTag)
	}

	query = query.Order("timestamp_ms DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []PlateRead
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	reads := make([]lpr.ReadRecord, 0, len(rows))
	for _, row := range rows {
		reads = append(reads, toRecord(row))
	}
	return reads, nil
}

// DeleteOlderThan removes reads detected more than maxAgeDays ago and
// returns the number deleted.
func (r *ReadRepository) DeleteOlderThan(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()
	res := r.db.WithContext(ctx).
		Where("timestamp_ms < ?", cutoff).
		Delete(&PlateRead{})
	return res.RowsAffected, res.Error
}

func toRecord(row PlateRead) lpr.ReadRecord {
	read := lpr.ReadRecord{
		ID:           row.ID,
		TimestampMs:  row.TimestampMs,
		DayPartition: row.DayPartition,
		LocationTag:  row.LocationTag,
	}
	if row.PlateNumber != nil {
		read.PlateNumber = *row.PlateNumber
	}
	if row.NormalizedPlate != nil {
		read.NormalizedPlate = *row.NormalizedPlate
	}
	if row.Confidence != nil {
		read.Confidence = *row.Confidence
	}
	if row.Region != nil {
		read.Region = *row.Region
	}
	if row.PlateCropURL != nil {
		read.PlateCropURL = *row.PlateCropURL
	}
	if row.VehicleCropURL != nil {
		read.VehicleCropURL = *row.VehicleCropURL
	}
	if len(row.Candidates) > 0 {
		// Best effort; a corrupt candidates blob does not fail the read.
		_ = json.Unmarshal(row.Candidates, &read.Candidates)
	}
	if len(row.Vehicle) > 0 {
		_ = json.Unmarshal(row.Vehicle, &read.Vehicle)
	}
	return read
}
