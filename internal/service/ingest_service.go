package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lpr-gate-service/internal/domain/lpr"
	"lpr-gate-service/internal/utils"
)

// ReadWriter is the ingestion-side surface of the plate-read store.
type ReadWriter interface {
	CreateRead(ctx context.Context, read *lpr.ReadRecord) error
	FindReads(ctx context.Context, normalizedPlate *string, fromMs, toMs *int64, locationTag *string, limit, offset int) ([]lpr.ReadRecord, error)
	DeleteOlderThan(ctx context.Context, maxAgeDays int) (int64, error)
}

// IngestService turns raw camera batch uploads into persisted, normalized
// plate reads and runs verification on each.
type IngestService struct {
	store    ReadWriter
	verifier *VerifyService
	log      zerolog.Logger
}

func NewIngestService(store ReadWriter, verifier *VerifyService, log zerolog.Logger) *IngestService {
	return &IngestService{
		store:    store,
		verifier: verifier,
		log:      log,
	}
}

// ProcessBatch ingests one camera upload. Malformed individual records are
// skipped with a logged reason and never abort the batch; store and ledger
// failures abort so the caller can retry the delivery.
func (s *IngestService) ProcessBatch(ctx context.Context, body []byte) ([]lpr.VerifyResult, error) {
	payloads, err := s.parseBatch(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	results := make([]lpr.VerifyResult, 0, len(payloads))
	for _, payload := range payloads {
		if payload.EpochStart <= 0 {
			s.log.Warn().
				Str("plate", payload.BestPlateNumber).
				Msg("skipping record without epoch_start")
			continue
		}

		read := recordFromPayload(payload)
		if err := s.store.CreateRead(ctx, read); err != nil {
			s.log.Error().Err(err).Str("read_id", read.ID).Msg("failed to store plate read")
			return nil, fmt.Errorf("store plate read: %w", err)
		}

		s.log.Info().
			Str("read_id", read.ID).
			Str("plate", read.NormalizedPlate).
			Str("location_tag", read.LocationTag).
			Int64("timestamp_ms", read.TimestampMs).
			Int64("day_partition", read.DayPartition).
			Msg("stored plate read")

		result, err := s.verifier.VerifyRead(ctx, read)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// parseBatch accepts either a plain JSON array or the camera uploader's
// concatenated-objects format, which ends each object with a trailing
// comma. Elements that fail to decode are skipped with a logged reason.
func (s *IngestService) parseBatch(body []byte) ([]lpr.ReadPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if trimmed[0] != '[' {
		trimmed = bytes.TrimSuffix(trimmed, []byte(","))
		trimmed = append(append([]byte("["), trimmed...), ']')
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("decode batch: %v", err)
	}

	payloads := make([]lpr.ReadPayload, 0, len(raw))
	for i, msg := range raw {
		var payload lpr.ReadPayload
		if err := json.Unmarshal(msg, &payload); err != nil {
			s.log.Warn().Err(err).Int("index", i).Msg("skipping malformed record in batch")
			continue
		}
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// recordFromPayload assigns the read id and derives the day partition from
// the record's own detection timestamp, so the stored partition and any
// later query agree regardless of when either happens.
func recordFromPayload(payload lpr.ReadPayload) *lpr.ReadRecord {
	return &lpr.ReadRecord{
		ID:              uuid.NewString(),
		TimestampMs:     payload.EpochStart,
		DayPartition:    lpr.DayPartitionFor(payload.EpochStart),
		PlateNumber:     payload.BestPlateNumber,
		NormalizedPlate: utils.NormalizePlate(payload.BestPlateNumber),
		Confidence:      payload.BestConfidence,
		Region:          payload.BestRegion,
		LocationTag:     payload.WebServerConfig.CameraLabel,
		Candidates:      payload.Candidates,
		Vehicle:         payload.Vehicle,
		PlateCropURL:    payload.PlateCropURL,
		VehicleCropURL:  payload.VehicleCropURL,
	}
}

// FindReads lists stored reads for the query API. An empty plate query
// matches all plates.
func (s *IngestService) FindReads(ctx context.Context, plateQuery string, fromMs, toMs *int64, locationTag string, limit, offset int) ([]lpr.ReadRecord, error) {
	var normalizedPlate *string
	if plateQuery != "" {
		norm := utils.NormalizePlate(plateQuery)
		if norm == "" {
			return nil, fmt.Errorf("%w: plate query cannot be empty after normalization", ErrInvalidInput)
		}
		normalizedPlate = &norm
	}

	var location *string
	if locationTag != "" {
		location = &locationTag
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	reads, err := s.store.FindReads(ctx, normalizedPlate, fromMs, toMs, location, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("find reads: %w", err)
	}
	return reads, nil
}

// CleanupOldReads removes reads older than the retention limit.
func (s *IngestService) CleanupOldReads(ctx context.Context, days int) (int64, error) {
	deleted, err := s.store.DeleteOlderThan(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old reads")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old plate reads")
	}
	return deleted, nil
}
