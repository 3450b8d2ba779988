package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"lpr-gate-service/internal/config"
	"lpr-gate-service/internal/directory"
	"lpr-gate-service/internal/domain/lpr"
	"lpr-gate-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	// ErrStoreQuery means a ReadStore or ValetLedger query failed. It is
	// retryable by the caller and never conflated with an empty result.
	ErrStoreQuery = errors.New("store query failed")
	// ErrLedgerWrite means a billing-relevant ledger write failed. Always
	// surfaced, never swallowed.
	ErrLedgerWrite = errors.New("ledger write failed")
)

// ReadStore is the time-partitioned plate-read store the engine queries.
type ReadStore interface {
	GetByID(ctx context.Context, id string) (*lpr.ReadRecord, error)
	QueryByPartitionAndRange(ctx context.Context, partition int64, locationTag string, startMs, endMs int64) ([]lpr.ReadRecord, error)
}

// ValetLedger is the append-only store of valet-originated visits pending
// exit reconciliation.
type ValetLedger interface {
	RecordEntry(ctx context.Context, entry lpr.LedgerEntry) error
	HasEntryFor(ctx context.Context, plateReadID string) (bool, error)
	QueryOpenEntries(ctx context.Context, sinceMs int64) ([]lpr.LedgerEntry, error)
	CloseEntry(ctx context.Context, plateReadID, exitReadID string, exitTimestampMs int64) error
}

// VerifyService decides the access-control outcome for each plate read:
// grant for registered vehicles, ledger insert for valet-originated ones,
// escalation for everything else. All collaborators are injected; the
// service holds no global state beyond the immutable directory snapshot.
type VerifyService struct {
	reads  ReadStore
	ledger ValetLedger
	dir    *directory.Directory
	cfg    *config.Config
	log    zerolog.Logger
}

func NewVerifyService(reads ReadStore, ledger ValetLedger, dir *directory.Directory, cfg *config.Config, log zerolog.Logger) *VerifyService {
	return &VerifyService{
		reads:  reads,
		ledger: ledger,
		dir:    dir,
		cfg:    cfg,
		log:    log,
	}
}

// VerifyRead classifies one read. Reads from cameras other than the
// entrance and exit carry no decision logic and come back Inconclusive.
func (s *VerifyService) VerifyRead(ctx context.Context, read *lpr.ReadRecord) (lpr.VerifyResult, error) {
	if read == nil || read.ID == "" {
		return lpr.VerifyResult{}, fmt.Errorf("%w: read id is required", ErrInvalidInput)
	}

	switch read.LocationTag {
	case s.cfg.Camera.EntranceLabel:
		return s.verifyEntrance(ctx, read)
	case s.cfg.Camera.ExitLabel:
		return s.verifyExit(ctx, read)
	default:
		s.log.Debug().
			Str("read_id", read.ID).
			Str("location_tag", read.LocationTag).
			Msg("no verification rule for location")
		return lpr.VerifyResult{
			ReadID:  read.ID,
			Outcome: lpr.OutcomeInconclusive,
			Reason:  "no verification rule for location",
		}, nil
	}
}

func (s *VerifyService) verifyEntrance(ctx context.Context, read *lpr.ReadRecord) (lpr.VerifyResult, error) {
	norm := s.normalizedPlate(read)
	if norm == "" {
		s.log.Info().Str("read_id", read.ID).Msg("entrance read has no plate number")
		return lpr.VerifyResult{
			ReadID:  read.ID,
			Outcome: lpr.OutcomeInconclusive,
			Reason:  "no plate number",
		}, nil
	}

	if ok, matched := s.dir.IsRegistered(read.PlateNumber, s.cfg.Verify.MaxEditDistance); ok {
		s.log.Info().
			Str("read_id", read.ID).
			Str("plate", norm).
			Str("matched_plate", matched).
			Msg("plate matches registered vehicle, access granted")
		return lpr.VerifyResult{
			ReadID:       read.ID,
			Outcome:      lpr.OutcomeGranted,
			MatchedPlate: matched,
		}, nil
	}

	candidates, err := s.findPriorReads(ctx, read, s.cfg.CorrelationWindowMs(), s.cfg.Camera.ValetLabel)
	if err != nil {
		s.log.Error().Err(err).Str("read_id", read.ID).Msg("valet correlation query failed")
		return lpr.VerifyResult{}, fmt.Errorf("%w: valet correlation: %v", ErrStoreQuery, err)
	}

	for _, cand := range candidates {
		if cand.ID == read.ID {
			continue
		}
		candNorm := cand.NormalizedPlate
		if candNorm == "" {
			candNorm = utils.NormalizePlate(cand.PlateNumber)
		}
		// An unreadable prior plate is never a match source.
		if candNorm == "" {
			continue
		}
		if !utils.PlatesMatch(candNorm, norm, s.cfg.Verify.MaxEditDistance) {
			continue
		}
		// First qualifying match wins; no secondary ranking.
		return s.ledgeAsValet(ctx, read, norm, cand)
	}

	s.log.Warn().
		Str("read_id", read.ID).
		Str("plate", norm).
		Msg("unregistered plate with no valet correlation, escalating to security")
	return lpr.VerifyResult{
		ReadID:  read.ID,
		Outcome: lpr.OutcomeEscalated,
	}, nil
}

// ledgeAsValet writes the ledger entry derived from the current entrance
// read. At most one entry per plate read: a re-delivered read is detected
// either by the pre-check or by the ledger's uniqueness guard and treated
// as a no-op.
func (s *VerifyService) ledgeAsValet(ctx context.Context, read *lpr.ReadRecord, norm string, valetRead lpr.ReadRecord) (lpr.VerifyResult, error) {
	result := lpr.VerifyResult{
		ReadID:      read.ID,
		Outcome:     lpr.OutcomeLedgedAsValet,
		ValetReadID: valetRead.ID,
	}

	exists, err := s.ledger.HasEntryFor(ctx, read.ID)
	if err != nil {
		return lpr.VerifyResult{}, fmt.Errorf("%w: ledger lookup: %v", ErrStoreQuery, err)
	}
	if exists {
		s.log.Info().Str("read_id", read.ID).Msg("ledger entry already exists, skipping duplicate write")
		return result, nil
	}

	entry := lpr.LedgerEntry{
		PlateReadID:     read.ID,
		PlateNumber:     read.PlateNumber,
		NormalizedPlate: norm,
		TimestampMs:     read.TimestampMs,
		Confidence:      read.Confidence,
		Region:          read.Region,
		DayPartition:    read.DayPartition,
		PlateCropURL:    read.PlateCropURL,
		VehicleCropURL:  read.VehicleCropURL,
	}

	if err := s.ledger.RecordEntry(ctx, entry); err != nil {
		if errors.Is(err, lpr.ErrDuplicateEntry) {
			// Lost a race with a concurrent delivery of the same read.
			s.log.Info().Str("read_id", read.ID).Msg("concurrent ledger write detected, skipping duplicate")
			return result, nil
		}
		s.log.Error().Err(err).Str("read_id", read.ID).Msg("failed to write valet ledger entry")
		return lpr.VerifyResult{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	s.log.Info().
		Str("read_id", read.ID).
		Str("plate", norm).
		Str("valet_read_id", valetRead.ID).
		Msg("unregistered plate correlated to valet entry, ledgered for billing")
	return result, nil
}

// verifyExit reconciles an exit read against open ledger entries over the
// exit trailing window. The first open entry within the match threshold is
// closed with the exit read's id and timestamp. With no matching open
// entry there is nothing to reconcile and the read is Inconclusive.
func (s *VerifyService) verifyExit(ctx context.Context, read *lpr.ReadRecord) (lpr.VerifyResult, error) {
	norm := s.normalizedPlate(read)
	if norm == "" {
		s.log.Info().Str("read_id", read.ID).Msg("exit read has no plate number")
		return lpr.VerifyResult{
			ReadID:  read.ID,
			Outcome: lpr.OutcomeInconclusive,
			Reason:  "no plate number",
		}, nil
	}

	sinceMs := read.TimestampMs - s.cfg.ExitWindowMs()
	entries, err := s.ledger.QueryOpenEntries(ctx, sinceMs)
	if err != nil {
		return lpr.VerifyResult{}, fmt.Errorf("%w: open ledger query: %v", ErrStoreQuery, err)
	}

	for _, entry := range entries {
		if entry.NormalizedPlate == "" {
			continue
		}
		if entry.TimestampMs >= read.TimestampMs {
			continue
		}
		if !utils.PlatesMatch(entry.NormalizedPlate, norm, s.cfg.Verify.MaxEditDistance) {
			continue
		}

		err := s.ledger.CloseEntry(ctx, entry.PlateReadID, read.ID, read.TimestampMs)
		if errors.Is(err, lpr.ErrNotFound) {
			// Closed concurrently between query and update; nothing to do.
			s.log.Info().Str("read_id", read.ID).Str("entry_read_id", entry.PlateReadID).Msg("ledger entry already closed")
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("read_id", read.ID).Msg("failed to close ledger entry")
			return lpr.VerifyResult{}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
		}

		s.log.Info().
			Str("read_id", read.ID).
			Str("plate", norm).
			Str("entry_read_id", entry.PlateReadID).
			Msg("closed valet ledger entry on exit")
		return lpr.VerifyResult{
			ReadID:      read.ID,
			Outcome:     lpr.OutcomeLedgedAsValet,
			ValetReadID: entry.PlateReadID,
		}, nil
	}

	s.log.Info().Str("read_id", read.ID).Str("plate", norm).Msg("exit read matches no open ledger entry")
	return lpr.VerifyResult{
		ReadID:  read.ID,
		Outcome: lpr.OutcomeInconclusive,
		Reason:  "no open ledger entry",
	}, nil
}

// VerifyByIDs re-runs verification for already-stored reads, as when ids
// arrive on a deferred verification queue. Ids with no stored read are
// skipped with a logged reason and never abort the batch.
func (s *VerifyService) VerifyByIDs(ctx context.Context, ids []string) ([]lpr.VerifyResult, error) {
	results := make([]lpr.VerifyResult, 0, len(ids))
	for _, id := range ids {
		read, err := s.reads.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: get read %s: %v", ErrStoreQuery, id, err)
		}
		if read == nil {
			s.log.Warn().Str("read_id", id).Msg("no stored read for id, skipping")
			continue
		}
		result, err := s.VerifyRead(ctx, read)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// OpenLedgerEntries lists unreconciled ledger entries over a trailing
// window measured back from now.
func (s *VerifyService) OpenLedgerEntries(ctx context.Context, nowMs int64, trailingDays int) ([]lpr.LedgerEntry, error) {
	if trailingDays <= 0 {
		trailingDays = s.cfg.Verify.ExitWindowDays
	}
	sinceMs := nowMs - int64(trailingDays)*lpr.MillisPerDay
	entries, err := s.ledger.QueryOpenEntries(ctx, sinceMs)
	if err != nil {
		return nil, fmt.Errorf("%w: open ledger query: %v", ErrStoreQuery, err)
	}
	return entries, nil
}

func (s *VerifyService) normalizedPlate(read *lpr.ReadRecord) string {
	if read.NormalizedPlate != "" {
		return read.NormalizedPlate
	}
	return utils.NormalizePlate(read.PlateNumber)
}
