package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpr-gate-service/internal/config"
	"lpr-gate-service/internal/directory"
	"lpr-gate-service/internal/domain/lpr"
)

const (
	entranceLabel = "900 Garage Gate Entrance"
	valetLabel    = "900 Valet"
	exitLabel     = "900 Garage Gate Exit"
)

func testConfig() *config.Config {
	return &config.Config{
		Camera: config.CameraConfig{
			EntranceLabel: entranceLabel,
			ValetLabel:    valetLabel,
			ExitLabel:     exitLabel,
		},
		Verify: config.VerifyConfig{
			MaxEditDistance:         1,
			CorrelationWindowMinute: 10,
			ExitWindowDays:          30,
		},
	}
}

func testDirectory(t *testing.T, plates ...string) *directory.Directory {
	t.Helper()
	content := ""
	for _, p := range plates {
		content += p + "\n"
	}
	path := filepath.Join(t.TempDir(), "registered_plates.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	dir, err := directory.Load(path)
	require.NoError(t, err)
	return dir
}

type fakeReadStore struct {
	reads     []lpr.ReadRecord
	queryErr  error
	createErr error
	getErr    error
	queried   [][2]int64 // (partition, startMs) per query, for window tests
	findLimit int
}

func (f *fakeReadStore) GetByID(_ context.Context, id string) (*lpr.ReadRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for i := range f.reads {
		if f.reads[i].ID == id {
			return &f.reads[i], nil
		}
	}
	return nil, nil
}

func (f *fakeReadStore) QueryByPartitionAndRange(_ context.Context, partition int64, locationTag string, startMs, endMs int64) ([]lpr.ReadRecord, error) {
	f.queried = append(f.queried, [2]int64{partition, startMs})
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []lpr.ReadRecord
	for _, r := range f.reads {
		if r.DayPartition == partition && r.LocationTag == locationTag &&
			r.TimestampMs >= startMs && r.TimestampMs < endMs {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeLedger struct {
	entries   map[string]*lpr.LedgerEntry
	recordErr error
	queryErr  error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*lpr.LedgerEntry)}
}

func (f *fakeLedger) RecordEntry(_ context.Context, entry lpr.LedgerEntry) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	if _, ok := f.entries[entry.PlateReadID]; ok {
		return lpr.ErrDuplicateEntry
	}
	e := entry
	f.entries[entry.PlateReadID] = &e
	return nil
}

func (f *fakeLedger) HasEntryFor(_ context.Context, plateReadID string) (bool, error) {
	if f.queryErr != nil {
		return false, f.queryErr
	}
	_, ok := f.entries[plateReadID]
	return ok, nil
}

func (f *fakeLedger) QueryOpenEntries(_ context.Context, sinceMs int64) ([]lpr.LedgerEntry, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []lpr.LedgerEntry
	for _, e := range f.entries {
		if e.Open() && e.TimestampMs >= sinceMs {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeLedger) CloseEntry(_ context.Context, plateReadID, exitReadID string, exitTimestampMs int64) error {
	e, ok := f.entries[plateReadID]
	if !ok || !e.Open() {
		return lpr.ErrNotFound
	}
	e.ExitReadID = exitReadID
	e.ExitTimestampMs = exitTimestampMs
	return nil
}

// dayBase is midnight UTC of an arbitrary test day, in epoch ms.
const testDay = int64(20000)

var dayBase = testDay * lpr.MillisPerDay

const minute = int64(60 * 1000)

func entranceRead(id, plate string, ts int64) *lpr.ReadRecord {
	return &lpr.ReadRecord{
		ID:           id,
		TimestampMs:  ts,
		DayPartition: lpr.DayPartitionFor(ts),
		PlateNumber:  plate,
		LocationTag:  entranceLabel,
	}
}

func valetRead(id, plate string, ts int64) lpr.ReadRecord {
	return lpr.ReadRecord{
		ID:           id,
		TimestampMs:  ts,
		DayPartition: lpr.DayPartitionFor(ts),
		PlateNumber:  plate,
		LocationTag:  valetLabel,
	}
}

func newTestService(t *testing.T, store *fakeReadStore, ledger *fakeLedger, registered ...string) *VerifyService {
	t.Helper()
	if len(registered) == 0 {
		registered = []string{"ABC-123"}
	}
	return NewVerifyService(store, ledger, testDirectory(t, registered...), testConfig(), zerolog.Nop())
}

func TestVerifyRead_RegisteredPlateGranted(t *testing.T) {
	svc := newTestService(t, &fakeReadStore{}, newFakeLedger(), "ABC-123")

	// Detected as "abc123", registered as "ABC-123".
	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "abc123", dayBase+100*minute))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeGranted, res.Outcome)
	assert.Equal(t, "ABC-123", res.MatchedPlate)
}

func TestVerifyRead_RegisteredWithinOneEdit(t *testing.T) {
	svc := newTestService(t, &fakeReadStore{}, newFakeLedger(), "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "ABC-129", dayBase+100*minute))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeGranted, res.Outcome)
}

func TestVerifyRead_ValetCorrelationLedgered(t *testing.T) {
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "XYZ998", ts-4*minute),
	}}
	ledger := newFakeLedger()
	svc := newTestService(t, store, ledger, "ABC-123")

	read := entranceRead("r1", "XYZ999", ts)
	read.Confidence = 91.5
	read.Region = "us-wa"

	res, err := svc.VerifyRead(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeLedgedAsValet, res.Outcome)
	assert.Equal(t, "v1", res.ValetReadID)

	// The ledger entry is derived from the entrance read, not the valet one.
	entry := ledger.entries["r1"]
	require.NotNil(t, entry)
	assert.Equal(t, "XYZ999", entry.PlateNumber)
	assert.Equal(t, "xyz999", entry.NormalizedPlate)
	assert.Equal(t, ts, entry.TimestampMs)
	assert.Equal(t, 91.5, entry.Confidence)
	assert.Equal(t, "us-wa", entry.Region)
	assert.Equal(t, testDay, entry.DayPartition)
	assert.True(t, entry.Open())
}

func TestVerifyRead_NoCorrelationEscalated(t *testing.T) {
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "AAA111", ts-4*minute),
	}}
	ledger := newFakeLedger()
	svc := newTestService(t, store, ledger, "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "QQQ111", ts))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeEscalated, res.Outcome)
	assert.Empty(t, ledger.entries)
}

func TestVerifyRead_ValetOutsideWindowEscalated(t *testing.T) {
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "XYZ999", ts-11*minute),
	}}
	svc := newTestService(t, store, newFakeLedger(), "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "XYZ999", ts))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeEscalated, res.Outcome)
}

func TestVerifyRead_MidnightCrossingCorrelation(t *testing.T) {
	// Valet read at 23:58 the previous day, entrance at 00:02.
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "XYZ999", dayBase-2*minute),
	}}
	ledger := newFakeLedger()
	svc := newTestService(t, store, ledger, "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "XYZ999", dayBase+2*minute))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeLedgedAsValet, res.Outcome)
	assert.Equal(t, "v1", res.ValetReadID)
}

func TestVerifyRead_EmptyPlateInconclusive(t *testing.T) {
	// Even with an unreadable valet read in window, an empty entrance plate
	// must never match anything.
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "", ts-4*minute),
	}}
	ledger := newFakeLedger()
	svc := newTestService(t, store, ledger, "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "", ts))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeInconclusive, res.Outcome)
	assert.Empty(t, ledger.entries)
}

func TestVerifyRead_UnreadableValetPlateNeverMatches(t *testing.T) {
	// A one-character entrance plate is within distance 1 of an empty
	// candidate; the empty candidate must still be skipped.
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", " - ", ts-4*minute),
	}}
	svc := newTestService(t, store, newFakeLedger(), "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "Z", ts))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeEscalated, res.Outcome)
}

func TestVerifyRead_ReprocessingIsIdempotent(t *testing.T) {
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "XYZ999", ts-4*minute),
	}}
	ledger := newFakeLedger()
	svc := newTestService(t, store, ledger, "ABC-123")

	read := entranceRead("r1", "XYZ999", ts)

	res, err := svc.VerifyRead(context.Background(), read)
	require.NoError(t, err)
	require.Equal(t, lpr.OutcomeLedgedAsValet, res.Outcome)

	// Re-delivery of the identical read must not create a second entry.
	res, err = svc.VerifyRead(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeLedgedAsValet, res.Outcome)
	assert.Len(t, ledger.entries, 1)
}

func TestVerifyRead_ConcurrentDuplicateIsNoOp(t *testing.T) {
	// The pre-check misses but the store-level uniqueness guard fires, as
	// when two deliveries of the same read race.
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "XYZ999", ts-4*minute),
	}}
	ledger := newFakeLedger()
	ledger.recordErr = lpr.ErrDuplicateEntry
	svc := newTestService(t, store, ledger, "ABC-123")

	res, err := svc.VerifyRead(context.Background(), entranceRead("r1", "XYZ999", ts))
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeLedgedAsValet, res.Outcome)
}

func TestVerifyRead_StoreQueryFailureSurfaced(t *testing.T) {
	store := &fakeReadStore{queryErr: errors.New("connection refused")}
	svc := newTestService(t, store, newFakeLedger(), "ABC-123")

	// Query failure must not be conflated with "no candidates found".
	_, err := svc.VerifyRead(context.Background(), entranceRead("r1", "XYZ999", dayBase+100*minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreQuery)
}

func TestVerifyRead_LedgerWriteFailureSurfaced(t *testing.T) {
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		valetRead("v1", "XYZ999", ts-4*minute),
	}}
	ledger := newFakeLedger()
	ledger.recordErr = errors.New("disk full")
	svc := newTestService(t, store, ledger, "ABC-123")

	_, err := svc.VerifyRead(context.Background(), entranceRead("r1", "XYZ999", ts))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLedgerWrite)
}

func TestVerifyRead_UnknownLocationInconclusive(t *testing.T) {
	svc := newTestService(t, &fakeReadStore{}, newFakeLedger(), "ABC-123")

	read := &lpr.ReadRecord{
		ID:           "r1",
		TimestampMs:  dayBase,
		DayPartition: testDay,
		PlateNumber:  "ABC-123",
		LocationTag:  "Lobby Cam 3",
	}
	res, err := svc.VerifyRead(context.Background(), read)
	require.NoError(t, err)
	assert.Equal(t, lpr.OutcomeInconclusive, res.Outcome)
}

func TestVerifyByIDs_SkipsUnknownIDs(t *testing.T) {
	ts := dayBase + 100*minute
	store := &fakeReadStore{reads: []lpr.ReadRecord{
		*entranceRead("r1", "abc123", ts),
	}}
	svc := newTestService(t, store, newFakeLedger(), "ABC-123")

	results, err := svc.VerifyByIDs(context.Background(), []string{"r1", "missing"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, lpr.OutcomeGranted, results[0].Outcome)
}

func TestVerifyByIDs_StoreFailure(t *testing.T) {
	store := &fakeReadStore{getErr: errors.New("connection refused")}
	svc := newTestService(t, store, newFakeLedger())

	_, err := svc.VerifyByIDs(context.Background(), []string{"r1"})
	assert.ErrorIs(t, err, ErrStoreQuery)
}

func TestVerifyRead_MissingID(t *testing.T) {
	svc := newTestService(t, &fakeReadStore{}, newFakeLedger())
	_, err := svc.VerifyRead(context.Background(), &lpr.ReadRecord{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
