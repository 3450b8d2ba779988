package lpr

// MillisPerDay is the length of one UTC day in epoch milliseconds.
const MillisPerDay int64 = 24 * 60 * 60 * 1000

// DayPartitionFor returns the number of whole UTC days since the epoch for
// the given detection timestamp. The partition is always derived from the
// record's own timestamp, never from the wall clock, so the value stored at
// write time and the value computed at query time cannot drift.
func DayPartitionFor(timestampMs int64) int64 {
	return timestampMs / MillisPerDay
}

// VerificationOutcome is the engine's terminal decision for one plate read.
type VerificationOutcome string

const (
	OutcomeGranted       VerificationOutcome = "GRANTED"
	OutcomeLedgedAsValet VerificationOutcome = "LEDGED_AS_VALET"
	OutcomeEscalated     VerificationOutcome = "ESCALATED"
	OutcomeInconclusive  VerificationOutcome = "INCONCLUSIVE"
)

type PlateCandidate struct {
	Plate      string  `json:"plate"`
	Confidence float64 `json:"confidence"`
}

type WebServerConfig struct {
	CameraLabel string `json:"camera_label"`
}

// ReadPayload is one raw detection as the camera uploader produces it.
type ReadPayload struct {
	EpochStart      int64                  `json:"epoch_start"`
	BestPlateNumber string                 `json:"best_plate_number"`
	BestConfidence  float64                `json:"best_confidence"`
	BestRegion      string                 `json:"best_region"`
	Candidates      []PlateCandidate       `json:"candidates,omitempty"`
	Vehicle         map[string]interface{} `json:"vehicle,omitempty"`
	WebServerConfig WebServerConfig        `json:"web_server_config"`
	PlateCropURL    string                 `json:"plate_crop_jpeg_url,omitempty"`
	VehicleCropURL  string                 `json:"vehicle_crop_jpeg_url,omitempty"`
}

// ReadRecord is a persisted, normalized plate read. Immutable once created.
// An empty PlateNumber makes the record non-matchable: it is never a match
// source or target.
type ReadRecord struct {
	ID              string
	TimestampMs     int64
	DayPartition    int64
	PlateNumber     string
	NormalizedPlate string
	Confidence      float64
	Region          string
	LocationTag     string
	Candidates      []PlateCandidate
	Vehicle         map[string]interface{}
	PlateCropURL    string
	VehicleCropURL  string
}

// LedgerEntry asserts that a vehicle entered via the valet path and is
// pending exit reconciliation. Fields mirror the subset of the entrance
// read needed for billing. ExitReadID empty means the entry is open.
type LedgerEntry struct {
	PlateReadID     string
	PlateNumber     string
	NormalizedPlate string
	TimestampMs     int64
	Confidence      float64
	Region          string
	DayPartition    int64
	PlateCropURL    string
	VehicleCropURL  string
	ExitReadID      string
	ExitTimestampMs int64
}

// Open reports whether the entry has not yet been reconciled by an exit read.
func (e LedgerEntry) Open() bool {
	return e.ExitReadID == ""
}

// VerifyResult is the engine's per-read result handed back to the caller,
// which is responsible for any physical or notification action.
type VerifyResult struct {
	ReadID       string              `json:"read_id"`
	Outcome      VerificationOutcome `json:"outcome"`
	MatchedPlate string              `json:"matched_plate,omitempty"`
	ValetReadID  string              `json:"valet_read_id,omitempty"`
	Reason       string              `json:"reason,omitempty"`
}
