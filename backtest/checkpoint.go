package backtest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// PersistedCounts tracks how many result rows of each kind have already
// been durably persisted as of this checkpoint, used to detect
// under-persisted result tails after a crash (Design Notes: "result-row
// reconciliation").
type PersistedCounts struct {
	Trades    int `json:"trades"`
	Signals   int `json:"signals"`
	Fills     int `json:"fills"`
	Snapshots int `json:"snapshots"`
}

// CheckpointState is the embedded blob described in the Data Model.
// Checksum is always the first 16 hex characters of a SHA-256 digest
// over the canonical serialization of every other field; it is computed
// by Build and never set by hand.
type CheckpointState struct {
	LastProcessedIndex     int             `json:"lastProcessedIndex"`
	LastProcessedTimestamp time.Time       `json:"lastProcessedTimestamp"`
	Portfolio              Portfolio       `json:"portfolio"`
	PeakValue              float64         `json:"peakValue"`
	MaxDrawdown            float64         `json:"maxDrawdown"`
	RNGState               int64           `json:"rngState"`
	PersistedCounts        PersistedCounts `json:"persistedCounts"`
	Checksum               string          `json:"checksum"`
}

// checksumFields is CheckpointState minus Checksum, with Positions
// sorted by AssetID so that two economically-identical portfolios
// serialize identically regardless of insertion order.
type checksumFields struct {
	LastProcessedIndex     int             `json:"lastProcessedIndex"`
	LastProcessedTimestamp time.Time       `json:"lastProcessedTimestamp"`
	Portfolio              Portfolio       `json:"portfolio"`
	PeakValue              float64         `json:"peakValue"`
	MaxDrawdown            float64         `json:"maxDrawdown"`
	RNGState               int64           `json:"rngState"`
	PersistedCounts        PersistedCounts `json:"persistedCounts"`
}

func canonicalChecksum(s CheckpointState) (string, error) {
	positions := make([]Position, len(s.Portfolio.Positions))
	copy(positions, s.Portfolio.Positions)
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].AssetID < positions[j].AssetID
	})

	fields := checksumFields{
		LastProcessedIndex:     s.LastProcessedIndex,
		LastProcessedTimestamp: s.LastProcessedTimestamp,
		Portfolio:              Portfolio{CashBalance: s.Portfolio.CashBalance, Positions: positions},
		PeakValue:              s.PeakValue,
		MaxDrawdown:            s.MaxDrawdown,
		RNGState:               s.RNGState,
		PersistedCounts:        s.PersistedCounts,
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	// Re-encode through generic maps so every object's keys, nested ones
	// included, come out sorted; UseNumber keeps large integers such as
	// RNGState exact rather than rounding them through float64.
	var generic any
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// CheckpointEngine builds and verifies checkpoint blobs, and restores
// simulation state from them. It is stateless: state is threaded through
// method arguments, never owned by the engine itself (Design Notes:
// "neither owns the other").
type CheckpointEngine struct{}

// NewCheckpointEngine returns a ready-to-use CheckpointEngine.
func NewCheckpointEngine() *CheckpointEngine {
	return &CheckpointEngine{}
}

// Build canonically serializes every field of s except Checksum,
// computes its SHA-256 digest, and embeds the first 16 hex characters
// as Checksum.
func (e *CheckpointEngine) Build(s CheckpointState) (CheckpointState, error) {
	checksum, err := canonicalChecksum(s)
	if err != nil {
		return CheckpointState{}, err
	}
	s.Checksum = checksum
	return s, nil
}

// ValidationResult is the {valid, reason} pair returned by Validate.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// Validate recomputes the checksum, checks LastProcessedIndex bounds,
// and checks the dataset's timestamp at that index still matches what
// the checkpoint recorded. datasetTimestamps must be the full ordered
// timestamp sequence of the backtest's dataset.
func (e *CheckpointEngine) Validate(blob CheckpointState, datasetTimestamps []time.Time) ValidationResult {
	recomputed, err := canonicalChecksum(blob)
	if err != nil || recomputed != blob.Checksum {
		return ValidationResult{Valid: false, Reason: "checksum mismatch"}
	}

	if blob.LastProcessedIndex < 0 || blob.LastProcessedIndex >= len(datasetTimestamps) {
		return ValidationResult{Valid: false, Reason: "out of bounds"}
	}

	if !datasetTimestamps[blob.LastProcessedIndex].Equal(blob.LastProcessedTimestamp) {
		return ValidationResult{Valid: false, Reason: "timestamp mismatch"}
	}

	return ValidationResult{Valid: true}
}

// IsStale reports whether lastCheckpointAt is older than maxAge as of
// now. Stale checkpoints are discarded on recovery rather than resumed
// from, since resuming against a possibly-changed world would yield an
// incoherent simulation.
func (e *CheckpointEngine) IsStale(lastCheckpointAt time.Time, maxAge time.Duration, now time.Time) bool {
	return now.Sub(lastCheckpointAt) > maxAge
}

// RestoredState is the deserialized result of Restore.
type RestoredState struct {
	Portfolio       Portfolio
	RNGState        int64
	PersistedCounts PersistedCounts
	PeakValue       float64
	MaxDrawdown     float64
}

// Restore deserializes blob into simulation state. It performs no
// validation beyond what Validate already does; callers must call
// Validate first.
func (e *CheckpointEngine) Restore(blob CheckpointState) RestoredState {
	return RestoredState{
		Portfolio:       blob.Portfolio,
		RNGState:        blob.RNGState,
		PersistedCounts: blob.PersistedCounts,
		PeakValue:       blob.PeakValue,
		MaxDrawdown:     blob.MaxDrawdown,
	}
}
