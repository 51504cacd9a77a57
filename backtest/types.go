// Package backtest implements the durable, resumable scheduler that
// replays historical market data through a user-supplied trading
// algorithm, producing deterministic trade/fill/signal streams while
// surviving process restarts.
package backtest

import "time"

// BacktestType distinguishes a historical replay from a live-market
// shadow replay. Both are driven through the same Worker loop; the
// distinction only affects which Dataset implementation the embedding
// application wires in.
type BacktestType string

const (
	// Historical replays a fixed, already-closed candle sequence.
	Historical BacktestType = "HISTORICAL"

	// LiveReplay shadows a live market feed, replaying candles as they
	// arrive rather than from a closed historical window.
	LiveReplay BacktestType = "LIVE_REPLAY"
)

// Status is the backtest's position in the state machine described in
// the Worker's per-job algorithm. Worker.processJob performs the
// transitions.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCanceled  Status = "CANCELED"
)

// Terminal reports whether s is one of the three terminal states from
// which no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Position is a single open holding within a Portfolio.
type Position struct {
	AssetID     string  `json:"assetId"`
	Quantity    float64 `json:"quantity"`
	AverageCost float64 `json:"averageCost"`
}

// Portfolio is the accounting state carried through every checkpoint.
// Positions are stored in the order the ledger returns them;
// CheckpointEngine sorts a copy by AssetID before hashing, so two
// Portfolios holding the same economic state get the same checksum.
type Portfolio struct {
	CashBalance float64    `json:"cashBalance"`
	Positions   []Position `json:"positions"`
}

// BacktestConfig is the frozen, user-supplied parameter snapshot a
// Backtest was submitted with. AutoResumeCount lives here because it is
// part of the durable record RecoveryService increments across boots,
// not a process-wide mutable (see Design Notes, "Global state"). Not to
// be confused with Config, the Worker's own tunable knobs.
type BacktestConfig struct {
	AutoResumeCount int            `json:"autoResumeCount"`
	Params          map[string]any `json:"params,omitempty"`
}

// Backtest is the durable record owned exclusively by the Worker holding
// the job lease, and by RecoveryService at boot (see Ownership &
// lifecycle).
//
// Invariants:
//   - ProcessedTimestampCount <= TotalTimestampCount
//   - CheckpointState != nil implies LastCheckpointAt != nil
//   - Status transitions follow Worker's state machine.
type Backtest struct {
	ID                      string           `json:"id"`
	Owner                   string           `json:"owner"`
	AlgorithmID             string           `json:"algorithmId"`
	DatasetID               string           `json:"datasetId"`
	Config                  BacktestConfig   `json:"config"`
	DeterministicSeed       string           `json:"deterministicSeed"`
	Type                    BacktestType     `json:"type"`
	Status                  Status           `json:"status"`
	ProcessedTimestampCount int              `json:"processedTimestampCount"`
	TotalTimestampCount     int              `json:"totalTimestampCount"`
	CheckpointState         *CheckpointState `json:"checkpointState,omitempty"`
	LastCheckpointAt        *time.Time       `json:"lastCheckpointAt,omitempty"`
	ErrorMessage            string           `json:"errorMessage,omitempty"`
}

// JobPayload is the stable job-message shape described in External
// Interfaces. JobName is the fixed queue job name "execute-backtest".
const JobName = "execute-backtest"

type JobPayload struct {
	BacktestID        string       `json:"backtestId"`
	UserID            string       `json:"userId"`
	DatasetID         string       `json:"datasetId"`
	AlgorithmID       string       `json:"algorithmId"`
	DeterministicSeed string       `json:"deterministicSeed"`
	Mode              BacktestType `json:"mode"`
}
