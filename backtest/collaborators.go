package backtest

import (
	"context"
	"time"
)

// Candle is a discrete OHLC market observation at one timestamp.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Dataset yields ordered OHLC candles for a backtest's dataset
// reference. Implementations must guarantee monotonic timestamp order;
// the Worker never reorders candles itself (Concurrency & Resource
// Model, Ordering guarantees).
type Dataset interface {
	// Timestamps returns the full ordered timestamp sequence, used by
	// CheckpointEngine.Validate to detect a dataset that changed
	// underneath a resumed backtest.
	Timestamps(ctx context.Context) ([]time.Time, error)

	// CandleAt returns the candle at the given index in Timestamps.
	CandleAt(ctx context.Context, index int) (Candle, error)
}

// MarketSnapshot is the current price map (and optionally indicator
// values) an AlgorithmEvaluator is invoked with at each step.
type MarketSnapshot struct {
	Index      int
	Timestamp  time.Time
	Prices     map[string]float64
	Indicators map[string]float64
}

// Signal is one trading instruction produced by an AlgorithmEvaluator:
// e.g. a buy/sell order against an asset. The concrete shape of a
// signal's fields beyond AssetID/Side/Quantity is owned by the
// embedding application's accounting engine, not this module
// (Non-goals: "portfolio accounting arithmetic beyond what checkpointing
// requires").
type Signal struct {
	AssetID  string
	Side     string
	Quantity float64
}

// AlgorithmEvaluator is the external collaborator that, given a
// portfolio and a market snapshot, returns trading signals. It must
// draw all randomness from the supplied RNG to preserve the
// determinism property (see DeterministicRNG).
type AlgorithmEvaluator interface {
	Evaluate(ctx context.Context, portfolio Portfolio, snapshot MarketSnapshot, rng *DeterministicRNG) ([]Signal, error)
}

// PortfolioLedger applies signals onto a portfolio and reports the
// resulting trade/fill rows for persistence. This is the external
// order/fill accounting engine named in Purpose & Scope; this module
// does not implement order matching or fill arithmetic itself.
type PortfolioLedger interface {
	Apply(ctx context.Context, portfolio Portfolio, signals []Signal) (ApplyResult, error)
}

// ApplyResult is the output of applying signals to a portfolio: the
// updated portfolio plus any rows that need persisting.
type ApplyResult struct {
	Portfolio Portfolio
	Trades    []any
	Fills     []any
}

// ResultSink persists trade/signal/fill/snapshot rows produced during a
// step, and reconciles the durable row counts against
// CheckpointState.PersistedCounts after a crash. The exact
// reconciliation procedure (truncate vs. re-insert) is left to the
// implementation (Design Notes, "result-row reconciliation").
type ResultSink interface {
	Persist(ctx context.Context, backtestID string, result ApplyResult) (PersistedCounts, error)
	Reconcile(ctx context.Context, backtestID string, checkpointed PersistedCounts) error
}
