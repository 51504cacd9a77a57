package backtest

import (
	"errors"
	"fmt"
)

// Error taxonomy (kinds, not types): each kind below is a distinct
// exported sentinel or wrapper error so callers can errors.Is/errors.As
// rather than string-match, mirroring the teacher's
// ErrReplayMismatch/ErrNoProgress/NodeError family.

// ErrRetryBudgetExhausted indicates autoResumeCount has reached
// MAX_AUTO_RESUME_COUNT. The affected backtest is failed terminally.
var ErrRetryBudgetExhausted = errors.New("automatic recovery attempts exhausted")

// ErrNotFound indicates a store lookup found no matching record. The
// transient-infrastructure, lock-contention, KV-unavailable, and
// non-terminal-job-exists kinds in spec.md §7's taxonomy each already
// have a concrete sentinel where the condition actually arises
// (queue.ErrLocked, queue.ErrNonTerminalExists, kv.ErrUnavailable,
// pause.ErrUnavailable, store.ErrNotFound) — duplicating them here
// would just be a second name for the same error with no caller ever
// constructing the backtest-level one.
var ErrNotFound = errors.New("not found")

// StalePreconditionError reports a checkpoint that failed validation:
// checksum mismatch, out-of-bounds index, or timestamp mismatch against
// the dataset. The caller's response is always to clear the checkpoint
// and start fresh, never to fail the backtest.
type StalePreconditionError struct {
	Reason string
}

func (e *StalePreconditionError) Error() string {
	return fmt.Sprintf("stale checkpoint precondition: %s", e.Reason)
}

// IntegrityViolationError reports a backtest whose required relations
// (userId, datasetId, algorithmId) could not be resolved at recovery
// time. The affected backtest is failed terminally.
type IntegrityViolationError struct {
	BacktestID string
	Reason     string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation for backtest %s: %s", e.BacktestID, e.Reason)
}

// AlgorithmError wraps an error raised by the user-supplied
// AlgorithmEvaluator. The affected backtest is failed terminally with
// the wrapped message as ErrorMessage.
type AlgorithmError struct {
	Cause error
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("algorithm error: %v", e.Cause)
}

func (e *AlgorithmError) Unwrap() error {
	return e.Cause
}

// RecoveryError reports that a per-backtest recovery task itself
// panicked or returned an error. Per §4.4 step 3, this marks only the
// affected backtest FAILED; it never aborts the sweep.
type RecoveryError struct {
	BacktestID string
	Cause      error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery failed for backtest %s: %v", e.BacktestID, e.Cause)
}

func (e *RecoveryError) Unwrap() error {
	return e.Cause
}
