// Package store persists Backtest rows and their embedded
// CheckpointState blobs durably, the collaborator the Worker and
// RecoveryService mutate exclusively while holding a job lease (or, for
// RecoveryService, before any worker has opened for leases).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/replaycore/backtest-core/backtest"
)

// ErrNotFound indicates no Backtest row exists for the given id.
var ErrNotFound = errors.New("backtest not found")

// Store is the durable persistence surface the Worker and
// RecoveryService depend on.
type Store interface {
	// Create inserts a new Backtest row, normally in StatusPending.
	Create(ctx context.Context, b backtest.Backtest) error

	// Get loads a Backtest by id, returning ErrNotFound if absent.
	Get(ctx context.Context, id string) (backtest.Backtest, error)

	// ListRecoverable returns every Backtest whose status is RUNNING,
	// PAUSED, or PENDING — the candidate set RecoveryService scans at
	// boot (Component Design §4.4 step 1).
	ListRecoverable(ctx context.Context) ([]backtest.Backtest, error)

	// UpdateStatus transitions a Backtest's status, optionally
	// recording errorMessage for a FAILED transition. This is the
	// "DB-first transition" write used throughout the Worker's state
	// machine.
	UpdateStatus(ctx context.Context, id string, status backtest.Status, errorMessage string) error

	// SaveCheckpoint performs the single atomic update described in
	// §4.2 step 5: status, checkpoint blob, lastCheckpointAt, and
	// processedCount all move together.
	SaveCheckpoint(ctx context.Context, id string, status backtest.Status, cp backtest.CheckpointState, processedCount int, at time.Time) error

	// ClearCheckpoint nulls out checkpointState and lastCheckpointAt and
	// sets processedCount to the given value — used both when a
	// checkpoint is deemed stale (§4.3 IsStale, processedCount 0) and on
	// natural completion (processedCount == totalTimestampCount).
	ClearCheckpoint(ctx context.Context, id string, processedCount int) error

	// IncrementAutoResume atomically increments autoResumeCount in the
	// backtest's config snapshot and returns the new value, preserving
	// Testable Property #6 (strictly monotonic across recoveries).
	IncrementAutoResume(ctx context.Context, id string) (int, error)
}
