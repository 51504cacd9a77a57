// Package control implements the public worker/recovery APIs named in
// External Interfaces: submitting a new backtest, requesting a
// cooperative pause, and resuming a paused or incomplete one. It is the
// thin seam an HTTP/WebSocket layer (out of scope for this module) sits
// behind.
package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/replaycore/backtest-core/backtest"
	"github.com/replaycore/backtest-core/pause"
	"github.com/replaycore/backtest-core/queue"
	"github.com/replaycore/backtest-core/status"
	"github.com/replaycore/backtest-core/store"
)

// ErrForbidden indicates the caller does not own the backtest it tried
// to act on.
var ErrForbidden = errors.New("caller does not own this backtest")

// ErrNotResumable indicates the backtest is not in a state Resume can
// act on: it must be PAUSED, or COMPLETED with an incomplete timestamp
// count (a prior run that finished short of TotalTimestampCount).
var ErrNotResumable = errors.New("backtest is not resumable")

// Service ties the durable store, queue, and pause coordinator together
// behind the three operations an embedding application calls directly:
// Submit, Pause, and Resume. RecoverOrphaned lives separately in the
// recovery package since it runs once at boot, before any Service call
// is accepted.
type Service struct {
	store  store.Store
	queue  queue.Queue
	pauser *pause.Coordinator
	stream status.Emitter
	engine *backtest.CheckpointEngine
	cfg    backtest.Config
}

// NewService constructs a Service over the given collaborators.
func NewService(st store.Store, q queue.Queue, pauser *pause.Coordinator, stream status.Emitter, cfg backtest.Config) *Service {
	return &Service{
		store:  st,
		queue:  q,
		pauser: pauser,
		stream: stream,
		engine: backtest.NewCheckpointEngine(),
		cfg:    cfg,
	}
}

// Submit creates a new Backtest row in StatusPending and enqueues its
// execution job. If b.ID is empty, Submit generates one; a caller that
// wants an idempotent resubmission (e.g. a client retry) should set its
// own id, since the id becomes the job id and enforces JobQueue's
// at-most-one-per-backtest invariant.
func (s *Service) Submit(ctx context.Context, b backtest.Backtest) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.Status = backtest.StatusPending
	b.ProcessedTimestampCount = 0
	if err := s.store.Create(ctx, b); err != nil {
		return fmt.Errorf("create backtest %s: %w", b.ID, err)
	}

	payload := backtest.JobPayload{
		BacktestID:        b.ID,
		UserID:            b.Owner,
		DatasetID:         b.DatasetID,
		AlgorithmID:       b.AlgorithmID,
		DeterministicSeed: b.DeterministicSeed,
		Mode:              b.Type,
	}
	opts := queue.Options{RemoveOnComplete: true, RemoveOnFail: 50}
	if err := s.queue.Enqueue(ctx, b.ID, payload, opts); err != nil {
		return fmt.Errorf("enqueue backtest %s: %w", b.ID, err)
	}

	s.stream.Publish(status.Event{BacktestID: b.ID, Kind: status.Queued})
	return nil
}

// Pause requests that the running worker holding backtestID's lease
// cooperatively pause at its next checkpoint boundary (Component Design
// §4.5). It never returns an error: when the KV store backing the pause
// flag is unreachable, the result carries Success false and the error.
func (s *Service) Pause(ctx context.Context, backtestID string) pause.TrySetResult {
	return s.pauser.TrySetPause(ctx, backtestID)
}

// Resume validates ownership, checks the backtest is PAUSED or
// COMPLETED-with-incomplete, clears a stale checkpoint, transitions the
// backtest to PENDING, and enqueues a fresh job. It emits a Queued
// status event carrying {resumed: true, hasCheckpoint, checkpointIndex}
// (External Interfaces §6).
func (s *Service) Resume(ctx context.Context, userID, backtestID string) error {
	b, err := s.store.Get(ctx, backtestID)
	if err != nil {
		return fmt.Errorf("get backtest %s: %w", backtestID, err)
	}
	if b.Owner != userID {
		return ErrForbidden
	}

	incomplete := b.Status == backtest.StatusCompleted && b.ProcessedTimestampCount < b.TotalTimestampCount
	if b.Status != backtest.StatusPaused && !incomplete {
		return ErrNotResumable
	}

	hasCheckpoint := b.CheckpointState != nil
	checkpointIndex := -1
	if hasCheckpoint {
		if b.LastCheckpointAt != nil && s.engine.IsStale(*b.LastCheckpointAt, s.cfg.MaxCheckpointAge, time.Now()) {
			if err := s.store.ClearCheckpoint(ctx, backtestID, 0); err != nil {
				return fmt.Errorf("clear stale checkpoint for %s: %w", backtestID, err)
			}
			hasCheckpoint = false
		} else {
			checkpointIndex = b.CheckpointState.LastProcessedIndex
		}
	}

	// The prior run's queue job may still linger (e.g. a pause that was
	// never cleanly acknowledged); ForceRemove is idempotent and safe to
	// call even when no job record remains (External Interfaces §4.1).
	if err := s.queue.ForceRemove(ctx, backtestID); err != nil {
		return fmt.Errorf("force-remove lingering job for %s: %w", backtestID, err)
	}

	if err := s.store.UpdateStatus(ctx, backtestID, backtest.StatusPending, ""); err != nil {
		return fmt.Errorf("transition %s to pending: %w", backtestID, err)
	}

	payload := backtest.JobPayload{
		BacktestID:        b.ID,
		UserID:            b.Owner,
		DatasetID:         b.DatasetID,
		AlgorithmID:       b.AlgorithmID,
		DeterministicSeed: b.DeterministicSeed,
		Mode:              b.Type,
	}
	opts := queue.Options{RemoveOnComplete: true, RemoveOnFail: 50}
	if err := s.queue.Enqueue(ctx, backtestID, payload, opts); err != nil {
		return fmt.Errorf("enqueue backtest %s: %w", backtestID, err)
	}

	s.stream.Publish(status.Event{
		BacktestID: backtestID,
		Kind:       status.Queued,
		Meta: map[string]any{
			"resumed":         true,
			"hasCheckpoint":   hasCheckpoint,
			"checkpointIndex": checkpointIndex,
		},
	})
	return nil
}
