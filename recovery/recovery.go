// Package recovery implements RecoveryService: on process boot, scans
// the persistent store for backtests left in non-terminal states,
// reconciles them against the queue, and re-enqueues or fails them.
// RecoveryService must finish before the Worker opens for new leases
// (Component Design §4.4).
package recovery

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/replaycore/backtest-core/backtest"
	"github.com/replaycore/backtest-core/queue"
	"github.com/replaycore/backtest-core/store"
)

// Service runs the boot-time reconciliation sweep. It assumes no
// overlapping deployments — after restart, a job record observed
// "active" is always treated as stale (Design Notes, Open Question:
// "PENDING-with-active-job semantics"). Deployments wanting rolling
// restarts must add a worker-heartbeat on the lock key before relaxing
// this rule.
type Service struct {
	store  store.Store
	queue  queue.Queue
	engine *backtest.CheckpointEngine
	cfg    backtest.Config
}

// NewService constructs a Service over the given store, queue, and
// configuration.
func NewService(st store.Store, q queue.Queue, cfg backtest.Config) *Service {
	return &Service{
		store:  st,
		queue:  q,
		engine: backtest.NewCheckpointEngine(),
		cfg:    cfg,
	}
}

// Outcome records what happened to one candidate backtest during a
// sweep, for callers that want to log or assert on aggregate results.
type Outcome struct {
	BacktestID string
	Requeued   bool
	Failed     bool
	Skipped    bool
	Attempt    int
	Err        error
}

// RecoverOrphaned runs the full reconciliation algorithm once. It is
// idempotent and safe to call once per boot; calling it twice in
// succession produces no additional queue jobs beyond the first call,
// since the second call's candidates will already be PENDING with a
// waiting job and hit the PENDING-skip guard.
//
// Individual per-backtest failures never abort the sweep (§4.4 step 3):
// each candidate runs in its own errgroup goroutine, and a goroutine
// that panics or errors only marks its own backtest FAILED.
func (s *Service) RecoverOrphaned(ctx context.Context) ([]Outcome, error) {
	candidates, err := s.store.ListRecoverable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recoverable backtests: %w", err)
	}

	outcomes := make([]Outcome, len(candidates))

	g, gctx := errgroup.WithContext(context.Background())
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					s.failWithRecoveryError(gctx, candidate.ID, err)
					outcomes[i] = Outcome{BacktestID: candidate.ID, Failed: true, Err: err}
					// Absorbed here: returning it would cancel gctx for
					// every sibling still running.
					err = nil
				}
			}()

			outcome, recErr := s.recoverOne(gctx, candidate)
			if recErr != nil {
				return recErr
			}
			outcomes[i] = outcome
			return nil
		})
	}

	// Wait only to know the sweep is complete; per-candidate errors are
	// already absorbed above and never cause Wait to abort the sweep
	// early for the remaining goroutines (they all run independently).
	_ = g.Wait()

	return outcomes, nil
}

func (s *Service) recoverOne(ctx context.Context, b backtest.Backtest) (Outcome, error) {
	// a. PENDING-skip guard.
	if b.Status == backtest.StatusPending {
		job, found, err := s.queue.GetJob(ctx, b.ID)
		if err != nil {
			return Outcome{}, err
		}
		if found && (job.State == queue.Waiting || job.State == queue.Delayed) {
			return Outcome{BacktestID: b.ID, Skipped: true}, nil
		}
		// job.State == active (or no job at all): do not skip, active
		// after restart means the old worker is dead.
	}

	// b. Retry budget.
	if b.Config.AutoResumeCount >= s.cfg.MaxAutoResumeCount {
		msg := fmt.Sprintf("%s: maximum automatic recovery attempts exceeded (%d)", backtest.ErrRetryBudgetExhausted, b.Config.AutoResumeCount)
		if err := s.store.UpdateStatus(ctx, b.ID, backtest.StatusFailed, msg); err != nil {
			return Outcome{}, err
		}
		return Outcome{BacktestID: b.ID, Failed: true}, nil
	}

	// c. Staleness.
	if b.CheckpointState != nil && b.LastCheckpointAt != nil {
		if s.engine.IsStale(*b.LastCheckpointAt, s.cfg.MaxCheckpointAge, time.Now()) {
			if err := s.store.ClearCheckpoint(ctx, b.ID, 0); err != nil {
				return Outcome{}, err
			}
		}
	}

	// d. Validate relations.
	if b.Owner == "" || b.DatasetID == "" || b.AlgorithmID == "" {
		violation := &backtest.IntegrityViolationError{BacktestID: b.ID, Reason: "missing required relations"}
		if err := s.store.UpdateStatus(ctx, b.ID, backtest.StatusFailed, violation.Error()); err != nil {
			return Outcome{}, err
		}
		return Outcome{BacktestID: b.ID, Failed: true}, nil
	}

	// e. Force-remove any lingering job.
	if err := s.queue.ForceRemove(ctx, b.ID); err != nil {
		return Outcome{}, err
	}

	// f. DB-first write to PENDING with incremented autoResumeCount.
	attempt, err := s.store.IncrementAutoResume(ctx, b.ID)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.store.UpdateStatus(ctx, b.ID, backtest.StatusPending, ""); err != nil {
		return Outcome{}, err
	}

	// g. Then enqueue a fresh job.
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
		return Outcome{}, err
	}

	return Outcome{BacktestID: b.ID, Requeued: true, Attempt: attempt}, nil
}

func (s *Service) failWithRecoveryError(ctx context.Context, backtestID string, cause error) {
	msg := (&backtest.RecoveryError{BacktestID: backtestID, Cause: cause}).Error()
	_ = s.store.UpdateStatus(ctx, backtestID, backtest.StatusFailed, msg)
}
