package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/replaycore/backtest-core/pause"
	"github.com/replaycore/backtest-core/queue"
	"github.com/replaycore/backtest-core/status"
)

// Repository is the slice of the durable store a Worker needs: reading
// a backtest's current record and writing status/checkpoint
// transitions. It is declared here, narrower than the full persistence
// interface, so this package never imports the store package (which
// imports this one for the Backtest/CheckpointState types). Any
// concrete store satisfying these four methods over these types
// implements Repository without saying so.
type Repository interface {
	Get(ctx context.Context, id string) (Backtest, error)
	UpdateStatus(ctx context.Context, id string, status Status, errorMessage string) error
	SaveCheckpoint(ctx context.Context, id string, status Status, cp CheckpointState, processedCount int, at time.Time) error
	ClearCheckpoint(ctx context.Context, id string, processedCount int) error
}

// DatasetResolver resolves a job's datasetId to a concrete Dataset.
type DatasetResolver func(ctx context.Context, datasetID string) (Dataset, error)

// AlgorithmResolver resolves a job's algorithmId to a concrete
// AlgorithmEvaluator.
type AlgorithmResolver func(ctx context.Context, algorithmID string) (AlgorithmEvaluator, error)

// Worker runs the execute-backtest job-slot loop: it leases jobs from a
// queue.Queue, one candle step at a time drives a user-supplied
// AlgorithmEvaluator over a Dataset, applies the resulting signals
// through a PortfolioLedger, persists them through a ResultSink, and
// checkpoints progress so a crash mid-backtest resumes rather than
// restarts. See processJob for the per-job state machine.
type Worker struct {
	id string

	repo   Repository
	jobs   queue.Queue
	pauser *pause.Coordinator
	stream status.Emitter

	datasets   DatasetResolver
	algorithms AlgorithmResolver
	ledger     PortfolioLedger
	sink       ResultSink

	engine  *CheckpointEngine
	metrics *WorkerMetrics
	cfg     Config
}

// NewWorker constructs a Worker. id identifies this process to the
// queue's lease bookkeeping and must be unique per running worker.
func NewWorker(
	id string,
	repo Repository,
	jobs queue.Queue,
	pauser *pause.Coordinator,
	stream status.Emitter,
	datasets DatasetResolver,
	algorithms AlgorithmResolver,
	ledger PortfolioLedger,
	sink ResultSink,
	metrics *WorkerMetrics,
	cfg Config,
) *Worker {
	return &Worker{
		id:         id,
		repo:       repo,
		jobs:       jobs,
		pauser:     pauser,
		stream:     stream,
		datasets:   datasets,
		algorithms: algorithms,
		ledger:     ledger,
		sink:       sink,
		engine:     NewCheckpointEngine(),
		metrics:    metrics,
		cfg:        cfg,
	}
}

// Run leases and processes jobs until ctx is canceled, bounding
// in-flight jobs to cfg.MaxConcurrentBacktests job slots (Concurrency
// & Resource Model). It returns ctx.Err() once every in-flight job has
// finished and the slot pool has drained.
func (w *Worker) Run(ctx context.Context) error {
	slots := make(chan struct{}, w.cfg.MaxConcurrentBacktests)
	var wg sync.WaitGroup
	var active int
	var mu sync.Mutex

	adjustActive := func(delta int) {
		mu.Lock()
		active += delta
		w.metrics.UpdateActiveWorkers(active)
		mu.Unlock()
	}

	leaseFailures := 0
	backoffRNG := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter timing, not security

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case slots <- struct{}{}:
		}

		job, release, err := w.jobs.Lease(ctx, w.id)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}

			// Lease failed for an infrastructure reason (Redis/DB
			// unreachable); back off before retrying rather than
			// hot-looping against a struggling dependency.
			leaseFailures++
			attempt := leaseFailures
			if attempt > w.cfg.LeaseRetryPolicy.MaxAttempts {
				attempt = w.cfg.LeaseRetryPolicy.MaxAttempts
			}
			w.metrics.IncrementBackoff("lease")
			delay := computeBackoff(attempt, w.cfg.LeaseRetryPolicy.BaseDelay, w.cfg.LeaseRetryPolicy.MaxDelay, backoffRNG)
			select {
			case <-ctx.Done():
				wg.Wait()
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		leaseFailures = 0

		wg.Add(1)
		adjustActive(1)
		go func() {
			defer wg.Done()
			defer adjustActive(-1)
			defer func() { <-slots }()
			defer release(context.Background())

			w.processJob(ctx, job)
		}()
	}
}

// processJob runs one job's full state machine: RUNNING transition,
// checkpoint validation/restore, candle-by-candle execution, periodic
// checkpoint-and-pause-check, and the terminal transition. Every
// transition is written DB-first, then streamed: a status observer may
// see a stale view for a moment but never a phantom one.
func (w *Worker) processJob(ctx context.Context, job queue.Job) {
	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return
	}
	backtestID := payload.BacktestID

	b, err := w.repo.Get(ctx, backtestID)
	if err != nil {
		return
	}
	if b.Status.Terminal() {
		return
	}

	resumed := b.CheckpointState != nil
	if err := w.repo.UpdateStatus(ctx, backtestID, StatusRunning, ""); err != nil {
		return
	}

	dataset, err := w.datasets(ctx, payload.DatasetID)
	if err != nil {
		w.fail(ctx, backtestID, fmt.Errorf("resolve dataset %s: %w", payload.DatasetID, err))
		return
	}
	evaluator, err := w.algorithms(ctx, payload.AlgorithmID)
	if err != nil {
		w.fail(ctx, backtestID, fmt.Errorf("resolve algorithm %s: %w", payload.AlgorithmID, err))
		return
	}

	timestamps, err := dataset.Timestamps(ctx)
	if err != nil {
		w.fail(ctx, backtestID, err)
		return
	}
	if len(timestamps) == 0 {
		_ = w.repo.ClearCheckpoint(ctx, backtestID, 0)
		_ = w.repo.UpdateStatus(ctx, backtestID, StatusCompleted, "")
		_ = w.jobs.Complete(ctx, backtestID)
		w.stream.Publish(status.Event{BacktestID: backtestID, Kind: status.Completed})
		return
	}

	startIndex, portfolio, rng, peakValue, maxDrawdown, persisted, rejection := w.startingState(b, payload, timestamps)

	runningMeta := map[string]any{"resumed": resumed}
	if rejection != nil {
		runningMeta["checkpointRejected"] = rejection.Error()
	}
	w.stream.Publish(status.Event{
		BacktestID: backtestID,
		Kind:       status.Running,
		Meta:       runningMeta,
	})

	if startIndex > 0 {
		// The crash that interrupted the prior run may have left result
		// rows un-persisted past CheckpointState.PersistedCounts; the
		// sink owns the truncate-vs-reinsert decision (Design Notes,
		// "result-row reconciliation").
		if err := w.sink.Reconcile(ctx, backtestID, persisted); err != nil {
			w.fail(ctx, backtestID, fmt.Errorf("reconcile persisted rows: %w", err))
			return
		}
	}

	// recentSignals holds one checkpoint interval's worth of per-step
	// signal hashes, a rolling determinism audit trail surfaced on each
	// checkpoint's Progress event so an operator can spot an algorithm
	// that drew randomness outside rng (Testable Properties #5).
	recentSignals := NewRingBuffer[SignalRecord](w.cfg.CheckpointInterval)

	for i := startIndex; i < len(timestamps); i++ {
		if ctx.Err() != nil {
			return
		}

		stepStart := time.Now()

		candle, err := dataset.CandleAt(ctx, i)
		if err != nil {
			w.metrics.RecordStepLatency(backtestID, time.Since(stepStart), "error")
			w.fail(ctx, backtestID, err)
			return
		}

		snapshot := MarketSnapshot{
			Index:     i,
			Timestamp: candle.Timestamp,
			Prices:    map[string]float64{payload.DatasetID: candle.Close},
		}

		signals, err := evaluator.Evaluate(ctx, portfolio, snapshot, rng)
		if err != nil {
			w.metrics.RecordStepLatency(backtestID, time.Since(stepStart), "error")
			algErr := &AlgorithmError{Cause: err}
			w.repo.UpdateStatus(ctx, backtestID, StatusFailed, algErr.Error())
			_ = w.jobs.Fail(ctx, backtestID)
			w.stream.Publish(status.Event{BacktestID: backtestID, Kind: status.Failed, Index: i})
			return
		}

		result, err := w.ledger.Apply(ctx, portfolio, signals)
		if err != nil {
			w.metrics.RecordStepLatency(backtestID, time.Since(stepStart), "error")
			w.fail(ctx, backtestID, err)
			return
		}
		portfolio = result.Portfolio

		if rec, recErr := recordSignal(i, signals); recErr == nil {
			recentSignals.Push(rec)
		}

		counts, err := w.sink.Persist(ctx, backtestID, result)
		if err != nil {
			w.metrics.RecordStepLatency(backtestID, time.Since(stepStart), "error")
			w.fail(ctx, backtestID, err)
			return
		}
		persisted = counts

		if value := portfolioValue(portfolio); value > peakValue {
			peakValue = value
		} else if peakValue > 0 {
			if drawdown := (peakValue - portfolioValue(portfolio)) / peakValue; drawdown > maxDrawdown {
				maxDrawdown = drawdown
			}
		}

		w.metrics.RecordStepLatency(backtestID, time.Since(stepStart), "success")

		// A backtest that genuinely takes longer than LeaseDuration to
		// process must renew its lease every step or the lock TTLs out
		// while this goroutine is still running it, letting a concurrent
		// ForceRemove+Enqueue (e.g. control.Resume, a RecoverOrphaned
		// sweep) hand the same job to a second worker. On ErrLeaseLost
		// the lease has already moved, so this worker stops without
		// touching status/queue state — writing Failed here would race
		// the new owner's own transitions.
		if err := w.jobs.Renew(ctx, backtestID, w.id, w.cfg.LeaseDuration); err != nil {
			return
		}

		processedCount := i + 1
		atBoundary := i > 0 && i%w.cfg.CheckpointInterval == 0
		atTerminal := i == len(timestamps)-1
		if atBoundary || atTerminal {
			cp, err := w.engine.Build(CheckpointState{
				LastProcessedIndex:     i,
				LastProcessedTimestamp: candle.Timestamp,
				Portfolio:              portfolio,
				PeakValue:              peakValue,
				MaxDrawdown:            maxDrawdown,
				RNGState:               rng.State(),
				PersistedCounts:        persisted,
			})
			if err != nil {
				w.fail(ctx, backtestID, err)
				return
			}

			now := time.Now()
			if err := w.repo.SaveCheckpoint(ctx, backtestID, StatusRunning, cp, processedCount, now); err != nil {
				w.fail(ctx, backtestID, err)
				return
			}
			w.metrics.IncrementCheckpoints(backtestID)
			var lastSignalHash string
			if items := recentSignals.Items(); len(items) > 0 {
				lastSignalHash = items[len(items)-1].Hash
			}
			w.stream.Publish(status.Event{
				BacktestID: backtestID,
				Kind:       status.Progress,
				Index:      i,
				Fraction:   float64(processedCount) / float64(len(timestamps)),
				Meta:       map[string]any{"lastSignalHash": lastSignalHash, "auditedSteps": recentSignals.Len()},
			})

			if !atTerminal && w.pauser.IsPauseRequested(ctx, backtestID) {
				if err := w.repo.UpdateStatus(ctx, backtestID, StatusPaused, ""); err != nil {
					return
				}
				_ = w.jobs.Complete(ctx, backtestID)
				w.stream.Publish(status.Event{BacktestID: backtestID, Kind: status.Paused, Index: i})
				_ = w.pauser.ClearPause(ctx, backtestID)
				return
			}
		}
	}

	if err := w.repo.ClearCheckpoint(ctx, backtestID, len(timestamps)); err != nil {
		return
	}
	if err := w.repo.UpdateStatus(ctx, backtestID, StatusCompleted, ""); err != nil {
		return
	}
	_ = w.jobs.Complete(ctx, backtestID)
	w.stream.Publish(status.Event{BacktestID: backtestID, Kind: status.Completed})
}

// startingState resolves the cold-start-vs-resume split: a valid
// checkpoint restores portfolio/RNG/persisted-count state and resumes
// one step past LastProcessedIndex; a missing, invalid, or stale
// checkpoint starts fresh from index 0 with the RNG seeded from
// DeterministicSeed. rejection is non-nil only when a checkpoint was
// present but failed validation, carrying the reason for the Running
// event's audit trail.
func (w *Worker) startingState(b Backtest, payload JobPayload, timestamps []time.Time) (startIndex int, portfolio Portfolio, rng *DeterministicRNG, peakValue, maxDrawdown float64, persisted PersistedCounts, rejection error) {
	if b.CheckpointState != nil {
		result := w.engine.Validate(*b.CheckpointState, timestamps)
		if result.Valid {
			restored := w.engine.Restore(*b.CheckpointState)
			return b.CheckpointState.LastProcessedIndex + 1,
				restored.Portfolio,
				NewDeterministicRNG(restored.RNGState),
				restored.PeakValue,
				restored.MaxDrawdown,
				restored.PersistedCounts,
				nil
		}
		rejection = &StalePreconditionError{Reason: result.Reason}
	}
	return 0, Portfolio{}, NewDeterministicRNG(seedFromString(payload.DeterministicSeed)), 0, 0, PersistedCounts{}, rejection
}

func (w *Worker) fail(ctx context.Context, backtestID string, cause error) {
	_ = w.repo.UpdateStatus(ctx, backtestID, StatusFailed, cause.Error())
	_ = w.jobs.Fail(ctx, backtestID)
	w.stream.Publish(status.Event{BacktestID: backtestID, Kind: status.Failed})
}

func portfolioValue(p Portfolio) float64 {
	total := p.CashBalance
	for _, pos := range p.Positions {
		total += pos.Quantity * pos.AverageCost
	}
	return total
}
