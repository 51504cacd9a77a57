// Package queue implements the durable, keyed FIFO with worker leases
// described as JobQueue: at-most-one active job per backtest id,
// lock-based worker leases, job-state inspection, and stale-lock
// breaking.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// State is a job's position in the queue's state machine.
type State string

const (
	Waiting   State = "waiting"
	Delayed   State = "delayed"
	Active    State = "active"
	Completed State = "completed"
	Failed    State = "failed"
)

// Terminal reports whether no further queue-owned transition applies.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// ErrNonTerminalExists is returned by Enqueue when a job with the same
// id already exists in a non-terminal state.
var ErrNonTerminalExists = errors.New("job already exists in a non-terminal state")

// ErrLocked is returned internally by ForceRemove's first attempt when
// the job's lease is held by a live (or stale) lock; callers never see
// this — ForceRemove retries automatically after breaking the lock.
var ErrLocked = errors.New("locked by other worker")

// ErrLeaseLost is returned by Renew when jobID's lease is no longer held
// by workerID — it expired and was reassigned, or the job was force
// removed — meaning the caller must stop processing immediately rather
// than risk a second worker running the same job concurrently.
var ErrLeaseLost = errors.New("lease no longer held by this worker")

// Options configure Enqueue, mirroring the job options named in
// External Interfaces.
type Options struct {
	// RemoveOnComplete removes the job record immediately on
	// completion rather than retaining it.
	RemoveOnComplete bool

	// RemoveOnFail controls what Fail does with the job record: zero
	// removes it immediately, any non-zero value retains it in the Failed
	// state for forensics. The value is not a cap: retained failed
	// records are never trimmed to this count.
	RemoveOnFail int
}

// Job is the durable queue record. JobID is always the backtest id,
// enforcing the at-most-one-per-id invariant.
type Job struct {
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
	State   State           `json:"state"`
}

// Queue is the JobQueue interface implementations satisfy.
type Queue interface {
	// Enqueue adds a new waiting job. It fails with
	// ErrNonTerminalExists if jobID already has a non-terminal record.
	Enqueue(ctx context.Context, jobID string, payload any, opts Options) error

	// Lease blocks until a waiting job is available, or ctx is done,
	// granting an exclusive lease to workerID bounded by leaseDuration.
	// The returned release func must be called exactly once to free
	// the lease; it is safe to call from a defer immediately after a
	// successful Lease.
	Lease(ctx context.Context, workerID string) (job Job, release func(ctx context.Context) error, err error)

	// Renew resets jobID's lease to expire duration from now, provided workerID still
	// holds it. A long-running job must call this periodically from
	// within its processing loop and stop on ErrLeaseLost: without a
	// renewal the lease eventually expires while the worker is still
	// alive, letting a concurrent ForceRemove+Enqueue hand the same job
	// to a second worker.
	Renew(ctx context.Context, jobID, workerID string, duration time.Duration) error

	// GetJob is an observational read used by RecoveryService.
	GetJob(ctx context.Context, jobID string) (Job, bool, error)

	// ForceRemove removes jobID's record regardless of lease state,
	// breaking a stale lock directly if the first removal attempt
	// reports it is held by another worker.
	ForceRemove(ctx context.Context, jobID string) error

	// Complete marks jobID Completed, the terminal state a Worker
	// reports on natural completion (and on a cooperative pause, since
	// the processing attempt that leased it is over). Honors the
	// RemoveOnComplete option recorded at Enqueue time.
	Complete(ctx context.Context, jobID string) error

	// Fail marks jobID Failed, the terminal state a Worker reports on an
	// uncaught error. Honors the RemoveOnFail option recorded at Enqueue
	// time: zero removes immediately, non-zero retains the record for
	// forensics.
	Fail(ctx context.Context, jobID string) error
}
