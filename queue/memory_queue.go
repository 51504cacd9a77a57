package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memRecord struct {
	job    Job
	lockBy string
	opts   Options
}

// MemQueue is an in-process Queue implementation used by tests that
// exercise Worker/RecoveryService without a Redis instance, the same
// role the teacher's store.MemStore plays for engine tests.
type MemQueue struct {
	mu       sync.Mutex
	records  map[string]*memRecord
	waiting  []string
	leaseTTL time.Duration
}

// NewMemQueue constructs an empty MemQueue.
func NewMemQueue(leaseDuration time.Duration) *MemQueue {
	return &MemQueue{
		records:  make(map[string]*memRecord),
		leaseTTL: leaseDuration,
	}
}

func (q *MemQueue) Enqueue(_ context.Context, jobID string, payload any, opts Options) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if rec, ok := q.records[jobID]; ok && !rec.job.State.Terminal() {
		return ErrNonTerminalExists
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.records[jobID] = &memRecord{job: Job{JobID: jobID, Payload: encoded, State: Waiting}, opts: opts}
	q.waiting = append(q.waiting, jobID)
	return nil
}

func (q *MemQueue) Lease(ctx context.Context, workerID string) (Job, func(context.Context) error, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if job, ok := q.tryLease(workerID); ok {
			release := func(context.Context) error {
				q.mu.Lock()
				defer q.mu.Unlock()
				if rec, ok := q.records[job.JobID]; ok {
					rec.lockBy = ""
				}
				return nil
			}
			return job, release, nil
		}

		select {
		case <-ctx.Done():
			return Job{}, nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *MemQueue) tryLease(workerID string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.waiting) > 0 {
		jobID := q.waiting[0]
		q.waiting = q.waiting[1:]

		rec, ok := q.records[jobID]
		if !ok || rec.job.State != Waiting {
			continue
		}

		rec.job.State = Active
		rec.lockBy = workerID
		return rec.job, true
	}
	return Job{}, false
}

// Renew verifies workerID still holds jobID's lease. MemQueue never
// expires a lease on its own (it has no sweep), so there is no TTL to
// actually extend; Renew exists here purely to detect the case a real
// queue would flag — the lease having already moved to another worker,
// e.g. after a concurrent ForceRemove+Enqueue reassigned the job.
func (q *MemQueue) Renew(_ context.Context, jobID, workerID string, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[jobID]
	if !ok || rec.lockBy != workerID {
		return ErrLeaseLost
	}
	return nil
}

func (q *MemQueue) GetJob(_ context.Context, jobID string) (Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[jobID]
	if !ok {
		return Job{}, false, nil
	}
	return rec.job, true, nil
}

func (q *MemQueue) ForceRemove(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.records, jobID)
	for i, id := range q.waiting {
		if id == jobID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
	return nil
}

// Complete marks jobID Completed, removing the record immediately if its
// RemoveOnComplete option was set.
func (q *MemQueue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[jobID]
	if !ok {
		return nil
	}
	if rec.opts.RemoveOnComplete {
		delete(q.records, jobID)
		return nil
	}
	rec.job.State = Completed
	return nil
}

// Fail marks jobID Failed, removing the record immediately if its
// RemoveOnFail option is zero; otherwise the record is retained for
// forensics.
func (q *MemQueue) Fail(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	rec, ok := q.records[jobID]
	if !ok {
		return nil
	}
	if rec.opts.RemoveOnFail == 0 {
		delete(q.records, jobID)
		return nil
	}
	rec.job.State = Failed
	return nil
}
