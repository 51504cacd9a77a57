package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replaycore/backtest-core/kv"
)

// RedisQueue implements Queue over a Redis list (FIFO ordering for
// waiting jobs), a Redis hash per job (state machine), and kv.Store
// lock keys for leases — grounded on the retrieved go-redis-work-queue
// reference project's QueueBackend/Job shape.
type RedisQueue struct {
	client        redis.UniversalClient
	locks         kv.Store
	prefix        string
	queueName     string
	leaseDuration time.Duration
	pollInterval  time.Duration
}

// NewRedisQueue constructs a RedisQueue. locks is typically a
// kv.RedisStore wrapping the same client, so lease locks live in the
// same shared KV store the PauseCoordinator uses, as required by
// External Interfaces.
func NewRedisQueue(client redis.UniversalClient, locks kv.Store, prefix, queueName string, leaseDuration time.Duration) *RedisQueue {
	return &RedisQueue{
		client:        client,
		locks:         locks,
		prefix:        prefix,
		queueName:     queueName,
		leaseDuration: leaseDuration,
		pollInterval:  200 * time.Millisecond,
	}
}

func (q *RedisQueue) jobKey(jobID string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, q.queueName, jobID)
}

func (q *RedisQueue) lockKey(jobID string) string {
	return q.jobKey(jobID) + ":lock"
}

func (q *RedisQueue) waitingListKey() string {
	return fmt.Sprintf("%s:%s:waiting", q.prefix, q.queueName)
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, payload any, opts Options) error {
	if existing, found, err := q.GetJob(ctx, jobID); err != nil {
		return err
	} else if found && !existing.State.Terminal() {
		return ErrNonTerminalExists
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(jobID), map[string]any{
		"state":            string(Waiting),
		"payload":          encoded,
		"removeOnComplete": opts.RemoveOnComplete,
		"removeOnFail":     opts.RemoveOnFail,
	})
	pipe.RPush(ctx, q.waitingListKey(), jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) Lease(ctx context.Context, workerID string) (Job, func(ctx context.Context) error, error) {
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		jobID, err := q.client.LPop(ctx, q.waitingListKey()).Result()
		if err == nil && jobID != "" {
			job, found, err := q.GetJob(ctx, jobID)
			if err != nil {
				return Job{}, nil, err
			}
			if !found || job.State != Waiting {
				// Stale list entry left by a concurrent force-remove; skip.
				continue
			}

			ok, err := q.locks.SetNX(ctx, q.lockKey(jobID), workerID, q.leaseDuration)
			if err != nil {
				return Job{}, nil, err
			}
			if !ok {
				// Someone else's lease is still live; put the job back and
				// keep looking.
				q.client.RPush(ctx, q.waitingListKey(), jobID)
				continue
			}

			if err := q.client.HSet(ctx, q.jobKey(jobID), "state", string(Active)).Err(); err != nil {
				return Job{}, nil, err
			}
			job.State = Active

			release := func(ctx context.Context) error {
				return q.locks.Delete(ctx, q.lockKey(jobID))
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

// Renew resets jobID's lock TTL to duration, provided workerID is
// still the recorded holder. Returns ErrLeaseLost if the lock expired
// and was reassigned, or was broken by a concurrent ForceRemove, so the
// caller can stop processing rather than risk running alongside a
// second worker holding the same job.
func (q *RedisQueue) Renew(ctx context.Context, jobID, workerID string, duration time.Duration) error {
	holder, found, err := q.locks.Get(ctx, q.lockKey(jobID))
	if err != nil {
		return err
	}
	if !found || holder != workerID {
		return ErrLeaseLost
	}

	extended, err := q.locks.Expire(ctx, q.lockKey(jobID), duration)
	if err != nil {
		return err
	}
	if !extended {
		return ErrLeaseLost
	}
	return nil
}

func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (Job, bool, error) {
	values, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(values) == 0 {
		return Job{}, false, nil
	}

	return Job{
		JobID:   jobID,
		Payload: json.RawMessage(values["payload"]),
		State:   State(values["state"]),
	}, true, nil
}

// ForceRemove follows the algorithm in Component Design §4.1: attempt
// deletion, and on a "locked by other worker" response, delete the lock
// key directly via the shared KV store and retry once.
func (q *RedisQueue) ForceRemove(ctx context.Context, jobID string) error {
	if err := q.tryRemove(ctx, jobID); err == nil {
		return nil
	} else if err != ErrLocked {
		return err
	}

	if err := q.locks.Delete(ctx, q.lockKey(jobID)); err != nil {
		return fmt.Errorf("break stale lock for %s: %w", jobID, err)
	}

	return q.tryRemove(ctx, jobID)
}

// Complete marks jobID Completed, deleting the record immediately if it
// was enqueued with RemoveOnComplete.
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	removeOnComplete, err := q.client.HGet(ctx, q.jobKey(jobID), "removeOnComplete").Bool()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("complete %s: %w", jobID, err)
	}
	if removeOnComplete {
		return q.client.Del(ctx, q.jobKey(jobID)).Err()
	}
	return q.client.HSet(ctx, q.jobKey(jobID), "state", string(Completed)).Err()
}

// Fail marks jobID Failed, deleting the record immediately if it was
// enqueued with a zero RemoveOnFail; otherwise the record is retained
// for forensics.
func (q *RedisQueue) Fail(ctx context.Context, jobID string) error {
	removeOnFail, err := q.client.HGet(ctx, q.jobKey(jobID), "removeOnFail").Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("fail %s: %w", jobID, err)
	}
	if removeOnFail == 0 {
		return q.client.Del(ctx, q.jobKey(jobID)).Err()
	}
	return q.client.HSet(ctx, q.jobKey(jobID), "state", string(Failed)).Err()
}

func (q *RedisQueue) tryRemove(ctx context.Context, jobID string) error {
	_, locked, err := q.locks.Get(ctx, q.lockKey(jobID))
	if err != nil {
		return err
	}
	if locked {
		return ErrLocked
	}

	pipe := q.client.TxPipeline()
	pipe.Del(ctx, q.jobKey(jobID))
	pipe.LRem(ctx, q.waitingListKey(), 0, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("force remove %s: %w", jobID, err)
	}
	return nil
}
