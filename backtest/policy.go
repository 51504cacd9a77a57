package backtest

import (
	"math/rand"
	"time"
)

// InfraRetryPolicy configures exponential backoff with jitter for
// transient KV/queue/DB errors. The Worker itself never retries
// individual candles (Error Handling Design: "the Worker does not
// retry individual candles"); this policy is consumed only by
// Worker.Run's backoff between failed queue Lease attempts
// (Config.LeaseRetryPolicy).
type InfraRetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultInfraRetryPolicy returns a conservative three-attempt policy
// suitable for transient Redis/SQL hiccups.
func DefaultInfraRetryPolicy() InfraRetryPolicy {
	return InfraRetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// computeBackoff calculates the delay before retry attempt, using
// exponential backoff capped at maxDelay plus jitter in [0, base) to
// avoid synchronized retries across concurrently-failing workers.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	exponential := base * (1 << attempt)
	if exponential > maxDelay {
		exponential = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter timing, not security
	}

	return exponential + jitter
}
