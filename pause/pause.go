// Package pause implements PauseCoordinator: a thin wrapper over the
// shared KV store (the same one backing the queue's locks) that
// publishes and checks pause flags so a running worker cooperatively
// yields at the next checkpoint boundary.
package pause

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/replaycore/backtest-core/kv"
)

// ErrUnavailable is returned by SetPause when the KV store cannot be
// reached. Pausing is a user action requiring confirmation, so this
// error is never swallowed.
var ErrUnavailable = errors.New("kv store unavailable")

func pauseKey(backtestID string) string {
	return "backtest:pause:" + backtestID
}

// Coordinator implements the three pause operations named in Component
// Design §4.5, each with a distinct error policy.
type Coordinator struct {
	store kv.Store
	ttl   time.Duration
}

// NewCoordinator wraps store, defaulting newly-set pause flags to ttl
// (External Interfaces default: 3600s).
func NewCoordinator(store kv.Store, ttl time.Duration) *Coordinator {
	return &Coordinator{store: store, ttl: ttl}
}

// SetPause writes the pause flag with TTL. It fails loudly if the KV
// store is unreachable: pausing is a user action requiring
// confirmation.
func (c *Coordinator) SetPause(ctx context.Context, backtestID string) error {
	if err := c.store.Set(ctx, pauseKey(backtestID), "true", c.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsPauseRequested reads the pause flag. If the KV store is
// unreachable, it returns false — the safe default is to keep
// processing and checkpoint again soon. This method never returns an
// error to the caller.
func (c *Coordinator) IsPauseRequested(ctx context.Context, backtestID string) bool {
	_, found, err := c.store.Get(ctx, pauseKey(backtestID))
	if err != nil {
		return false
	}
	return found
}

// ClearPause deletes the pause flag. If the KV store is unreachable, it
// returns a non-nil error but never panics; the key carries a TTL and
// will expire on its own even if this call fails.
func (c *Coordinator) ClearPause(ctx context.Context, backtestID string) error {
	if err := c.store.Delete(ctx, pauseKey(backtestID)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// TrySetResult is the {success, error} pair TrySetPause returns for
// callers that want non-throwing semantics.
type TrySetResult struct {
	Success bool
	Err     error
}

// TrySetPause is a non-throwing variant of SetPause.
func (c *Coordinator) TrySetPause(ctx context.Context, backtestID string) TrySetResult {
	if err := c.SetPause(ctx, backtestID); err != nil {
		return TrySetResult{Success: false, Err: err}
	}
	return TrySetResult{Success: true}
}
