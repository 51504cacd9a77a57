// Package kv provides the narrow key-value interface shared by the
// queue package's lease locks and the pause package's pause flags, as
// required by the spec's "same shared KV store" convention.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps any failure that indicates the store itself
// could not be reached (as opposed to a normal miss).
var ErrUnavailable = errors.New("kv store unavailable")

// Store is the minimal surface the backtest module needs from a
// key-value store: set-with-TTL, conditional set-if-absent, get,
// delete, and expire-refresh. Both a Redis-backed implementation and an
// in-memory fake satisfy this interface, so queue/pause can be tested
// without a network dependency.
type Store interface {
	// Get returns the value and true if key exists and is unexpired,
	// or ("", false, nil) on a clean miss. A non-nil error indicates
	// the store itself is unreachable.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes key=value with the given TTL (zero means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX writes key=value with the given TTL only if key does not
	// already exist, returning whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Expire refreshes key's TTL to ttl without altering its value,
	// returning false if key does not exist (or already expired). Used
	// to renew a lease lock in place rather than racing a Delete+SetNX
	// against a concurrent ForceRemove.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
