package backtest

import "time"

// Option configures a Config before it is passed to NewWorker. Following
// the teacher's functional-options pattern, Global state (Design Notes:
// "specify as a single configuration structure passed at construction,
// not as hidden process-wide mutables") lives entirely in Config rather
// than package-level variables.
type Option func(*Config)

// Config bundles every tunable named in External Interfaces §
// Configuration, plus the concurrency knob described in § Concurrency &
// Resource Model.
type Config struct {
	// CheckpointInterval is the number of candle steps between
	// checkpoint writes. Default: 100.
	CheckpointInterval int

	// MaxCheckpointAge is the duration after which a checkpoint is
	// considered stale and discarded on recovery. Default: 7 days.
	MaxCheckpointAge time.Duration

	// MaxAutoResumeCount bounds automatic recoveries after crashes.
	// Default: 3.
	MaxAutoResumeCount int

	// PauseKeyTTL is the TTL applied to pause flags written to the
	// shared KV store. Default: 3600s.
	PauseKeyTTL time.Duration

	// MaxConcurrentBacktests bounds the number of job slots a single
	// Worker process runs at once. Default: 8.
	MaxConcurrentBacktests int

	// LeaseDuration bounds how long a Worker may hold a job lease
	// before it is considered dead and re-offered. Default: 5 minutes.
	LeaseDuration time.Duration

	// LeaseRetryPolicy bounds the backoff applied between consecutive
	// failed queue.Lease attempts (transient infrastructure errors only
	// — the Worker never retries individual candles). Default:
	// DefaultInfraRetryPolicy().
	LeaseRetryPolicy InfraRetryPolicy
}

// DefaultConfig returns the configuration in effect when no Options are
// supplied, matching the defaults enumerated in External Interfaces.
func DefaultConfig() Config {
	return Config{
		CheckpointInterval:     100,
		MaxCheckpointAge:       7 * 24 * time.Hour,
		MaxAutoResumeCount:     3,
		PauseKeyTTL:            3600 * time.Second,
		MaxConcurrentBacktests: 8,
		LeaseDuration:          5 * time.Minute,
		LeaseRetryPolicy:       DefaultInfraRetryPolicy(),
	}
}

// NewConfig applies opts over DefaultConfig, in order.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithCheckpointInterval overrides the number of candle steps between
// checkpoint writes.
func WithCheckpointInterval(steps int) Option {
	return func(c *Config) { c.CheckpointInterval = steps }
}

// WithMaxCheckpointAge overrides the staleness window beyond which a
// checkpoint is discarded rather than resumed from.
func WithMaxCheckpointAge(d time.Duration) Option {
	return func(c *Config) { c.MaxCheckpointAge = d }
}

// WithMaxAutoResumeCount overrides the cap on automatic recoveries
// after crashes (MAX_AUTO_RESUME_COUNT).
func WithMaxAutoResumeCount(n int) Option {
	return func(c *Config) { c.MaxAutoResumeCount = n }
}

// WithPauseKeyTTL overrides the TTL applied to pause flags.
func WithPauseKeyTTL(d time.Duration) Option {
	return func(c *Config) { c.PauseKeyTTL = d }
}

// WithMaxConcurrentBacktests overrides the number of concurrent job
// slots a single Worker process runs.
func WithMaxConcurrentBacktests(n int) Option {
	return func(c *Config) { c.MaxConcurrentBacktests = n }
}

// WithLeaseDuration overrides how long a job lease is held before it is
// considered abandoned.
func WithLeaseDuration(d time.Duration) Option {
	return func(c *Config) { c.LeaseDuration = d }
}

// WithLeaseRetryPolicy overrides the backoff policy applied between
// consecutive failed queue.Lease attempts.
func WithLeaseRetryPolicy(p InfraRetryPolicy) Option {
	return func(c *Config) { c.LeaseRetryPolicy = p }
}
