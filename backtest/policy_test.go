package backtest

import (
	"math/rand"
	"testing"
	"time"
)

func TestDefaultInfraRetryPolicy(t *testing.T) {
	p := DefaultInfraRetryPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 100ms", p.BaseDelay)
	}
	if p.MaxDelay != 5*time.Second {
		t.Errorf("MaxDelay = %v, want 5s", p.MaxDelay)
	}
}

func TestComputeBackoff_CapsAtMaxDelay(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := 100 * time.Millisecond
	max := 1 * time.Second

	d := computeBackoff(10, base, max, rng)
	if d < max {
		t.Fatalf("expected backoff >= maxDelay once exponential overruns it, got %v", d)
	}
	if d >= max+base {
		t.Fatalf("expected jitter bounded by base, got %v (max=%v base=%v)", d, max, base)
	}
}

func TestComputeBackoff_GrowsWithAttempt(t *testing.T) {
	base := 10 * time.Millisecond
	max := 10 * time.Second

	// A fixed seed makes the jitter term identical across calls, isolating
	// the exponential term's growth.
	first := computeBackoff(0, base, max, rand.New(rand.NewSource(42)))
	later := computeBackoff(3, base, max, rand.New(rand.NewSource(42)))

	if later <= first {
		t.Fatalf("expected attempt 3 backoff (%v) to exceed attempt 0 backoff (%v)", later, first)
	}
}
