package indicator

import (
	"errors"
	"testing"
)

var errNotComputable = errors.New("indicator not computable")

func TestCache_HitsAvoidRecompute(t *testing.T) {
	calls := 0
	calc := func(kind Kind, params Params, upToIndex int) (Series, error) {
		calls++
		return Series{1, 2, 3}, nil
	}

	c, err := NewCache(10, calc)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if _, err := c.Get("ds-1", SMA, Params{"period": 14}, 100); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get("ds-1", SMA, Params{"period": 14}, 100); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected calc invoked once on a cache hit, called %d times", calls)
	}
}

func TestCache_ParamOrderDoesNotAffectFingerprint(t *testing.T) {
	calls := 0
	calc := func(kind Kind, params Params, upToIndex int) (Series, error) {
		calls++
		return Series{1}, nil
	}

	c, err := NewCache(10, calc)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if _, err := c.Get("ds-1", MACD, Params{"fast": 12, "slow": 26}, 50); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get("ds-1", MACD, Params{"slow": 26, "fast": 12}, 50); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected map insertion order to not affect the fingerprint, called calc %d times", calls)
	}
}

func TestCache_DistinctUpToIndexMisses(t *testing.T) {
	calls := 0
	calc := func(kind Kind, params Params, upToIndex int) (Series, error) {
		calls++
		return Series{float64(upToIndex)}, nil
	}

	c, err := NewCache(10, calc)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if _, err := c.Get("ds-1", EMA, Params{"period": 9}, 10); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get("ds-1", EMA, Params{"period": 9}, 20); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected distinct upToIndex to miss the cache, called calc %d times", calls)
	}
}

func TestCache_PropagatesCalculatorError(t *testing.T) {
	wantErr := errNotComputable
	calc := func(kind Kind, params Params, upToIndex int) (Series, error) {
		return nil, wantErr
	}

	c, err := NewCache(10, calc)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	_, err = c.Get("ds-1", RSI, Params{"period": 14}, 5)
	if err != wantErr {
		t.Fatalf("expected calculator error propagated, got %v", err)
	}
}

func TestCache_PurgeEvictsEverything(t *testing.T) {
	calc := func(kind Kind, params Params, upToIndex int) (Series, error) {
		return Series{1}, nil
	}
	c, err := NewCache(10, calc)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if _, err := c.Get("ds-1", SD, Params{}, 1); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected Len() == 1, got %d", c.Len())
	}

	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected Len() == 0 after Purge, got %d", c.Len())
	}
}
