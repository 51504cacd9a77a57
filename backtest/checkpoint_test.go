package backtest

import (
	"testing"
	"time"
)

func sampleCheckpoint() CheckpointState {
	return CheckpointState{
		LastProcessedIndex:     4,
		LastProcessedTimestamp: time.Date(2024, 1, 1, 0, 4, 0, 0, time.UTC),
		Portfolio: Portfolio{
			CashBalance: 1000,
			Positions: []Position{
				{AssetID: "BTC", Quantity: 1, AverageCost: 40000},
				{AssetID: "ETH", Quantity: 2, AverageCost: 2500},
			},
		},
		PeakValue:       1500,
		MaxDrawdown:     0.1,
		RNGState:        987654321,
		PersistedCounts: PersistedCounts{Trades: 3, Signals: 5, Fills: 3},
	}
}

func sampleTimestamps() []time.Time {
	ts := make([]time.Time, 10)
	for i := range ts {
		ts[i] = time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)
	}
	return ts
}

func TestCheckpointEngine_BuildDeterministic(t *testing.T) {
	engine := NewCheckpointEngine()

	a, err := engine.Build(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := engine.Build(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Checksum != b.Checksum {
		t.Fatalf("expected identical checksums, got %s and %s", a.Checksum, b.Checksum)
	}
	if len(a.Checksum) != 16 {
		t.Fatalf("expected 16-char checksum, got %d chars", len(a.Checksum))
	}
}

func TestCheckpointEngine_BuildOrderInvariant(t *testing.T) {
	engine := NewCheckpointEngine()

	forward := sampleCheckpoint()
	reversed := sampleCheckpoint()
	reversed.Portfolio.Positions = []Position{
		forward.Portfolio.Positions[1],
		forward.Portfolio.Positions[0],
	}

	a, err := engine.Build(forward)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := engine.Build(reversed)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Checksum != b.Checksum {
		t.Fatal("expected checksum to be invariant under position insertion order")
	}
}

func TestCheckpointEngine_ValidateChecksumMismatch(t *testing.T) {
	engine := NewCheckpointEngine()

	built, err := engine.Build(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	built.Checksum = "0000000000000000"

	result := engine.Validate(built, sampleTimestamps())
	if result.Valid {
		t.Fatal("expected checksum mismatch to be invalid")
	}
	if result.Reason != "checksum mismatch" {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
}

func TestCheckpointEngine_ValidateOutOfBounds(t *testing.T) {
	engine := NewCheckpointEngine()

	cp := sampleCheckpoint()
	cp.LastProcessedIndex = 999
	built, err := engine.Build(cp)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result := engine.Validate(built, sampleTimestamps())
	if result.Valid || result.Reason != "out of bounds" {
		t.Fatalf("expected out of bounds, got %+v", result)
	}
}

func TestCheckpointEngine_ValidateTimestampMismatch(t *testing.T) {
	engine := NewCheckpointEngine()

	built, err := engine.Build(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	timestamps := sampleTimestamps()
	timestamps[built.LastProcessedIndex] = timestamps[built.LastProcessedIndex].Add(time.Hour)

	result := engine.Validate(built, timestamps)
	if result.Valid || result.Reason != "timestamp mismatch" {
		t.Fatalf("expected timestamp mismatch, got %+v", result)
	}
}

func TestCheckpointEngine_ValidateValid(t *testing.T) {
	engine := NewCheckpointEngine()

	built, err := engine.Build(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	result := engine.Validate(built, sampleTimestamps())
	if !result.Valid {
		t.Fatalf("expected valid, got reason %q", result.Reason)
	}
}

func TestCheckpointEngine_RestoreRoundTrip(t *testing.T) {
	engine := NewCheckpointEngine()
	built, err := engine.Build(sampleCheckpoint())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	restored := engine.Restore(built)
	if restored.RNGState != built.RNGState {
		t.Fatalf("RNGState mismatch: %d != %d", restored.RNGState, built.RNGState)
	}
	if restored.PersistedCounts != built.PersistedCounts {
		t.Fatalf("PersistedCounts mismatch: %+v != %+v", restored.PersistedCounts, built.PersistedCounts)
	}
	if len(restored.Portfolio.Positions) != len(built.Portfolio.Positions) {
		t.Fatal("position count mismatch after restore")
	}
}

func TestCheckpointEngine_IsStale(t *testing.T) {
	engine := NewCheckpointEngine()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	if engine.IsStale(now.Add(-time.Hour), 7*24*time.Hour, now) {
		t.Fatal("one hour old should not be stale against a 7 day window")
	}
	if !engine.IsStale(now.Add(-8*24*time.Hour), 7*24*time.Hour, now) {
		t.Fatal("eight days old should be stale against a 7 day window")
	}
}
