package pause

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/replaycore/backtest-core/kv"
)

func TestCoordinator_SetAndIsPauseRequested(t *testing.T) {
	c := NewCoordinator(kv.NewMemStore(), time.Hour)
	ctx := context.Background()

	if c.IsPauseRequested(ctx, "bt-1") {
		t.Fatal("expected no pause requested before SetPause")
	}

	if err := c.SetPause(ctx, "bt-1"); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	if !c.IsPauseRequested(ctx, "bt-1") {
		t.Fatal("expected pause requested after SetPause")
	}
}

func TestCoordinator_ClearPause(t *testing.T) {
	c := NewCoordinator(kv.NewMemStore(), time.Hour)
	ctx := context.Background()

	if err := c.SetPause(ctx, "bt-1"); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	if err := c.ClearPause(ctx, "bt-1"); err != nil {
		t.Fatalf("ClearPause: %v", err)
	}
	if c.IsPauseRequested(ctx, "bt-1") {
		t.Fatal("expected no pause requested after ClearPause")
	}
}

func TestCoordinator_PauseIsScopedPerBacktest(t *testing.T) {
	c := NewCoordinator(kv.NewMemStore(), time.Hour)
	ctx := context.Background()

	if err := c.SetPause(ctx, "bt-1"); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	if c.IsPauseRequested(ctx, "bt-2") {
		t.Fatal("expected pause flag to be scoped to its own backtest id")
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("unreachable")
}
func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("unreachable")
}
func (brokenStore) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("unreachable")
}
func (brokenStore) Delete(context.Context, string) error {
	return errors.New("unreachable")
}
func (brokenStore) Expire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("unreachable")
}

func TestCoordinator_SetPauseFailsLoudlyOnKVError(t *testing.T) {
	c := NewCoordinator(brokenStore{}, time.Hour)
	if err := c.SetPause(context.Background(), "bt-1"); err == nil {
		t.Fatal("expected SetPause to surface the KV error")
	}
}

func TestCoordinator_IsPauseRequestedNeverErrorsOnKVFailure(t *testing.T) {
	c := NewCoordinator(brokenStore{}, time.Hour)
	if c.IsPauseRequested(context.Background(), "bt-1") {
		t.Fatal("expected false (not a panic or error) on KV failure")
	}
}

func TestCoordinator_TrySetPause(t *testing.T) {
	ok := NewCoordinator(kv.NewMemStore(), time.Hour)
	result := ok.TrySetPause(context.Background(), "bt-1")
	if !result.Success || result.Err != nil {
		t.Fatalf("expected success with working store, got %+v", result)
	}

	broken := NewCoordinator(brokenStore{}, time.Hour)
	result = broken.TrySetPause(context.Background(), "bt-1")
	if result.Success || result.Err == nil {
		t.Fatalf("expected failure with broken store, got %+v", result)
	}
}
