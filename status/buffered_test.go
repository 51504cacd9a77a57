package status

import (
	"context"
	"testing"
)

func TestBufferedEmitter_GetHistoryReturnsPublishOrder(t *testing.T) {
	e := NewBufferedEmitter()
	e.Publish(Event{BacktestID: "bt-1", Kind: Queued})
	e.Publish(Event{BacktestID: "bt-1", Kind: Running})
	e.Publish(Event{BacktestID: "bt-2", Kind: Queued})

	history := e.GetHistory("bt-1")
	if len(history) != 2 {
		t.Fatalf("expected 2 events for bt-1, got %d", len(history))
	}
	if history[0].Kind != Queued || history[1].Kind != Running {
		t.Fatalf("expected publish order preserved, got %+v", history)
	}
}

func TestBufferedEmitter_RoomsAreIsolated(t *testing.T) {
	e := NewBufferedEmitter()
	e.Publish(Event{BacktestID: "bt-1", Kind: Queued})

	if len(e.GetHistory("bt-2")) != 0 {
		t.Fatal("expected an unrelated backtest id to have empty history")
	}
}

func TestBufferedEmitter_GetHistoryWithFilter(t *testing.T) {
	e := NewBufferedEmitter()
	e.Publish(Event{BacktestID: "bt-1", Kind: Progress, Index: 1})
	e.Publish(Event{BacktestID: "bt-1", Kind: Progress, Index: 5})
	e.Publish(Event{BacktestID: "bt-1", Kind: Completed, Index: 10})

	min := 2
	filtered := e.GetHistoryWithFilter("bt-1", HistoryFilter{Kind: Progress, MinIndex: &min})
	if len(filtered) != 1 || filtered[0].Index != 5 {
		t.Fatalf("expected a single progress event with index >= 2, got %+v", filtered)
	}
}

func TestBufferedEmitter_ClearOneRoom(t *testing.T) {
	e := NewBufferedEmitter()
	e.Publish(Event{BacktestID: "bt-1", Kind: Queued})
	e.Publish(Event{BacktestID: "bt-2", Kind: Queued})

	e.Clear("bt-1")

	if len(e.GetHistory("bt-1")) != 0 {
		t.Fatal("expected bt-1 history to be cleared")
	}
	if len(e.GetHistory("bt-2")) != 1 {
		t.Fatal("expected bt-2 history to survive clearing bt-1")
	}
}

func TestBufferedEmitter_ClearAllRooms(t *testing.T) {
	e := NewBufferedEmitter()
	e.Publish(Event{BacktestID: "bt-1", Kind: Queued})
	e.Publish(Event{BacktestID: "bt-2", Kind: Queued})

	e.Clear("")

	if len(e.GetHistory("bt-1")) != 0 || len(e.GetHistory("bt-2")) != 0 {
		t.Fatal("expected every room cleared when backtestID is empty")
	}
}

func TestBufferedEmitter_PublishBatch(t *testing.T) {
	e := NewBufferedEmitter()
	events := []Event{
		{BacktestID: "bt-1", Kind: Queued},
		{BacktestID: "bt-1", Kind: Running},
	}
	if err := e.PublishBatch(context.Background(), events); err != nil {
		t.Fatalf("PublishBatch: %v", err)
	}
	if len(e.GetHistory("bt-1")) != 2 {
		t.Fatalf("expected both batched events recorded, got %d", len(e.GetHistory("bt-1")))
	}
}
