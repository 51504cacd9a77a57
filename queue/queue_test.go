package queue

import (
	"context"
	"testing"
	"time"
)

type samplePayload struct {
	BacktestID string `json:"backtestId"`
}

func TestMemQueue_EnqueueRejectsDuplicateNonTerminal(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{})
	if err != ErrNonTerminalExists {
		t.Fatalf("expected ErrNonTerminalExists, got %v", err)
	}
}

func TestMemQueue_LeaseFIFO(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue bt-1: %v", err)
	}
	if err := q.Enqueue(ctx, "bt-2", samplePayload{BacktestID: "bt-2"}, Options{}); err != nil {
		t.Fatalf("enqueue bt-2: %v", err)
	}

	first, release1, err := q.Lease(ctx, "worker-a")
	if err != nil {
		t.Fatalf("lease 1: %v", err)
	}
	if first.JobID != "bt-1" {
		t.Fatalf("expected FIFO order, got %s first", first.JobID)
	}
	if err := release1(ctx); err != nil {
		t.Fatalf("release 1: %v", err)
	}

	second, release2, err := q.Lease(ctx, "worker-a")
	if err != nil {
		t.Fatalf("lease 2: %v", err)
	}
	if second.JobID != "bt-2" {
		t.Fatalf("expected bt-2 second, got %s", second.JobID)
	}
	_ = release2(ctx)
}

func TestMemQueue_LeaseBlocksUntilContextDone(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := q.Lease(ctx, "worker-a")
	if err == nil {
		t.Fatal("expected Lease to return an error once the context is done with no job waiting")
	}
}

func TestMemQueue_GetJobReflectsState(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, found, err := q.GetJob(ctx, "bt-1")
	if err != nil || !found {
		t.Fatalf("GetJob: found=%v err=%v", found, err)
	}
	if job.State != Waiting {
		t.Fatalf("expected Waiting state before lease, got %s", job.State)
	}

	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}

	job, found, err = q.GetJob(ctx, "bt-1")
	if err != nil || !found {
		t.Fatalf("GetJob after lease: found=%v err=%v", found, err)
	}
	if job.State != Active {
		t.Fatalf("expected Active state after lease, got %s", job.State)
	}
}

func TestMemQueue_ForceRemove(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.ForceRemove(ctx, "bt-1"); err != nil {
		t.Fatalf("ForceRemove: %v", err)
	}

	_, found, err := q.GetJob(ctx, "bt-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if found {
		t.Fatal("expected job to be gone after ForceRemove")
	}

	// A removed job id can be enqueued again.
	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("re-enqueue after ForceRemove: %v", err)
	}
}

func TestMemQueue_CompleteRemovesWhenRemoveOnComplete(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	opts := Options{RemoveOnComplete: true}
	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, opts); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := q.Complete(ctx, "bt-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	_, found, err := q.GetJob(ctx, "bt-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if found {
		t.Fatal("expected job removed after Complete with RemoveOnComplete")
	}

	// A completed-and-removed job id can be re-enqueued (resume path).
	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, opts); err != nil {
		t.Fatalf("re-enqueue after Complete: %v", err)
	}
}

func TestMemQueue_CompleteRetainsWhenNotRemoveOnComplete(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := q.Complete(ctx, "bt-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	job, found, err := q.GetJob(ctx, "bt-1")
	if err != nil || !found {
		t.Fatalf("GetJob: found=%v err=%v", found, err)
	}
	if job.State != Completed {
		t.Fatalf("expected Completed state, got %s", job.State)
	}
}

func TestMemQueue_FailRetainsForForensicsWhenRemoveOnFailSet(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{RemoveOnFail: 50}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := q.Fail(ctx, "bt-1"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	job, found, err := q.GetJob(ctx, "bt-1")
	if err != nil || !found {
		t.Fatalf("expected job retained for forensics, found=%v err=%v", found, err)
	}
	if job.State != Failed {
		t.Fatalf("expected Failed state, got %s", job.State)
	}
}

func TestMemQueue_FailRemovesWhenRemoveOnFailZero(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := q.Fail(ctx, "bt-1"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	_, found, err := q.GetJob(ctx, "bt-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if found {
		t.Fatal("expected job removed after Fail with zero RemoveOnFail")
	}
}

func TestMemQueue_RenewSucceedsForCurrentHolder(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}

	if err := q.Renew(ctx, "bt-1", "worker-a", time.Minute); err != nil {
		t.Fatalf("expected the current lease holder to renew successfully, got %v", err)
	}
}

func TestMemQueue_RenewFailsForWrongHolder(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}

	if err := q.Renew(ctx, "bt-1", "worker-b", time.Minute); err != ErrLeaseLost {
		t.Fatalf("expected ErrLeaseLost for a worker that never held the lease, got %v", err)
	}
}

func TestMemQueue_RenewFailsAfterForceRemove(t *testing.T) {
	q := NewMemQueue(time.Minute)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "bt-1", samplePayload{BacktestID: "bt-1"}, Options{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, _, err := q.Lease(ctx, "worker-a"); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := q.ForceRemove(ctx, "bt-1"); err != nil {
		t.Fatalf("ForceRemove: %v", err)
	}

	if err := q.Renew(ctx, "bt-1", "worker-a", time.Minute); err != ErrLeaseLost {
		t.Fatalf("expected ErrLeaseLost once the job record is gone, got %v", err)
	}
}

func TestState_Terminal(t *testing.T) {
	cases := map[State]bool{
		Waiting:   false,
		Delayed:   false,
		Active:    false,
		Completed: true,
		Failed:    true,
	}
	for state, want := range cases {
		if got := state.Terminal(); got != want {
			t.Errorf("State(%s).Terminal() = %v, want %v", state, got, want)
		}
	}
}
