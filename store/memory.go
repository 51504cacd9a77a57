package store

import (
	"context"
	"sync"
	"time"

	"github.com/replaycore/backtest-core/backtest"
)

// MemStore is an in-process, mutex-guarded Store used by tests, the
// same role the teacher's store.MemStore plays for engine tests.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]backtest.Backtest
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]backtest.Backtest)}
}

func (s *MemStore) Create(_ context.Context, b backtest.Backtest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[b.ID] = b
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (backtest.Backtest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.rows[id]
	if !ok {
		return backtest.Backtest{}, ErrNotFound
	}
	return b, nil
}

func (s *MemStore) ListRecoverable(_ context.Context) ([]backtest.Backtest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []backtest.Backtest
	for _, b := range s.rows {
		switch b.Status {
		case backtest.StatusRunning, backtest.StatusPaused, backtest.StatusPending:
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *MemStore) UpdateStatus(_ context.Context, id string, status backtest.Status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	b.ErrorMessage = errorMessage
	s.rows[id] = b
	return nil
}

func (s *MemStore) SaveCheckpoint(_ context.Context, id string, status backtest.Status, cp backtest.CheckpointState, processedCount int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	cpCopy := cp
	b.CheckpointState = &cpCopy
	atCopy := at
	b.LastCheckpointAt = &atCopy
	b.ProcessedTimestampCount = processedCount
	s.rows[id] = b
	return nil
}

func (s *MemStore) ClearCheckpoint(_ context.Context, id string, processedCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	b.CheckpointState = nil
	b.LastCheckpointAt = nil
	b.ProcessedTimestampCount = processedCount
	s.rows[id] = b
	return nil
}

func (s *MemStore) IncrementAutoResume(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.rows[id]
	if !ok {
		return 0, ErrNotFound
	}
	b.Config.AutoResumeCount++
	s.rows[id] = b
	return b.Config.AutoResumeCount, nil
}
