package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/replaycore/backtest-core/backtest"
)

// SQLiteStore persists backtests durably over database/sql and
// modernc.org/sqlite, the pure-Go SQLite driver the teacher already
// depends on. SQLite only supports one writer at a time, so the
// connection pool is capped at a single connection, matching the
// teacher's SQLiteStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path,
// enables WAL mode and foreign keys, and creates the backtests table if
// it does not already exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS backtests (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			algorithm_id TEXT NOT NULL,
			dataset_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			deterministic_seed TEXT NOT NULL,
			config_json TEXT NOT NULL,
			processed_timestamp_count INTEGER NOT NULL DEFAULT 0,
			total_timestamp_count INTEGER NOT NULL DEFAULT 0,
			checkpoint_json TEXT,
			last_checkpoint_at DATETIME,
			error_message TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_backtests_status ON backtests(status);
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path this store was opened against.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteStore) Create(ctx context.Context, b backtest.Backtest) error {
	configJSON, err := json.Marshal(b.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO backtests (
			id, owner, algorithm_id, dataset_id, type, status,
			deterministic_seed, config_json, processed_timestamp_count,
			total_timestamp_count, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			config_json = excluded.config_json,
			updated_at = CURRENT_TIMESTAMP
	`, b.ID, b.Owner, b.AlgorithmID, b.DatasetID, string(b.Type), string(b.Status),
		b.DeterministicSeed, string(configJSON), b.ProcessedTimestampCount,
		b.TotalTimestampCount, b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create backtest %s: %w", b.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (backtest.Backtest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, algorithm_id, dataset_id, type, status,
		       deterministic_seed, config_json, processed_timestamp_count,
		       total_timestamp_count, checkpoint_json, last_checkpoint_at, error_message
		FROM backtests WHERE id = ?
	`, id)

	b, err := scanBacktest(row)
	if err == sql.ErrNoRows {
		return backtest.Backtest{}, ErrNotFound
	}
	if err != nil {
		return backtest.Backtest{}, fmt.Errorf("get backtest %s: %w", id, err)
	}
	return b, nil
}

func (s *SQLiteStore) ListRecoverable(ctx context.Context) ([]backtest.Backtest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, algorithm_id, dataset_id, type, status,
		       deterministic_seed, config_json, processed_timestamp_count,
		       total_timestamp_count, checkpoint_json, last_checkpoint_at, error_message
		FROM backtests WHERE status IN (?, ?, ?)
	`, string(backtest.StatusRunning), string(backtest.StatusPaused), string(backtest.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("list recoverable: %w", err)
	}
	defer rows.Close()

	var out []backtest.Backtest
	for rows.Next() {
		b, err := scanBacktest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recoverable row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status backtest.Status, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtests SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), errorMessage, id)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, id string, status backtest.Status, cp backtest.CheckpointState, processedCount int, at time.Time) error {
	cpJSON, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE backtests SET status = ?, checkpoint_json = ?, last_checkpoint_at = ?,
		       processed_timestamp_count = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(status), string(cpJSON), at, processedCount, id)
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (s *SQLiteStore) ClearCheckpoint(ctx context.Context, id string, processedCount int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtests SET checkpoint_json = NULL, last_checkpoint_at = NULL,
		       processed_timestamp_count = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, processedCount, id)
	if err != nil {
		return fmt.Errorf("clear checkpoint for %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (s *SQLiteStore) IncrementAutoResume(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var configJSON string
	if err := tx.QueryRowContext(ctx, `SELECT config_json FROM backtests WHERE id = ?`, id).Scan(&configJSON); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load config for %s: %w", id, err)
	}

	var cfg backtest.BacktestConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return 0, fmt.Errorf("unmarshal config for %s: %w", id, err)
	}
	cfg.AutoResumeCount++

	updated, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("marshal config for %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE backtests SET config_json = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(updated), id); err != nil {
		return 0, fmt.Errorf("update config for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return cfg.AutoResumeCount, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBacktest(row rowScanner) (backtest.Backtest, error) {
	var (
		b              backtest.Backtest
		typ, status    string
		configJSON     string
		checkpointJSON sql.NullString
		lastCheckpoint sql.NullTime
	)

	if err := row.Scan(&b.ID, &b.Owner, &b.AlgorithmID, &b.DatasetID, &typ, &status,
		&b.DeterministicSeed, &configJSON, &b.ProcessedTimestampCount,
		&b.TotalTimestampCount, &checkpointJSON, &lastCheckpoint, &b.ErrorMessage); err != nil {
		return backtest.Backtest{}, err
	}

	b.Type = backtest.BacktestType(typ)
	b.Status = backtest.Status(status)

	if err := json.Unmarshal([]byte(configJSON), &b.Config); err != nil {
		return backtest.Backtest{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if checkpointJSON.Valid {
		var cp backtest.CheckpointState
		if err := json.Unmarshal([]byte(checkpointJSON.String), &cp); err != nil {
			return backtest.Backtest{}, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
		b.CheckpointState = &cp
	}
	if lastCheckpoint.Valid {
		t := lastCheckpoint.Time
		b.LastCheckpointAt = &t
	}

	return b, nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
