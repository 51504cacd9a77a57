package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/replaycore/backtest-core/backtest"
)

// MySQLStore is an alternate durable Store backend over database/sql
// and github.com/go-sql-driver/mysql, for deployments that already run
// a MySQL cluster rather than per-process SQLite files. Schema and
// queries mirror SQLiteStore; only the upsert dialect differs
// (ON DUPLICATE KEY UPDATE vs. ON CONFLICT).
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and creates the
// backtests table if it does not already exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS backtests (
			id VARCHAR(191) PRIMARY KEY,
			owner VARCHAR(191) NOT NULL,
			algorithm_id VARCHAR(191) NOT NULL,
			dataset_id VARCHAR(191) NOT NULL,
			type VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			deterministic_seed VARCHAR(191) NOT NULL,
			config_json JSON NOT NULL,
			processed_timestamp_count INT NOT NULL DEFAULT 0,
			total_timestamp_count INT NOT NULL DEFAULT 0,
			checkpoint_json JSON,
			last_checkpoint_at DATETIME NULL,
			error_message TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_backtests_status (status)
		)
	`)
	if err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) Create(ctx context.Context, b backtest.Backtest) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			config_json = VALUES(config_json),
			updated_at = CURRENT_TIMESTAMP
	`, b.ID, b.Owner, b.AlgorithmID, b.DatasetID, string(b.Type), string(b.Status),
		b.DeterministicSeed, string(configJSON), b.ProcessedTimestampCount,
		b.TotalTimestampCount, b.ErrorMessage)
	if err != nil {
		return fmt.Errorf("create backtest %s: %w", b.ID, err)
	}
	return nil
}

func (s *MySQLStore) Get(ctx context.Context, id string) (backtest.Backtest, error) {
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

func (s *MySQLStore) ListRecoverable(ctx context.Context) ([]backtest.Backtest, error) {
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

func (s *MySQLStore) UpdateStatus(ctx context.Context, id string, status backtest.Status, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtests SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(status), errorMessage, id)
	if err != nil {
		return fmt.Errorf("update status for %s: %w", id, err)
	}
	return checkAffected(res, id)
}

func (s *MySQLStore) SaveCheckpoint(ctx context.Context, id string, status backtest.Status, cp backtest.CheckpointState, processedCount int, at time.Time) error {
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

func (s *MySQLStore) ClearCheckpoint(ctx context.Context, id string, processedCount int) error {
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

func (s *MySQLStore) IncrementAutoResume(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var configJSON string
	if err := tx.QueryRowContext(ctx, `SELECT config_json FROM backtests WHERE id = ? FOR UPDATE`, id).Scan(&configJSON); err != nil {
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
