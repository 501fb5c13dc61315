package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yapay-ai/token-usage-watchdog/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the RecordStore interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) GetRecord(ctx context.Context, partitionKey, rowKey string) (*model.UsageRecord, error) {
	var r model.UsageRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT partition_key, row_key, cumulative_usage, alert_sent, last_updated
		 FROM usage_records WHERE partition_key = ? AND row_key = ?`,
		partitionKey, rowKey,
	).Scan(&r.PartitionKey, &r.RowKey, &r.CumulativeUsage, &r.AlertSent, &r.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &r, nil
}

func (s *SQLite) CreateRecord(ctx context.Context, record *model.UsageRecord) error {
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}

	// ON CONFLICT DO NOTHING + RowsAffected distinguishes a key clash
	// without inspecting driver error strings.
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (partition_key, row_key, cumulative_usage, alert_sent, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(partition_key, row_key) DO NOTHING`,
		record.PartitionKey, record.RowKey,
		record.CumulativeUsage, record.AlertSent, record.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *SQLite) UpdateRecord(ctx context.Context, record *model.UsageRecord) error {
	if record.LastUpdated.IsZero() {
		record.LastUpdated = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE usage_records SET cumulative_usage = ?, alert_sent = ?, last_updated = ?
		 WHERE partition_key = ? AND row_key = ?`,
		record.CumulativeUsage, record.AlertSent, record.LastUpdated,
		record.PartitionKey, record.RowKey,
	)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
