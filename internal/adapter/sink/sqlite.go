package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

var _ port.SnapshotSink = (*SQLiteSink)(nil)

// SQLiteSink replaces the alerts table inside one transaction per publish.
// With WAL enabled, readers keep seeing the last committed table.
type SQLiteSink struct {
	db *sql.DB
}

func NewSQLiteSink(path string) (*SQLiteSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sink database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS alerts (
		ord    INTEGER PRIMARY KEY,
		word   TEXT NOT NULL,
		count  INTEGER NOT NULL,
		bucket INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create alerts table: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Publish(ctx context.Context, rows []domain.AggregateRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO alerts (ord, word, count, bucket) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, i, row.Word, row.Count, row.Bucket); err != nil {
			return fmt.Errorf("failed to insert alert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alerts: %w", err)
	}
	return nil
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// ReadSQLite loads a table published by SQLiteSink, in publish order.
func ReadSQLite(ctx context.Context, path string) ([]domain.AggregateRecord, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sink database: %w", err)
	}
	defer db.Close()

	rs, err := db.QueryContext(ctx, `SELECT word, count, bucket FROM alerts ORDER BY ord`)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rs.Close()

	var rows []domain.AggregateRecord
	for rs.Next() {
		var r domain.AggregateRecord
		if err := rs.Scan(&r.Word, &r.Count, &r.Bucket); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		rows = append(rows, r)
	}
	return rows, rs.Err()
}
