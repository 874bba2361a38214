// Package history records every scan in a SQLite ledger so operators can see
// when a workbook last changed and which scans failed.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by another schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Status values for a scan record.
const (
	StatusBaselined = "baselined"
	StatusUnchanged = "unchanged"
	StatusChanged   = "changed"
	StatusFailed    = "failed"
)

// Scan is one row of the ledger.
type Scan struct {
	ID             string    `json:"id"`
	FilePath       string    `json:"file_path"`
	BaselinePath   string    `json:"baseline_path,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Status         string    `json:"status"`
	ServedBy       string    `json:"served_by,omitempty"`
	HasChanges     bool      `json:"has_changes"`
	TotalChanges   int       `json:"total_changes"`
	SheetsAdded    []string  `json:"sheets_added"`
	SheetsRemoved  []string  `json:"sheets_removed"`
	SheetsModified []string  `json:"sheets_modified"`
	ErrorType      string    `json:"error_type,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// Store manages the ledger database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the ledger at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to reset history)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record inserts a scan row.
func (s *Store) Record(ctx context.Context, scan Scan) error {
	if scan.ID == "" || scan.FilePath == "" {
		return errors.New("history: scan id and file path are required")
	}
	added, err := encodeNames(scan.SheetsAdded)
	if err != nil {
		return err
	}
	removed, err := encodeNames(scan.SheetsRemoved)
	if err != nil {
		return err
	}
	modified, err := encodeNames(scan.SheetsModified)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (
            id, file_path, baseline_path, started_at, finished_at, status, served_by,
            has_changes, total_changes, sheets_added, sheets_removed, sheets_modified,
            error_type, error_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scan.ID,
		scan.FilePath,
		nullableString(scan.BaselinePath),
		scan.StartedAt.UTC().Format(timeLayout),
		scan.FinishedAt.UTC().Format(timeLayout),
		scan.Status,
		nullableString(scan.ServedBy),
		boolToInt(scan.HasChanges),
		scan.TotalChanges,
		added,
		removed,
		modified,
		nullableString(scan.ErrorType),
		nullableString(scan.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// ListOptions filters List.
type ListOptions struct {
	FilePath string
	Limit    int
}

// List returns scans newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Scan, error) {
	query := `SELECT id, file_path, baseline_path, started_at, finished_at, status, served_by,
        has_changes, total_changes, sheets_added, sheets_removed, sheets_modified,
        error_type, error_message FROM scans`
	var args []any
	if opts.FilePath != "" {
		query += " WHERE file_path = ?"
		args = append(args, opts.FilePath)
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scans: %w", err)
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		scan, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return scans, nil
}

func scanRow(rows *sql.Rows) (Scan, error) {
	var (
		scan                     Scan
		baselinePath, servedBy   sql.NullString
		errorType, errorMessage  sql.NullString
		startedAt, finishedAt    string
		hasChanges               int
		added, removed, modified string
	)
	if err := rows.Scan(
		&scan.ID, &scan.FilePath, &baselinePath, &startedAt, &finishedAt, &scan.Status, &servedBy,
		&hasChanges, &scan.TotalChanges, &added, &removed, &modified, &errorType, &errorMessage,
	); err != nil {
		return Scan{}, fmt.Errorf("scan row: %w", err)
	}
	scan.BaselinePath = baselinePath.String
	scan.ServedBy = servedBy.String
	scan.ErrorType = errorType.String
	scan.ErrorMessage = errorMessage.String
	scan.HasChanges = hasChanges != 0
	scan.StartedAt = parseTime(startedAt)
	scan.FinishedAt = parseTime(finishedAt)
	for _, pair := range []struct {
		raw string
		dst *[]string
	}{{added, &scan.SheetsAdded}, {removed, &scan.SheetsRemoved}, {modified, &scan.SheetsModified}} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return Scan{}, fmt.Errorf("decode sheet list: %w", err)
		}
	}
	return scan, nil
}

func encodeNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("encode sheet list: %w", err)
	}
	return string(data), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
