package sink

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vodgrab/internal/media"
	"vodgrab/internal/retry"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes. Older databases must
// be moved aside.
const schemaVersion = 1

// ErrSchemaMismatch means the database was created by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store is the relational record sink.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the SQLite database at path.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
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
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
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
		return fmt.Errorf("%w: %s has version %d, expected %d", ErrSchemaMismatch, s.path, version, schemaVersion)
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
		return fmt.Errorf("insert schema version: %w", err)
	}
	return tx.Commit()
}

// Write inserts one record.
func (s *Store) Write(ctx context.Context, rec media.Record) error {
	payload, err := payloadJSON(rec.Payload)
	if err != nil {
		return err
	}
	var payloadArg any
	if payload != "" {
		payloadArg = payload
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO records (run_id, title, year, episode, detail_url, play_url, stream_url, source, player_payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, rec.Title, rec.Year, rec.Episode, rec.DetailURL, rec.PlayURL,
			rec.StreamURL, string(rec.Source), payloadArg, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	})
}

// ListOptions filters List.
type ListOptions struct {
	RunID string // Only records from this run
	Limit int    // 0 means no limit
}

// List returns records, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]media.Record, error) {
	query := `SELECT run_id, title, year, episode, detail_url, play_url, stream_url, source, player_payload, created_at FROM records`
	var args []any
	if opts.RunID != "" {
		query += " WHERE run_id = ?"
		args = append(args, opts.RunID)
	}
	query += " ORDER BY id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []media.Record
	for rows.Next() {
		var (
			rec                  media.Record
			year, detail, stream sql.NullString
			source, created      string
			payload              sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Title, &year, &rec.Episode, &detail, &rec.PlayURL, &stream, &source, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Year, rec.DetailURL, rec.StreamURL = year.String, detail.String, stream.String
		rec.Source = media.Source(source)
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &rec.Payload); err != nil {
				return nil, fmt.Errorf("decode payload for %s: %w", rec.PlayURL, err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// busyRetry retries statements that hit a locked database.
var busyRetry = retry.Config{
	MaxRetries:     busyRetryAttempts - 1,
	InitialBackoff: busyRetryInitialBackoff,
	MaxBackoff:     busyRetryMaxBackoff,
	Multiplier:     2,
}

// retryOnBusy runs op again while it fails with SQLITE_BUSY. Any other error
// returns at once.
func retryOnBusy(ctx context.Context, op func() error) error {
	return retry.Do(ctx, busyRetry, func(ctx context.Context, attempt int) error {
		err := op()
		if err != nil && !isSQLiteBusy(err) {
			return retry.Permanent(err)
		}
		return err
	}, nil)
}
