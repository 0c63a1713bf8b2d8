package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"emails-sync/internal/models"
)

// ErrDuplicate is returned by Insert when a record with the same source and
// message key is already stored.
var ErrDuplicate = errors.New("record already stored")

// DefaultListLimit bounds ListRecords when no limit is given
const DefaultListLimit = 20

// SQLiteStore is the durable record sink and the default watermark backend.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dsn,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One writer at a time; this also keeps ":memory:" on a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Insert stores one record. A record whose (source, message_key) is already
// present is left untouched and ErrDuplicate is returned.
func (s *SQLiteStore) Insert(ctx context.Context, rec models.EmailRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO emails_sync (
			id, message_key, sender, subject, body,
			source, status, received_at, created_at
		) VALUES (
			:id, :message_key, :sender, :subject, :body,
			:source, :status, :received_at, :created_at
		)
		ON CONFLICT (source, message_key) DO NOTHING`,
		rec,
	)
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.MessageKey, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting record %s: %w", rec.MessageKey, err)
	}
	if n == 0 {
		return ErrDuplicate
	}

	return nil
}

// ListRecords returns the most recently received records, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, limit int) ([]models.EmailRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var records []models.EmailRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT id, message_key, sender, subject, body, source, status, received_at, created_at
		FROM emails_sync
		ORDER BY received_at DESC, created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	return records, nil
}

// CountRecords returns the number of stored records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM emails_sync"); err != nil {
		return 0, fmt.Errorf("counting records: %w", err)
	}
	return n, nil
}

// Watermarks returns the watermark stored under key in this database.
func (s *SQLiteStore) Watermarks(key string) *WatermarkTable {
	return &WatermarkTable{db: s.db, key: key}
}

// WatermarkTable reads and advances one watermark row.
type WatermarkTable struct {
	db  *sqlx.DB
	key string
}

// Read returns the stored watermark, or the zero Watermark when none exists.
func (t *WatermarkTable) Read(ctx context.Context) (models.Watermark, error) {
	var w models.Watermark
	err := t.db.GetContext(ctx, &w,
		"SELECT ts, uid, uid_validity, updated_at FROM watermarks WHERE key = ?", t.key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Watermark{}, nil
	}
	if err != nil {
		return models.Watermark{}, fmt.Errorf("reading watermark %s: %w", t.key, err)
	}
	return w, nil
}

// Advance stores max(current, w). It never moves the watermark backwards.
func (t *WatermarkTable) Advance(ctx context.Context, w models.Watermark) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.Watermark
	err = tx.GetContext(ctx, &current,
		"SELECT ts, uid, uid_validity, updated_at FROM watermarks WHERE key = ?", t.key)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading watermark %s: %w", t.key, err)
	}

	next := current.Max(w)
	next.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO watermarks (key, ts, uid, uid_validity, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			ts = excluded.ts,
			uid = excluded.uid,
			uid_validity = excluded.uid_validity,
			updated_at = excluded.updated_at`,
		t.key, next.Timestamp.UTC(), next.UID, next.UIDValidity, next.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("writing watermark %s: %w", t.key, err)
	}

	return tx.Commit()
}
