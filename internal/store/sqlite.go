package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
// dbPath ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Single writer. Also keeps ":memory:" on one connection so every query
	// sees the same database.
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

// IsProcessed reports whether a record exists for messageID.
func (s *SQLiteStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed_messages WHERE message_id = ?", messageID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return count > 0, nil
}

// MarkProcessed inserts the record unless one already exists.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, rec Record) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	const query = `
		INSERT INTO processed_messages (
			message_id, thread_id, sender_address, subject, processed_at
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.MessageID, rec.ThreadID, rec.SenderAddress, rec.Subject, rec.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", rec.MessageID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking message %s processed: %w", rec.MessageID, err)
	}
	if n == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

// MarkResponded records when the reply for messageID was sent.
func (s *SQLiteStore) MarkResponded(ctx context.Context, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE processed_messages SET responded_at = ? WHERE message_id = ?",
		at.UTC(), messageID,
	)
	if err != nil {
		return fmt.Errorf("marking message %s responded: %w", messageID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("marking message %s responded: %w", messageID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Record returns the idempotency record for messageID.
func (s *SQLiteStore) Record(ctx context.Context, messageID string) (*Record, error) {
	var rec Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT message_id, thread_id, sender_address, subject, processed_at, responded_at
		FROM processed_messages WHERE message_id = ?`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", messageID, err)
	}
	return &rec, nil
}

// SessionHandle returns the saved session handle for senderKey, or "".
func (s *SQLiteStore) SessionHandle(ctx context.Context, senderKey string) (string, error) {
	var handle string
	err := s.db.GetContext(ctx, &handle,
		"SELECT handle FROM sessions WHERE sender_key = ?", senderKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting session for %s: %w", senderKey, err)
	}
	return handle, nil
}

// SaveSessionHandle upserts the session handle for senderKey.
func (s *SQLiteStore) SaveSessionHandle(ctx context.Context, senderKey, handle string) error {
	const query = `
		INSERT INTO sessions (sender_key, handle, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(sender_key) DO UPDATE SET handle = excluded.handle, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, senderKey, handle, time.Now().UTC()); err != nil {
		return fmt.Errorf("saving session for %s: %w", senderKey, err)
	}
	return nil
}
