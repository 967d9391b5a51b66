// Package shadow persists the merged contact cache. One table mirrors the
// external sources: a row is keyed by (user_id, source, external_id) and is
// owned by exactly one source — a full sync of source X only ever inserts,
// updates, or deletes rows where source = X. Explicitly imported contacts
// live in their own table, written only by the import flow. The store opens
// SQLite in WAL mode so the query offload worker's reads neither block nor
// are blocked by foreground sync writes.
package shadow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersion  = 1
	schemaChecksum = "sb-v1-2026-08-contact-shadow"
)

// Store wraps the embedded contact cache database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// DefaultDBPath returns the per-user database location.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".shadowbook", "shadowbook.db")
}

// Open opens (creating if needed) the store at path. A non-empty key is
// applied as the database decryption key before any other statement; an
// invalid key surfaces as ErrStoreUnavailable.
func Open(path, key string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger}
	if key != "" {
		// Must run before any other statement on SQLCipher-enabled builds.
		quoted := strings.ReplaceAll(key, "'", "''")
		if _, err := db.ExecContext(context.Background(), fmt.Sprintf("PRAGMA key = '%s';", quoted)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply store key: %w: %v", ErrStoreUnavailable, err)
		}
	}
	if err := store.verifyReadable(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenExisting opens the store at path without creating it. Read-only
// collaborators like the query offload worker use this; an sqlite open would
// otherwise materialize an empty database at a mistyped path and answer
// queries from it.
func OpenExisting(path, key string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat shadow store: %w: %v", ErrStoreUnavailable, err)
	}
	return Open(path, key, logger)
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// verifyReadable proves the key (or its absence) actually decrypts the file.
// A wrong key makes sqlite_master unreadable on encrypted builds.
func (s *Store) verifyReadable(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master;`).Scan(&n); err != nil {
		return fmt.Errorf("read schema catalog: %w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersion {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersion)
	}
	if maxVersion == schemaVersion {
		var existing string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersion).Scan(&existing); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existing != schemaChecksum {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersion, existing, schemaChecksum)
		}
		return tx.Commit()
	}

	statements := []string{
		// Shadow rows mirroring external sources. (user_id, source,
		// external_id) is the real primary key; id exists only for opaque
		// external references. last_message_at/synced_at are unix millis.
		`CREATE TABLE IF NOT EXISTS contacts (
			id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL CHECK(source IN ('backup', 'address_book', 'mailbox')),
			external_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			phones TEXT NOT NULL DEFAULT '[]',
			emails TEXT NOT NULL DEFAULT '[]',
			company TEXT NOT NULL DEFAULT '',
			from_import INTEGER NOT NULL DEFAULT 0,
			last_message_at INTEGER,
			synced_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, source, external_id)
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_opaque_id ON contacts(id);`,
		`CREATE INDEX IF NOT EXISTS idx_contacts_recency ON contacts(user_id, last_message_at DESC);`,
		// Normalized phone keys per shadow row, refreshed on upsert. Keys are
		// computed outside the storage layer and passed in.
		`CREATE TABLE IF NOT EXISTS contact_phone_keys (
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			external_id TEXT NOT NULL,
			phone_key TEXT NOT NULL,
			PRIMARY KEY (user_id, source, external_id, phone_key)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_phone_keys_lookup ON contact_phone_keys(user_id, phone_key);`,
		// Explicitly imported contacts. Never touched by source syncs.
		`CREATE TABLE IF NOT EXISTS import_contacts (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			phones TEXT NOT NULL DEFAULT '[]',
			emails TEXT NOT NULL DEFAULT '[]',
			company TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_import_contacts_user ON import_contacts(user_id);`,
		// Interaction lookup: max known interaction timestamp per normalized
		// phone. Populated by the message-import collaborator.
		`CREATE TABLE IF NOT EXISTS interactions (
			user_id TEXT NOT NULL,
			phone_key TEXT NOT NULL,
			last_message_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, phone_key)
		);`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum)
		VALUES (?, ?);
	`, schemaVersion, schemaChecksum); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
// The error string is matched to avoid depending on the sqlite3 package in
// non-CGO-importing code paths.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// encodeList is the single encode boundary for repeated-value columns.
func encodeList(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode value list: %w", err)
	}
	return string(raw), nil
}

// decodeList is the matching decode boundary.
func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode value list: %w", err)
	}
	return out, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
