// Package memory implements the durable per-project store.
//
// Each project root owns one SQLite database (records, their version log,
// relations, rules, communities, sessions and consultations). Writes that
// belong together run in one transaction; callers update in-memory indices
// only after the commit succeeds.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// timeLayout is fixed-width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	// Dir is the directory holding memory.db (created if missing).
	Dir              string
	MaxContentLength int
	// Retries bounds attempts for transient failures (SQLITE_BUSY).
	Retries int
	// RetryInitial is the first backoff delay.
	RetryInitial time.Duration
}

// DefaultConfig returns the default configuration for a store rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:              dir,
		MaxContentLength: 4000,
		Retries:          4,
		RetryInitial:     25 * time.Millisecond,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is one project's durable state backed by SQLite.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New opens (or creates) the store under cfg.Dir with WAL mode and runs
// migrations.
func New(cfg Config) (*Store, error) {
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4000
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 25 * time.Millisecond
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, "memory.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}
	// One writer per project; readers share the same connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MaxContentLength is the configured content size bound.
func (s *Store) MaxContentLength() int {
	return s.cfg.MaxContentLength
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	ctx := context.Background()
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			category        TEXT    NOT NULL,
			content         TEXT    NOT NULL,
			rationale       TEXT    NOT NULL DEFAULT '',
			tags            TEXT    NOT NULL DEFAULT '[]',
			file_path       TEXT    NOT NULL DEFAULT '',
			file_path_rel   TEXT    NOT NULL DEFAULT '',
			embedding       BLOB,
			importance      REAL    NOT NULL DEFAULT 0.5,
			surprise        REAL    NOT NULL DEFAULT 0,
			outcome         TEXT    NOT NULL DEFAULT '',
			outcome_note    TEXT    NOT NULL DEFAULT '',
			recall_count    INTEGER NOT NULL DEFAULT 0,
			pinned          INTEGER NOT NULL DEFAULT 0,
			archived        INTEGER NOT NULL DEFAULT 0,
			normalized_hash TEXT    NOT NULL,
			created_at      TEXT    NOT NULL,
			updated_at      TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rec_category ON records(category);
		CREATE INDEX IF NOT EXISTS idx_rec_created  ON records(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_rec_archived ON records(archived);
		CREATE INDEX IF NOT EXISTS idx_rec_file     ON records(file_path);
		CREATE INDEX IF NOT EXISTS idx_rec_dedupe   ON records(normalized_hash, category, file_path);

		CREATE TABLE IF NOT EXISTS record_versions (
			record_id  INTEGER NOT NULL,
			version    INTEGER NOT NULL,
			change     TEXT    NOT NULL,
			snapshot   TEXT    NOT NULL,
			changed_at TEXT    NOT NULL,
			PRIMARY KEY (record_id, version),
			FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS relations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			from_id    INTEGER NOT NULL,
			to_id      INTEGER NOT NULL,
			type       TEXT    NOT NULL DEFAULT 'related_to',
			note       TEXT,
			created_at TEXT    NOT NULL,
			CHECK (from_id <> to_id),
			FOREIGN KEY (from_id) REFERENCES records(id) ON DELETE CASCADE,
			FOREIGN KEY (to_id)   REFERENCES records(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_rel_from ON relations(from_id);
		CREATE INDEX IF NOT EXISTS idx_rel_to   ON relations(to_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_rel_unique ON relations(from_id, to_id, type);

		CREATE TABLE IF NOT EXISTS rules (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			trigger    TEXT    NOT NULL,
			must_do    TEXT    NOT NULL DEFAULT '[]',
			must_not   TEXT    NOT NULL DEFAULT '[]',
			ask_first  TEXT    NOT NULL DEFAULT '[]',
			warnings   TEXT    NOT NULL DEFAULT '[]',
			priority   INTEGER NOT NULL DEFAULT 0,
			enabled    INTEGER NOT NULL DEFAULT 1,
			created_at TEXT    NOT NULL,
			updated_at TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS communities (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT    NOT NULL,
			level      INTEGER NOT NULL DEFAULT 0,
			summary    TEXT    NOT NULL,
			tags       TEXT    NOT NULL DEFAULT '[]',
			member_ids TEXT    NOT NULL DEFAULT '[]',
			updated_at TEXT    NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			project    TEXT NOT NULL,
			started_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS consultations (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL,
			issued_at   TEXT NOT NULL,
			expires_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_consult_issued ON consultations(issued_at DESC);
	`
	_, err := s.execHook(ctx, s.db, schema)
	return err
}

// ─── Transactions & retry ────────────────────────────────────────────────────

// Transaction runs fn inside a single SQL transaction, retrying the whole
// unit on transient failures. fn must be safe to run more than once.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.beginTxHook(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		if err := fn(tx); err != nil {
			return err
		}
		if err := s.commitHook(tx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// withRetry retries op with exponential backoff while it fails with a
// transient error. Exhausted retries surface as ErrTransient.
func (s *Store) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInitial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err == nil {
			return struct{}{}, nil
		}
		if !isTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.Retries)))

	if err != nil && isTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// ─── Time helpers ────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		// Tolerate RFC3339 values written by older exports.
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t.UTC()
}

// now returns the current store time.
func now() time.Time {
	return timeNow().UTC()
}
