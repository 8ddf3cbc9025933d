package memory

import (
	"database/sql"
	"time"
)

// DB exposes the internal *sql.DB for test helpers in memory_test.
// This file only compiles during `go test`.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetTimeNow replaces the store clock and returns a restore func.
func SetTimeNow(fn func() time.Time) func() {
	prev := timeNow
	timeNow = fn
	return func() { timeNow = prev }
}

// FailCommitsWith makes the next n commits fail with err.
func (s *Store) FailCommitsWith(n int, err error) {
	remaining := n
	s.hooks.commit = func(tx *sql.Tx) error {
		if remaining > 0 {
			remaining--
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}
}
