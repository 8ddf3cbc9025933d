package memory

import (
	"context"
	"fmt"
	"time"
)

// ─── Sessions ────────────────────────────────────────────────────────────────

// CreateSession records a session start. Repeating an id is a no-op;
// inserted reports whether a new row was written.
func (s *Store) CreateSession(ctx context.Context, id, project string) (inserted bool, err error) {
	err = s.withRetry(ctx, func() error {
		res, err := s.execHook(ctx, s.db,
			`INSERT OR IGNORE INTO sessions (id, project, started_at) VALUES (?, ?, ?)`,
			id, project, formatTime(now()))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		inserted = n > 0
		return err
	})
	if err != nil {
		return false, fmt.Errorf("memory: create session: %w", err)
	}
	return inserted, nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project, started_at FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recent sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var started string
		if err := rows.Scan(&sess.ID, &sess.Project, &started); err != nil {
			return nil, fmt.Errorf("memory: scan session: %w", err)
		}
		sess.StartedAt = parseTime(started)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ─── Consultations ───────────────────────────────────────────────────────────

// AddConsultation appends a consultation to the durable history.
func (s *Store) AddConsultation(ctx context.Context, c *Consultation) error {
	err := s.withRetry(ctx, func() error {
		res, err := s.execHook(ctx, s.db,
			`INSERT INTO consultations (session_id, description, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
			c.SessionID, c.Description, formatTime(c.IssuedAt), formatTime(c.ExpiresAt))
		if err != nil {
			return err
		}
		c.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return fmt.Errorf("memory: add consultation: %w", err)
	}
	return nil
}

// RecentConsultations returns up to limit consultations, newest first.
func (s *Store) RecentConsultations(ctx context.Context, limit int) ([]Consultation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, description, issued_at, expires_at
		 FROM consultations ORDER BY issued_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: recent consultations: %w", err)
	}
	defer rows.Close()

	var out []Consultation
	for rows.Next() {
		var c Consultation
		var issued, expires string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Description, &issued, &expires); err != nil {
			return nil, fmt.Errorf("memory: scan consultation: %w", err)
		}
		c.IssuedAt = parseTime(issued)
		c.ExpiresAt = parseTime(expires)
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneConsultations deletes consultations issued before cutoff.
func (s *Store) PruneConsultations(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.withRetry(ctx, func() error {
		res, err := s.execHook(ctx, s.db,
			`DELETE FROM consultations WHERE issued_at < ?`, formatTime(cutoff))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("memory: prune consultations: %w", err)
	}
	return n, nil
}
