package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ReplaceCommunities swaps the whole community set in one transaction.
func (s *Store) ReplaceCommunities(ctx context.Context, comms []Community) error {
	ts := now()
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := s.execHook(ctx, tx, `DELETE FROM communities`); err != nil {
			return fmt.Errorf("clear communities: %w", err)
		}
		for i := range comms {
			c := &comms[i]
			c.UpdatedAt = ts
			res, err := s.execHook(ctx, tx,
				`INSERT INTO communities (name, level, summary, tags, member_ids, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				c.Name, c.Level, c.Summary, encodeStrings(c.Tags), encodeInt64s(c.MemberIDs), formatTime(ts))
			if err != nil {
				return fmt.Errorf("insert community: %w", err)
			}
			if c.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	return nil
}

// ListCommunities returns all communities ordered by level then name.
func (s *Store) ListCommunities(ctx context.Context) ([]Community, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, level, summary, tags, member_ids, updated_at
		 FROM communities ORDER BY level, name, id`)
	if err != nil {
		return nil, fmt.Errorf("memory: list communities: %w", err)
	}
	defer rows.Close()

	var out []Community
	for rows.Next() {
		var c Community
		var tags, members, updated string
		if err := rows.Scan(&c.ID, &c.Name, &c.Level, &c.Summary, &tags, &members, &updated); err != nil {
			return nil, fmt.Errorf("memory: scan community: %w", err)
		}
		c.Tags = decodeStrings(tags)
		c.MemberIDs = decodeInt64s(members)
		c.UpdatedAt = parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastChange returns the most recent record update time, or the zero time
// for an empty store.
func (s *Store) LastChange(ctx context.Context) (time.Time, error) {
	var latest string
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), '') FROM records`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("memory: last change: %w", err)
	}
	if latest == "" {
		return time.Time{}, nil
	}
	return parseTime(latest), nil
}
