package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const ruleColumns = `id, trigger, must_do, must_not, ask_first, warnings, priority, enabled, created_at, updated_at`

// AddRule stores a governance rule.
func (s *Store) AddRule(ctx context.Context, r *Rule) (int64, error) {
	r.Trigger = strings.TrimSpace(r.Trigger)
	if r.Trigger == "" {
		return 0, errors.New("memory: rule trigger is required")
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts

	err := s.withRetry(ctx, func() error {
		res, err := s.execHook(ctx, s.db,
			`INSERT INTO rules (trigger, must_do, must_not, ask_first, warnings, priority, enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.Trigger, encodeStrings(r.MustDo), encodeStrings(r.MustNot), encodeStrings(r.AskFirst),
			encodeStrings(r.Warnings), r.Priority, boolInt(r.Enabled), formatTime(ts), formatTime(ts))
		if err != nil {
			return err
		}
		r.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("memory: add rule: %w", err)
	}
	return r.ID, nil
}

// UpdateRule applies p to rule id.
func (s *Store) UpdateRule(ctx context.Context, id int64, p RulePatch) (*Rule, error) {
	var updated *Rule
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		r, err := getRule(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Trigger != nil {
			t := strings.TrimSpace(*p.Trigger)
			if t == "" {
				return errors.New("rule trigger is required")
			}
			r.Trigger = t
		}
		if p.MustDo != nil {
			r.MustDo = p.MustDo
		}
		if p.MustNot != nil {
			r.MustNot = p.MustNot
		}
		if p.AskFirst != nil {
			r.AskFirst = p.AskFirst
		}
		if p.Warnings != nil {
			r.Warnings = p.Warnings
		}
		if p.Priority != nil {
			r.Priority = *p.Priority
		}
		if p.Enabled != nil {
			r.Enabled = *p.Enabled
		}
		r.UpdatedAt = now()
		_, err = s.execHook(ctx, tx,
			`UPDATE rules SET trigger = ?, must_do = ?, must_not = ?, ask_first = ?, warnings = ?,
				priority = ?, enabled = ?, updated_at = ? WHERE id = ?`,
			r.Trigger, encodeStrings(r.MustDo), encodeStrings(r.MustNot), encodeStrings(r.AskFirst),
			encodeStrings(r.Warnings), r.Priority, boolInt(r.Enabled), formatTime(r.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		updated = r
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("memory: %w", err)
	}
	return updated, nil
}

// GetRule returns a rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (*Rule, error) {
	return getRule(ctx, s.db, id)
}

// ListRules returns rules ordered by priority (highest first), then id.
func (s *Store) ListRules(ctx context.Context, onlyEnabled bool) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	if onlyEnabled {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY priority DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: list rules: %w", err)
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func getRule(ctx context.Context, q queryer, id int64) (*Rule, error) {
	r, err := scanRule(q.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get rule %d: %w", id, err)
	}
	return r, nil
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var mustDo, mustNot, askFirst, warnings, created, updated string
	var enabled int
	if err := row.Scan(&r.ID, &r.Trigger, &mustDo, &mustNot, &askFirst, &warnings,
		&r.Priority, &enabled, &created, &updated); err != nil {
		return nil, err
	}
	r.MustDo = decodeStrings(mustDo)
	r.MustNot = decodeStrings(mustNot)
	r.AskFirst = decodeStrings(askFirst)
	r.Warnings = decodeStrings(warnings)
	r.Enabled = enabled != 0
	r.CreatedAt = parseTime(created)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}
