package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const recordColumns = `id, category, content, rationale, tags, file_path, file_path_rel,
	embedding, importance, surprise, outcome, outcome_note, recall_count,
	pinned, archived, normalized_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ─── Insert ──────────────────────────────────────────────────────────────────

// InsertRecord stores rec and writes version 1 in the same transaction.
// rec.ID, NormalizedHash and timestamps are filled in on success.
func (s *Store) InsertRecord(ctx context.Context, rec *Record) (int64, error) {
	if !ValidCategories[rec.Category] {
		return 0, fmt.Errorf("memory: invalid category %q", rec.Category)
	}
	content := strings.TrimSpace(rec.Content)
	if content == "" {
		return 0, errors.New("memory: content is required")
	}
	if len(content) > s.cfg.MaxContentLength {
		return 0, fmt.Errorf("memory: content exceeds %d characters", s.cfg.MaxContentLength)
	}
	rec.Content = content
	rec.Tags = normalizeTags(rec.Tags)
	rec.NormalizedHash = HashNormalized(content)
	if rec.Importance == 0 {
		rec.Importance = 0.5
	}
	ts := now()
	rec.CreatedAt, rec.UpdatedAt = ts, ts

	var id int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := s.execHook(ctx, tx,
			`INSERT INTO records (category, content, rationale, tags, file_path, file_path_rel,
				embedding, importance, surprise, outcome, outcome_note, recall_count,
				pinned, archived, normalized_hash, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?, ?)`,
			string(rec.Category), rec.Content, rec.Rationale, encodeStrings(rec.Tags),
			rec.FilePath, rec.FilePathRel, encodeEmbedding(rec.Embedding),
			rec.Importance, rec.Surprise, string(rec.Outcome), rec.OutcomeNote,
			boolInt(rec.Pinned), rec.NormalizedHash, formatTime(ts), formatTime(ts),
		)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		rec.ID = id
		return s.writeVersion(ctx, tx, rec, 1, "created")
	})
	if err != nil {
		return 0, fmt.Errorf("memory: %w", err)
	}
	return id, nil
}

// FindDuplicate returns a live record with the same category, normalized
// content and file association, or ErrNotFound.
func (s *Store) FindDuplicate(ctx context.Context, category Category, content, filePath string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE normalized_hash = ? AND category = ? AND file_path = ? AND archived = 0
		 ORDER BY id LIMIT 1`,
		HashNormalized(content), string(category), filePath)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("memory: find duplicate: %w", err)
	}
	return rec, nil
}

// ─── Read ────────────────────────────────────────────────────────────────────

// GetRecord returns a record by id, archived or not.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	return getRecord(ctx, s.db, id)
}

func getRecord(ctx context.Context, q queryer, id int64) (*Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get record %d: %w", id, err)
	}
	return rec, nil
}

// GetRecords returns the records with the given ids keyed by id. Unknown
// ids are absent from the map.
func (s *Store) GetRecords(ctx context.Context, ids []int64) (map[int64]*Record, error) {
	out := make(map[int64]*Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders, args := int64Args(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: get records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// QueryRecords returns records matching f, newest first.
func (s *Store) QueryRecords(ctx context.Context, f Filter) ([]Record, error) {
	var where []string
	var args []any

	switch {
	case f.OnlyArchived:
		where = append(where, "archived = 1")
	case !f.IncludeArchived:
		where = append(where, "archived = 0")
	}
	if len(f.Categories) > 0 {
		ph := make([]string, len(f.Categories))
		for i, c := range f.Categories {
			ph[i] = "?"
			args = append(args, string(c))
		}
		where = append(where, "category IN ("+strings.Join(ph, ",")+")")
	}
	for _, tag := range normalizeTags(f.Tags) {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(records.tags) WHERE json_each.value = ?)")
		args = append(args, tag)
	}
	if f.FilePath != "" {
		where = append(where, "(file_path = ? OR file_path_rel = ?)")
		args = append(args, f.FilePath, f.FilePath)
	}
	if f.Outcome != OutcomeUnset {
		where = append(where, "outcome = ?")
		args = append(args, string(f.Outcome))
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.Since))
	}
	if f.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*f.Until))
	}
	if len(f.IDs) > 0 {
		ph, idArgs := int64Args(f.IDs)
		where = append(where, "id IN ("+ph+")")
		args = append(args, idArgs...)
	}

	query := `SELECT ` + recordColumns + ` FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Versions returns the version log of a record in ascending order.
func (s *Store) Versions(ctx context.Context, id int64) ([]RecordVersion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id, version, change, snapshot, changed_at
		 FROM record_versions WHERE record_id = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("memory: versions: %w", err)
	}
	defer rows.Close()

	var out []RecordVersion
	for rows.Next() {
		var v RecordVersion
		var changed string
		if err := rows.Scan(&v.RecordID, &v.Version, &v.Change, &v.Snapshot, &changed); err != nil {
			return nil, fmt.Errorf("memory: scan version: %w", err)
		}
		v.ChangedAt = parseTime(changed)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ─── Update ──────────────────────────────────────────────────────────────────

// UpdateRecord applies p and appends a new version labelled change.
func (s *Store) UpdateRecord(ctx context.Context, id int64, p RecordPatch, change string) (*Record, error) {
	var updated *Record
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		rec, err := getRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Content != nil {
			c := strings.TrimSpace(*p.Content)
			if c == "" {
				return errors.New("content is required")
			}
			if len(c) > s.cfg.MaxContentLength {
				return fmt.Errorf("content exceeds %d characters", s.cfg.MaxContentLength)
			}
			rec.Content = c
			rec.NormalizedHash = HashNormalized(c)
		}
		if p.Rationale != nil {
			rec.Rationale = *p.Rationale
		}
		if p.Tags != nil {
			rec.Tags = normalizeTags(p.Tags)
		}
		if p.Embedding != nil {
			rec.Embedding = p.Embedding
		}
		if p.Importance != nil {
			rec.Importance = *p.Importance
		}
		if p.Surprise != nil {
			rec.Surprise = *p.Surprise
		}
		if p.Outcome != nil {
			rec.Outcome = *p.Outcome
		}
		if p.OutcomeNote != nil {
			rec.OutcomeNote = *p.OutcomeNote
		}
		if p.Pinned != nil {
			rec.Pinned = *p.Pinned
		}
		if p.Archived != nil {
			rec.Archived = *p.Archived
		}
		rec.UpdatedAt = now()

		_, err = s.execHook(ctx, tx,
			`UPDATE records SET content = ?, rationale = ?, tags = ?, embedding = ?,
				importance = ?, surprise = ?, outcome = ?, outcome_note = ?,
				pinned = ?, archived = ?, normalized_hash = ?, updated_at = ?
			 WHERE id = ?`,
			rec.Content, rec.Rationale, encodeStrings(rec.Tags), encodeEmbedding(rec.Embedding),
			rec.Importance, rec.Surprise, string(rec.Outcome), rec.OutcomeNote,
			boolInt(rec.Pinned), boolInt(rec.Archived), rec.NormalizedHash,
			formatTime(rec.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("update record: %w", err)
		}

		next, err := nextVersion(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.writeVersion(ctx, tx, rec, next, change); err != nil {
			return err
		}
		updated = rec
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

// ArchiveRecords archives every listed live record, each with its own
// version entry, in one transaction. It returns the ids actually archived.
func (s *Store) ArchiveRecords(ctx context.Context, ids []int64, change string) ([]int64, error) {
	var archived []int64
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		archived = archived[:0]
		for _, id := range ids {
			rec, err := getRecord(ctx, tx, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if rec.Archived {
				continue
			}
			rec.Archived = true
			rec.UpdatedAt = now()
			if _, err := s.execHook(ctx, tx,
				`UPDATE records SET archived = 1, updated_at = ? WHERE id = ?`,
				formatTime(rec.UpdatedAt), id); err != nil {
				return fmt.Errorf("archive record %d: %w", id, err)
			}
			next, err := nextVersion(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := s.writeVersion(ctx, tx, rec, next, change); err != nil {
				return err
			}
			archived = append(archived, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	return archived, nil
}

// IncrementRecall bumps recall_count for each id. Versions are not written;
// recall bookkeeping is not a content change.
func (s *Store) IncrementRecall(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	ph, args := int64Args(ids)
	return s.withRetry(ctx, func() error {
		_, err := s.execHook(ctx, s.db,
			`UPDATE records SET recall_count = recall_count + 1 WHERE id IN (`+ph+`)`, args...)
		return err
	})
}

// ─── Maintenance queries ─────────────────────────────────────────────────────

// DuplicateGroups returns groups of two or more live records that share
// category, normalized content and file association. IDs within a group
// are ordered newest first.
func (s *Store) DuplicateGroups(ctx context.Context) ([]DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, file_path, normalized_hash, id
		 FROM records
		 WHERE archived = 0 AND normalized_hash IN (
			SELECT normalized_hash FROM records WHERE archived = 0
			GROUP BY normalized_hash, category, file_path HAVING COUNT(*) > 1
		 )
		 ORDER BY category, file_path, normalized_hash, created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("memory: duplicate groups: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var cat, file, hash string
		var id int64
		if err := rows.Scan(&cat, &file, &hash, &id); err != nil {
			return nil, fmt.Errorf("memory: scan duplicate: %w", err)
		}
		n := len(groups)
		if n > 0 && groups[n-1].Category == Category(cat) && groups[n-1].FilePath == file && groups[n-1].Hash == hash {
			groups[n-1].IDs = append(groups[n-1].IDs, id)
			continue
		}
		groups = append(groups, DuplicateGroup{Category: Category(cat), FilePath: file, Hash: hash, IDs: []int64{id}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The subquery matches on hash alone; drop groups that did not
	// actually collide on category and file too.
	out := groups[:0]
	for _, g := range groups {
		if len(g.IDs) > 1 {
			out = append(out, g)
		}
	}
	return out, nil
}

// StaleRecords returns live, unpinned, never-recalled records of decaying
// categories created before cutoff.
func (s *Store) StaleRecords(ctx context.Context, cutoff time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records
		 WHERE archived = 0 AND pinned = 0 AND recall_count = 0
		   AND category IN (?, ?) AND created_at < ?
		 ORDER BY created_at, id`,
		string(CategoryDecision), string(CategoryLearning), formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("memory: stale records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("memory: scan record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// CountRecords returns the number of live records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE archived = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory: count records: %w", err)
	}
	return n, nil
}

// ─── Internals ───────────────────────────────────────────────────────────────

func (s *Store) writeVersion(ctx context.Context, tx *sql.Tx, rec *Record, version int, change string) error {
	snap, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("snapshot record: %w", err)
	}
	_, err = s.execHook(ctx, tx,
		`INSERT INTO record_versions (record_id, version, change, snapshot, changed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, version, change, string(snap), formatTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	return nil
}

func nextVersion(ctx context.Context, tx *sql.Tx, id int64) (int, error) {
	var v int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM record_versions WHERE record_id = ?`, id).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return v, nil
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                     Record
		category, tags, outcome string
		created, updated        string
		embedding               []byte
		pinned, archived        int
	)
	err := row.Scan(&rec.ID, &category, &rec.Content, &rec.Rationale, &tags,
		&rec.FilePath, &rec.FilePathRel, &embedding, &rec.Importance, &rec.Surprise,
		&outcome, &rec.OutcomeNote, &rec.RecallCount, &pinned, &archived,
		&rec.NormalizedHash, &created, &updated)
	if err != nil {
		return nil, err
	}
	rec.Category = Category(category)
	rec.Outcome = Outcome(outcome)
	rec.Tags = decodeStrings(tags)
	rec.Embedding = decodeEmbedding(embedding)
	rec.Pinned = pinned != 0
	rec.Archived = archived != 0
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return &rec, nil
}

// HashNormalized is the dedupe key: lowercased, whitespace-collapsed content.
func HashNormalized(content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func encodeStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(v string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(v), &out)
	return out
}

func encodeInt64s(v []int64) string {
	if v == nil {
		v = []int64{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeInt64s(v string) []int64 {
	out := []int64{}
	_ = json.Unmarshal([]byte(v), &out)
	return out
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func int64Args(ids []int64) (string, []any) {
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = "?"
		args[i] = id
	}
	return strings.Join(ph, ","), args
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Truncate shortens s to max characters with an ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
