package memory

import (
	"context"
	"fmt"
)

// ExportVersion is the format version written into ExportData.
const ExportVersion = "1"

// Export returns a full dump of the store, archived records included.
func (s *Store) Export(ctx context.Context) (*ExportData, error) {
	data := &ExportData{
		Version:    ExportVersion,
		ExportedAt: now(),
	}

	var err error
	if data.Records, err = s.QueryRecords(ctx, Filter{IncludeArchived: true}); err != nil {
		return nil, fmt.Errorf("export records: %w", err)
	}
	if data.Relations, err = s.AllRelations(ctx); err != nil {
		return nil, fmt.Errorf("export relations: %w", err)
	}
	if data.Rules, err = s.ListRules(ctx, false); err != nil {
		return nil, fmt.Errorf("export rules: %w", err)
	}
	if data.Communities, err = s.ListCommunities(ctx); err != nil {
		return nil, fmt.Errorf("export communities: %w", err)
	}
	if data.Records == nil {
		data.Records = []Record{}
	}
	return data, nil
}

// Stats returns aggregate counts. Individual count failures leave the
// field at zero.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByCategory: make(map[Category]int)}

	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE archived = 0`).Scan(&stats.TotalRecords)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE archived = 1`).Scan(&stats.ArchivedRecords)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE pinned = 1 AND archived = 0`).Scan(&stats.PinnedRecords)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE outcome = 'failed' AND archived = 0`).Scan(&stats.FailedRecords)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM relations`).Scan(&stats.Relations)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rules`).Scan(&stats.Rules)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM communities`).Scan(&stats.Communities)
	_ = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&stats.Sessions)

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM records WHERE archived = 0 GROUP BY category`)
	if err != nil {
		return stats, nil
	}
	defer rows.Close()
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err == nil {
			stats.ByCategory[Category(cat)] = n
		}
	}
	return stats, nil
}
