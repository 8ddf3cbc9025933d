package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/lexical"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/router"
	"github.com/HendryAvila/warden/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProject(t *testing.T, withVectors bool) *registry.Project {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, ".warden")
	store, err := memory.New(memory.DefaultConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var idx vectorindex.Index = vectorindex.Unavailable{}
	if withVectors {
		c, err := vectorindex.OpenChromem(filepath.Join(dir, "vectors"))
		require.NoError(t, err)
		idx = c
	}
	return &registry.Project{
		Root:        root,
		Store:       store,
		Lexical:     lexical.New(),
		Rules:       lexical.New(),
		Communities: lexical.New(),
		Vectors:     idx,
	}
}

func newService(t *testing.T) *Service {
	t.Helper()
	return New(DefaultConfig(),
		embedding.NewStaticProvider(embedding.NewHash(128)),
		covenant.NewSigner([]byte("0123456789abcdef0123456789abcdef")),
		nil)
}

func remember(t *testing.T, s *Service, p *registry.Project, n Note) int64 {
	t.Helper()
	out, err := s.Remember(context.Background(), p, n)
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	return out.ID
}

func TestRemember_StoresAndIndexes(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	ctx := context.Background()

	out, err := s.Remember(ctx, p, Note{
		Category: memory.CategoryDecision,
		Content:  "Use JWT for auth",
		Tags:     []string{"auth"},
		FilePath: "internal/auth/jwt.go",
	})
	require.NoError(t, err)
	assert.False(t, out.Degraded)
	assert.Equal(t, 1.0, out.Surprise, "first record has no neighbours")
	assert.Empty(t, out.Conflicts)

	rec, err := p.Store.GetRecord(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(p.Root, "internal/auth/jwt.go"), rec.FilePath)
	assert.Equal(t, "internal/auth/jwt.go", rec.FilePathRel)
	assert.NotEmpty(t, rec.Embedding)
	assert.True(t, p.Lexical.Has(out.ID))

	versions, err := p.Store.Versions(ctx, out.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, 1, versions[0].Version)
}

func TestRemember_DuplicateReturnsExistingID(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	first := remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Wrap errors with %w"})

	out, err := s.Remember(context.Background(), p, Note{Category: memory.CategoryPattern, Content: "  wrap ERRORS with %w "})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Equal(t, first, out.ID)

	n, err := p.Store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRemember_WarnsAboutPastFailures(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	ctx := context.Background()
	failed := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Use polling for cache invalidation"})
	_, err := s.RecordOutcome(ctx, p, failed, memory.OutcomeFailed, "stale reads under load")
	require.NoError(t, err)
	warn := remember(t, s, p, Note{Category: memory.CategoryWarning, Content: "Never call the billing API from tests"})

	out, err := s.Remember(ctx, p, Note{Category: memory.CategoryDecision, Content: "Use polling for cache invalidation in the worker"})
	require.NoError(t, err)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, failed, out.Conflicts[0].ID)
	assert.Contains(t, out.Conflicts[0].Reason, "failed")
	assert.NotZero(t, out.ID, "conflicts never block the write")

	out, err = s.Remember(ctx, p, Note{Category: memory.CategoryLearning, Content: "The billing API from tests costs money"})
	require.NoError(t, err)
	ids := []int64{}
	for _, c := range out.Conflicts {
		ids = append(ids, c.ID)
	}
	assert.Contains(t, ids, warn)
}

func TestRemember_DegradesWithoutVectors(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	out, err := s.Remember(context.Background(), p, Note{Category: memory.CategoryLearning, Content: "Migrations run in CI"})
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.True(t, p.Lexical.Has(out.ID))
}

func TestRecall_HybridRanking(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	ctx := context.Background()
	jwt := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Use JWT for authentication", Tags: []string{"auth"}})
	remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Postgres connection pooling with pgxpool"})

	res, err := s.Recall(ctx, p, Query{Text: "authentication tokens", Complexity: router.Medium})
	require.NoError(t, err)
	assert.Equal(t, router.StrategyHybrid, res.Strategy)
	assert.False(t, res.Degraded)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, jwt, res.Results[0].Record.ID)
	assert.NotEmpty(t, res.Results[0].Age)

	rec, err := p.Store.GetRecord(ctx, jwt)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.RecallCount)
}

func TestRecall_VectorUnavailableFallsBackToLexical(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	id := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "authentication uses JWT"})

	res, err := s.Recall(context.Background(), p, Query{Text: "authentication"})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, router.StrategyLexical, res.Strategy)
	require.Len(t, res.Results, 1)
	assert.Equal(t, id, res.Results[0].Record.ID)
}

func TestRecall_FiltersAndPaging(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	for i, content := range []string{
		"cache warmup on deploy",
		"cache eviction policy is LRU",
		"cache keys include tenant id",
	} {
		tags := []string{"cache"}
		if i == 1 {
			tags = append(tags, "perf")
		}
		remember(t, s, p, Note{Category: memory.CategoryPattern, Content: content, Tags: tags})
	}
	remember(t, s, p, Note{Category: memory.CategoryWarning, Content: "cache is not shared across regions"})

	ctx := context.Background()
	res, err := s.Recall(ctx, p, Query{Text: "cache", Categories: []memory.Category{memory.CategoryPattern}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, "Showing 2 of 3. Use offset to see more.", res.Hint)

	res, err = s.Recall(ctx, p, Query{Text: "cache", Categories: []memory.Category{memory.CategoryPattern}, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	assert.Empty(t, res.Hint)

	res, err = s.Recall(ctx, p, Query{Text: "cache", Tags: []string{"PERF"}})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Contains(t, res.Results[0].Record.Tags, "perf")
}

func TestRecall_EmptyQuery(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "anything at all"})

	res, err := s.Recall(context.Background(), p, Query{Text: "the of and"})
	require.NoError(t, err)
	assert.NotNil(t, res.Results)
	assert.Empty(t, res.Results)
}

func TestRecall_CommunityStrategy(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	a := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Sessions expire after 30 minutes", Tags: []string{"auth"}})
	b := remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Refresh tokens rotate on use", Tags: []string{"auth"}})

	comms, err := s.RebuildCommunities(ctx, p)
	require.NoError(t, err)
	require.NotEmpty(t, comms)

	res, err := s.Recall(ctx, p, Query{Text: "auth", Complexity: router.Simple})
	require.NoError(t, err)
	assert.Equal(t, router.StrategyCommunity, res.Strategy)
	var got []int64
	for _, h := range res.Results {
		got = append(got, h.Record.ID)
	}
	assert.ElementsMatch(t, []int64{a, b}, got)

	stale, err := s.CommunitiesStale(ctx, p)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestRecall_ComplexExpandsGraph(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	ctx := context.Background()
	seed := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Adopt event sourcing for orders"})
	linked := remember(t, s, p, Note{Category: memory.CategoryLearning, Content: "Snapshots every 100 events keep replays fast"})
	_, err := s.Link(ctx, p, seed, linked, memory.RelLedTo, "")
	require.NoError(t, err)

	res, err := s.Recall(ctx, p, Query{Text: "event sourcing orders", Complexity: router.Complex})
	require.NoError(t, err)
	var got []int64
	for _, h := range res.Results {
		got = append(got, h.Record.ID)
	}
	assert.Contains(t, got, linked)
}

func TestSearch_LexicalOnly(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	id := remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Retry with exponential backoff"})

	res, err := s.Search(context.Background(), p, Query{Text: "backoff"})
	require.NoError(t, err)
	assert.Equal(t, router.StrategyLexical, res.Strategy)
	require.Len(t, res.Results, 1)
	assert.Equal(t, id, res.Results[0].Record.ID)
	assert.Greater(t, res.Results[0].Score, 0.0)
}

func TestArchiveAndGet(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	ctx := context.Background()
	id := remember(t, s, p, Note{Category: memory.CategoryLearning, Content: "Flaky test in payments suite"})

	archived, err := s.Archive(ctx, p, []int64{id}, "")
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, archived)
	assert.False(t, p.Lexical.Has(id))

	res, err := s.Recall(ctx, p, Query{Text: "flaky payments"})
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	d, err := s.Get(ctx, p, id, memory.DetailFull)
	require.NoError(t, err)
	require.NotNil(t, d.Record)
	assert.True(t, d.Record.Archived)
	assert.Len(t, d.Versions, 2)

	d, err = s.Get(ctx, p, 999, "")
	require.NoError(t, err)
	assert.Nil(t, d.Record)

	_, err = s.Archive(ctx, p, []int64{999}, "")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestOutcomeAndPinWriteVersions(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	id := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Use sqlc for queries"})

	rec, err := s.RecordOutcome(ctx, p, id, memory.OutcomeWorked, "fewer runtime errors")
	require.NoError(t, err)
	assert.Equal(t, memory.OutcomeWorked, rec.Outcome)
	rec, err = s.Pin(ctx, p, id, true)
	require.NoError(t, err)
	assert.True(t, rec.Pinned)

	versions, err := p.Store.Versions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	_, err = s.RecordOutcome(ctx, p, 4242, memory.OutcomeFailed, "")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestLinkUnlinkTrace(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	a := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Split the monolith"})
	b := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Introduce a message bus"})

	_, err := s.Link(ctx, p, a, b, memory.RelLedTo, "")
	require.NoError(t, err)
	_, err = s.Link(ctx, p, a, b, memory.RelLedTo, "")
	assert.ErrorIs(t, err, memory.ErrDuplicateRelation)
	_, err = s.Link(ctx, p, a, a, memory.RelRelatedTo, "")
	assert.ErrorIs(t, err, memory.ErrSelfRelation)
	_, err = s.Link(ctx, p, a, 999, memory.RelRelatedTo, "")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	chain, err := s.Trace(ctx, p, a, 2)
	require.NoError(t, err)
	require.Len(t, chain.Nodes, 1)
	assert.Equal(t, b, chain.Nodes[0].ID)

	require.NoError(t, s.Unlink(ctx, p, a, b, memory.RelLedTo))
	assert.ErrorIs(t, s.Unlink(ctx, p, a, b, memory.RelLedTo), memory.ErrNotFound)

	chain, err = s.Trace(ctx, p, 12345, 2)
	require.NoError(t, err)
	assert.Nil(t, chain.Root)
	assert.Empty(t, chain.Nodes)
}

func TestCheckRules(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	low, err := s.AddRule(ctx, p, memory.Rule{Trigger: "editing database migrations", MustDo: []string{"add a down migration"}, Priority: 1, Enabled: true})
	require.NoError(t, err)
	high, err := s.AddRule(ctx, p, memory.Rule{Trigger: "migrations touching the users table", MustNot: []string{"drop columns"}, Priority: 9, Enabled: true})
	require.NoError(t, err)
	off, err := s.AddRule(ctx, p, memory.Rule{Trigger: "migrations on fridays", Priority: 5, Enabled: true})
	require.NoError(t, err)
	enabled := false
	_, err = s.UpdateRule(ctx, p, off.ID, memory.RulePatch{Enabled: &enabled})
	require.NoError(t, err)

	matches, err := s.CheckRules(ctx, p, "write migrations for the users table")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(matches), 2)
	assert.Equal(t, high.ID, matches[0].Rule.ID)
	assert.Equal(t, MatchKeyword, matches[0].Via)
	var ids []int64
	for _, m := range matches {
		ids = append(ids, m.Rule.ID)
	}
	assert.Contains(t, ids, low.ID)
	assert.NotContains(t, ids, off.ID)

	all, err := s.ListRules(ctx, p, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCleanupDuplicates_DryRunDoesNotMutate(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		id, err := p.Store.InsertRecord(ctx, &memory.Record{Category: memory.CategoryPattern, Content: "Use table-driven tests", FilePath: "/x/a_test.go"})
		require.NoError(t, err)
		p.Lexical.Add(id, "Use table-driven tests")
	}

	preview, err := s.CleanupDuplicates(ctx, p, true)
	require.NoError(t, err)
	require.Len(t, preview.Groups, 1)
	assert.Len(t, preview.Groups[0].IDs, 2)
	assert.Empty(t, preview.Archived)
	n, err := p.Store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	done, err := s.CleanupDuplicates(ctx, p, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{preview.Groups[0].IDs[1]}, done.Archived)
	n, err = p.Store.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, p.Lexical.Len())
}

func TestPruneStale(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	old := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Temporary feature flag for beta"})
	pinned := remember(t, s, p, Note{Category: memory.CategoryLearning, Content: "Keep this one around"})
	_, err := s.Pin(ctx, p, pinned, true)
	require.NoError(t, err)
	remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Patterns never decay"})

	s.cfg.Now = func() time.Time { return time.Now().Add(100 * 24 * time.Hour) }

	preview, err := s.PruneStale(ctx, p, 0, true)
	require.NoError(t, err)
	require.Len(t, preview.Candidates, 1)
	assert.Equal(t, old, preview.Candidates[0].ID)
	assert.Empty(t, preview.Archived)

	done, err := s.PruneStale(ctx, p, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{old}, done.Archived)
	assert.False(t, p.Lexical.Has(old))
}

func TestRebuildIndex(t *testing.T) {
	s, p := newService(t), newProject(t, true)
	ctx := context.Background()
	id, err := p.Store.InsertRecord(ctx, &memory.Record{Category: memory.CategoryPattern, Content: "Written behind the index's back"})
	require.NoError(t, err)
	assert.False(t, p.Lexical.Has(id))

	out, err := s.RebuildIndex(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Records)
	assert.Equal(t, 1, out.Embedded)
	assert.Equal(t, 1, out.Vectors)
	assert.False(t, out.Degraded)
	assert.True(t, p.Lexical.Has(id))
}

func TestBrief_Idempotent(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	remember(t, s, p, Note{Category: memory.CategoryWarning, Content: "Do not edit generated files"})

	first, err := s.Brief(ctx, p, "sess-1")
	require.NoError(t, err)
	assert.True(t, first.NewSession)
	assert.True(t, first.Covenant.Briefed)
	assert.Len(t, first.Warnings, 1)
	assert.Contains(t, first.Next, covenant.OpConsult)

	second, err := s.Brief(ctx, p, "sess-1")
	require.NoError(t, err)
	assert.False(t, second.NewSession)
	assert.Equal(t, first.Covenant, second.Covenant)

	sessions, err := p.Store.RecentSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	third, err := s.Brief(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", third.SessionID, "an empty session id resumes the current one")
}

func TestConsult_IssuesVerifiableToken(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	ctx := context.Background()
	failed := remember(t, s, p, Note{Category: memory.CategoryDecision, Content: "Rewrite the importer with goroutines per row"})
	_, err := s.RecordOutcome(ctx, p, failed, memory.OutcomeFailed, "exhausted connections")
	require.NoError(t, err)
	_, err = s.Brief(ctx, p, "sess-1")
	require.NoError(t, err)

	c, err := s.Consult(ctx, p, "rewrite the importer")
	require.NoError(t, err)
	require.NotEmpty(t, c.PreflightToken)
	assert.Equal(t, covenant.Counseled, c.Covenant.Stage)
	require.NotEmpty(t, c.Warnings)
	assert.Equal(t, failed, c.Warnings[0].ID)

	tok, err := s.Signer().Verify(c.PreflightToken, p.Root, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", tok.SessionID)

	hist, err := p.Store.RecentConsultations(ctx, 5)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "rewrite the importer", hist[0].Description)
}

func TestHealth(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Health probes are cheap"})

	h, err := s.Health(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Storage)
	assert.Equal(t, "unavailable", h.Vectors)
	assert.Equal(t, 1, h.LiveRecords)
	assert.True(t, h.IndexConsistent)
}

func TestExport(t *testing.T) {
	s, p := newService(t), newProject(t, false)
	remember(t, s, p, Note{Category: memory.CategoryPattern, Content: "Exported"})
	data, err := s.Export(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, data.Records, 1)
	assert.Equal(t, memory.ExportVersion, data.Version)
}
