package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/recall"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/HendryAvila/warden/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	d    *Dispatcher
	root string
	now  time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T, backend vectorindex.Backend) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir(), now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	rcfg := registry.DefaultConfig()
	rcfg.Now = clock
	reg := registry.New(rcfg, registry.NewOpener(registry.OpenOptions{DataDirName: ".warden"}, backend, nil), nil)
	t.Cleanup(func() { reg.Close() })

	scfg := recall.DefaultConfig()
	scfg.Now = clock
	svc := recall.New(scfg,
		embedding.NewStaticProvider(embedding.NewHash(64)),
		covenant.NewSigner([]byte("fedcba9876543210fedcba9876543210")),
		nil)

	f.d = New(Config{MaxContentLength: 200, Now: clock}, reg, svc, nil, nil)
	return f
}

func (f *fixture) call(t *testing.T, op string, args map[string]any) *Response {
	t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["project_path"]; !ok {
		args["project_path"] = f.root
	}
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return f.d.DispatchRaw(context.Background(), op, raw)
}

func (f *fixture) ok(t *testing.T, op string, args map[string]any) map[string]any {
	t.Helper()
	resp := f.call(t, op, args)
	require.Nil(t, resp.Error, "%s failed: %+v", op, resp.Error)
	require.True(t, resp.OK)
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestDispatch_MutationBeforeBriefingIsRefused(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})

	resp := f.call(t, OpRemember, map[string]any{"category": "decision", "content": "Use JWT"})
	require.NotNil(t, resp.Error)
	assert.False(t, resp.OK)
	assert.Equal(t, CodeCommunionRequired, resp.Error.Code)
	assert.Contains(t, resp.Error.Remedy, OpGetBriefing)
	require.NotNil(t, resp.Error.State)
	assert.Equal(t, covenant.Unbriefed, resp.Error.State.Stage)

	f.ok(t, OpGetBriefing, nil)
	exp := f.ok(t, OpExportMemories, nil)
	assert.Empty(t, exp["records"], "refused mutation must not have stored anything")
}

func TestDispatch_ReadsNeedOnlyTheSession(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})

	resp := f.call(t, OpRecall, map[string]any{"query": "auth"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCommunionRequired, resp.Error.Code)

	f.ok(t, OpGetBriefing, nil)
	f.ok(t, OpRecall, map[string]any{"query": "auth"})
	f.ok(t, OpHealth, nil)
}

func TestDispatch_CounselFlow(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})
	f.ok(t, OpGetBriefing, nil)

	resp := f.call(t, OpRemember, map[string]any{"category": "decision", "content": "Use JWT for auth"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCounselRequired, resp.Error.Code)
	assert.Contains(t, resp.Error.Remedy, OpContextCheck)

	check := f.ok(t, OpContextCheck, map[string]any{"action": "store the auth decision"})
	token, _ := check["preflight_token"].(string)
	require.NotEmpty(t, token)

	stored := f.ok(t, OpRemember, map[string]any{
		"category":        "decision",
		"content":         "Use JWT for auth",
		"preflight_token": token,
	})
	assert.NotZero(t, stored["id"])

	// Without a token the live consultation still admits the call.
	f.ok(t, OpRemember, map[string]any{"category": "pattern", "content": "Wrap errors with context"})

	f.advance(6 * time.Minute)
	resp = f.call(t, OpRemember, map[string]any{"category": "learning", "content": "Expired window"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCounselRequired, resp.Error.Code)

	resp = f.call(t, OpRemember, map[string]any{"category": "learning", "content": "Expired token", "preflight_token": token})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCounselRequired, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "expired")
}

func TestDispatch_TokenForAnotherProjectIsRejected(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})
	other := t.TempDir()
	f.ok(t, OpGetBriefing, nil)
	f.ok(t, OpGetBriefing, map[string]any{"project_path": other})

	check := f.ok(t, OpContextCheck, map[string]any{"project_path": other, "action": "anything"})
	resp := f.call(t, OpRemember, map[string]any{
		"category":        "decision",
		"content":         "Crossed wires",
		"preflight_token": check["preflight_token"],
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeCounselRequired, resp.Error.Code)
}

func TestDispatch_BriefingIsIdempotent(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})

	first := f.ok(t, OpGetBriefing, map[string]any{"session_id": "s-1"})
	second := f.ok(t, OpGetBriefing, map[string]any{"session_id": "s-1"})
	assert.Equal(t, true, first["new_session"])
	assert.Equal(t, false, second["new_session"])
	cov := second["covenant"].(map[string]any)
	assert.Equal(t, string(covenant.Briefed), cov["stage"])
}

func TestDispatch_ValidationErrorsNameTheField(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})

	cases := []struct {
		name  string
		op    string
		args  map[string]any
		field string
	}{
		{"missing project", OpHealth, map[string]any{"project_path": ""}, "project_path"},
		{"bad category", OpRemember, map[string]any{"category": "opinion", "content": "x"}, "category"},
		{"missing content", OpRemember, map[string]any{"category": "decision"}, "content"},
		{"content too long", OpRemember, map[string]any{"category": "decision", "content": strings.Repeat("a", 201)}, "content"},
		{"self link", OpLinkMemories, map[string]any{"from_id": 1, "to_id": 1}, "to_id"},
		{"depth", OpTraceChain, map[string]any{"id": 1, "depth": 9}, "depth"},
		{"outcome", OpRecordOutcome, map[string]any{"id": 1, "outcome": "meh"}, "outcome"},
		{"window order", OpRecall, map[string]any{"query": "x", "since": "2026-02-01", "until": "2026-01-01"}, "until"},
		{"bad date", OpSearchMemories, map[string]any{"query": "x", "since": "yesterday"}, "since"},
		{"unknown field", OpHealth, map[string]any{"verbose": true}, "verbose"},
		{"wrong type", OpGetMemory, map[string]any{"id": "seven"}, "id"},
		{"missing path dir", OpHealth, map[string]any{"project_path": "/definitely/not/here"}, "project_path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.call(t, tc.op, tc.args)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeValidation, resp.Error.Code)
			assert.Equal(t, tc.field, resp.Error.Field)
		})
	}
}

func TestDispatch_UnknownOperation(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})
	resp := f.call(t, "drop_everything", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeValidation, resp.Error.Code)
	assert.Equal(t, "op", resp.Error.Field)
}

func TestDispatch_WritesToUnknownRecordsAreNotFound(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})
	f.ok(t, OpGetBriefing, nil)
	f.ok(t, OpContextCheck, map[string]any{"action": "tidy up"})

	for _, tc := range []struct {
		op   string
		args map[string]any
	}{
		{OpRecordOutcome, map[string]any{"id": 404, "outcome": "worked"}},
		{OpPinMemory, map[string]any{"id": 404}},
		{OpArchiveMemory, map[string]any{"ids": []int{404}}},
		{OpLinkMemories, map[string]any{"from_id": 404, "to_id": 405}},
		{OpUpdateRule, map[string]any{"id": 404, "priority": 3}},
	} {
		resp := f.call(t, tc.op, tc.args)
		require.NotNil(t, resp.Error, tc.op)
		assert.Equal(t, CodeNotFound, resp.Error.Code, tc.op)
	}

	// Reads of unknown ids are empty results, not errors.
	got := f.ok(t, OpGetMemory, map[string]any{"id": 404})
	assert.Nil(t, got["record"])
}

func TestDispatch_DegradedRecallWithoutVectors(t *testing.T) {
	f := newFixture(t, vectorindex.NoneBackend{})
	f.ok(t, OpGetBriefing, nil)
	f.ok(t, OpContextCheck, map[string]any{"action": "record auth choice"})

	resp := f.call(t, OpRemember, map[string]any{"category": "decision", "content": "JWT authentication tokens expire hourly"})
	require.Nil(t, resp.Error)
	assert.True(t, resp.Degraded, "vector upsert cannot succeed")

	resp = f.call(t, OpRecall, map[string]any{"query": "JWT authentication tokens"})
	require.Nil(t, resp.Error)
	assert.True(t, resp.Degraded)
	res := resp.Data.(*recall.Results)
	assert.Equal(t, "lexical", res.Strategy)
	require.Len(t, res.Results, 1)
}

func TestDispatch_RulesAndGraph(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})
	f.ok(t, OpGetBriefing, nil)
	f.ok(t, OpContextCheck, map[string]any{"action": "set up rules"})

	f.ok(t, OpAddRule, map[string]any{
		"trigger":  "database migration",
		"must_do":  []string{"back up the database"},
		"priority": 5,
	})
	matches := f.ok(t, OpCheckRules, map[string]any{"action": "run the database migration"})
	assert.Len(t, matches["matches"], 1)

	a := f.ok(t, OpRemember, map[string]any{"category": "decision", "content": "Move orders to Postgres"})
	b := f.ok(t, OpRemember, map[string]any{"category": "learning", "content": "Postgres needs connection pooling"})
	f.ok(t, OpLinkMemories, map[string]any{"from_id": a["id"], "to_id": b["id"], "type": "led_to"})

	dup := f.call(t, OpLinkMemories, map[string]any{"from_id": a["id"], "to_id": b["id"], "type": "led_to"})
	require.NotNil(t, dup.Error)
	assert.Equal(t, CodeValidation, dup.Error.Code)

	chain := f.ok(t, OpTraceChain, map[string]any{"id": a["id"]})
	assert.Len(t, chain["nodes"], 1)

	f.ok(t, OpUnlinkMemories, map[string]any{"from_id": a["id"], "to_id": b["id"], "type": "led_to"})
	chain = f.ok(t, OpTraceChain, map[string]any{"id": a["id"]})
	assert.Empty(t, chain["nodes"])
}

func TestDispatch_MaintenanceDefaultsToDryRun(t *testing.T) {
	f := newFixture(t, vectorindex.ChromemBackend{})
	f.ok(t, OpGetBriefing, nil)
	f.ok(t, OpContextCheck, map[string]any{"action": "clean up"})

	out := f.ok(t, OpCleanupMemories, nil)
	assert.Equal(t, true, out["dry_run"])
	out = f.ok(t, OpPruneMemories, map[string]any{"older_than_days": 30})
	assert.Equal(t, true, out["dry_run"])
	f.ok(t, OpRebuildIndex, nil)
	f.ok(t, OpRebuildCommunities, nil)
}

func TestPolicy_ClassifiesEveryOperation(t *testing.T) {
	p := Policy()
	for _, op := range Ops() {
		_, explicit := p.Ops()[op]
		assert.True(t, explicit, op)
	}
	assert.Equal(t, covenant.Exempt, p.ClassOf(OpGetBriefing))
	assert.Equal(t, covenant.Exempt, p.ClassOf(OpHealth))
	assert.Equal(t, covenant.SessionGated, p.ClassOf(OpRecall))
	assert.Equal(t, covenant.CounselGated, p.ClassOf(OpRemember))
	assert.Equal(t, covenant.CounselGated, p.ClassOf("brand_new_op"))
}
