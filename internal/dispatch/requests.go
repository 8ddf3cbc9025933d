package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
)

// Operation names. The MCP tool and HTTP route names match.
const (
	OpGetBriefing        = covenant.OpSessionStart
	OpContextCheck       = covenant.OpConsult
	OpHealth             = "health"
	OpRecall             = "recall"
	OpSearchMemories     = "search_memories"
	OpGetMemory          = "get_memory"
	OpCheckRules         = "check_rules"
	OpListRules          = "list_rules"
	OpTraceChain         = "trace_chain"
	OpExportMemories     = "export_memories"
	OpRemember           = "remember"
	OpRecordOutcome      = "record_outcome"
	OpLinkMemories       = "link_memories"
	OpUnlinkMemories     = "unlink_memories"
	OpAddRule            = "add_rule"
	OpUpdateRule         = "update_rule"
	OpPinMemory          = "pin_memory"
	OpArchiveMemory      = "archive_memory"
	OpCleanupMemories    = "cleanup_memories"
	OpPruneMemories      = "prune_memories"
	OpRebuildIndex       = "rebuild_index"
	OpRebuildCommunities = "rebuild_communities"
)

// Policy is the fixed operation classification.
func Policy() *covenant.Policy {
	return covenant.NewPolicy(
		[]string{OpHealth},
		[]string{OpRecall, OpSearchMemories, OpGetMemory, OpCheckRules, OpListRules, OpTraceChain, OpExportMemories},
		[]string{OpRemember, OpRecordOutcome, OpLinkMemories, OpUnlinkMemories, OpAddRule, OpUpdateRule,
			OpPinMemory, OpArchiveMemory, OpCleanupMemories, OpPruneMemories, OpRebuildIndex, OpRebuildCommunities},
	)
}

// Request is one typed operation request.
type Request interface {
	Op() string
	Project() string
	Token() string
}

// ProjectRef names the target project.
type ProjectRef struct {
	ProjectPath string `json:"project_path" validate:"required"`
}

func (r ProjectRef) Project() string { return r.ProjectPath }
func (ProjectRef) Token() string     { return "" }

// Gated carries the optional preflight token of consultation-gated ops.
type Gated struct {
	ProjectRef
	PreflightToken string `json:"preflight_token,omitempty"`
}

func (g Gated) Token() string { return g.PreflightToken }

// Filters narrow retrieval.
type Filters struct {
	Categories  []string `json:"categories,omitempty" validate:"omitempty,dive,oneof=decision pattern warning learning"`
	Tags        []string `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	FilePath    string   `json:"file_path,omitempty"`
	Since       string   `json:"since,omitempty"`
	Until       string   `json:"until,omitempty"`
	Offset      int      `json:"offset,omitempty" validate:"min=0"`
	Limit       int      `json:"limit,omitempty" validate:"min=0,max=100"`
	DetailLevel string   `json:"detail_level,omitempty" validate:"omitempty,oneof=summary standard full"`
}

// window parses Since and Until. Dates may be RFC 3339 timestamps or
// plain YYYY-MM-DD days.
func (f Filters) window() (since, until *time.Time, err error) {
	if since, err = parseWhen("since", f.Since); err != nil {
		return nil, nil, err
	}
	if until, err = parseWhen("until", f.Until); err != nil {
		return nil, nil, err
	}
	if since != nil && until != nil && until.Before(*since) {
		return nil, nil, &ValidationError{Field: "until", Message: "until is before since"}
	}
	return since, until, nil
}

func parseWhen(field, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &ValidationError{Field: field, Message: fmt.Sprintf("%q is not an RFC 3339 time or YYYY-MM-DD date", v)}
}

// ─── Exempt ──────────────────────────────────────────────────────────────────

type BriefingRequest struct {
	ProjectRef
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

type ContextCheckRequest struct {
	ProjectRef
	Action string `json:"action" validate:"required,max=4000"`
}

type HealthRequest struct {
	ProjectRef
}

// ─── Session-gated ───────────────────────────────────────────────────────────

type RecallRequest struct {
	ProjectRef
	Filters
	Query      string `json:"query" validate:"required,max=4000"`
	Complexity string `json:"complexity,omitempty" validate:"omitempty,oneof=SIMPLE MEDIUM COMPLEX"`
}

type SearchRequest struct {
	ProjectRef
	Filters
	Query string `json:"query" validate:"required,max=4000"`
}

type GetMemoryRequest struct {
	ProjectRef
	ID          int64  `json:"id" validate:"required,min=1"`
	DetailLevel string `json:"detail_level,omitempty" validate:"omitempty,oneof=summary standard full"`
}

type CheckRulesRequest struct {
	ProjectRef
	Action string `json:"action" validate:"required,max=4000"`
}

type ListRulesRequest struct {
	ProjectRef
	IncludeDisabled bool `json:"include_disabled,omitempty"`
}

type TraceChainRequest struct {
	ProjectRef
	ID    int64 `json:"id" validate:"required,min=1"`
	Depth int   `json:"depth,omitempty" validate:"min=0,max=5"`
}

type ExportRequest struct {
	ProjectRef
}

// ─── Consultation-gated ──────────────────────────────────────────────────────

type RememberRequest struct {
	Gated
	Category   string   `json:"category" validate:"required,oneof=decision pattern warning learning"`
	Content    string   `json:"content" validate:"required"`
	Rationale  string   `json:"rationale,omitempty" validate:"max=4000"`
	Tags       []string `json:"tags,omitempty" validate:"max=20,dive,max=64"`
	FilePath   string   `json:"file_path,omitempty"`
	Importance float64  `json:"importance,omitempty" validate:"min=0,max=1"`
}

type OutcomeRequest struct {
	Gated
	ID      int64  `json:"id" validate:"required,min=1"`
	Outcome string `json:"outcome" validate:"required,oneof=worked failed"`
	Note    string `json:"note,omitempty" validate:"max=4000"`
}

type LinkRequest struct {
	Gated
	FromID int64  `json:"from_id" validate:"required,min=1"`
	ToID   int64  `json:"to_id" validate:"required,min=1,nefield=FromID"`
	Type   string `json:"type,omitempty" validate:"omitempty,oneof=led_to supersedes depends_on conflicts_with related_to"`
	Note   string `json:"note,omitempty" validate:"max=1000"`
}

type UnlinkRequest struct {
	Gated
	FromID int64  `json:"from_id" validate:"required,min=1"`
	ToID   int64  `json:"to_id" validate:"required,min=1"`
	Type   string `json:"type,omitempty" validate:"omitempty,oneof=led_to supersedes depends_on conflicts_with related_to"`
}

type AddRuleRequest struct {
	Gated
	Trigger  string   `json:"trigger" validate:"required,max=1000"`
	MustDo   []string `json:"must_do,omitempty"`
	MustNot  []string `json:"must_not,omitempty"`
	AskFirst []string `json:"ask_first,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Priority int      `json:"priority,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

type UpdateRuleRequest struct {
	Gated
	ID       int64    `json:"id" validate:"required,min=1"`
	Trigger  *string  `json:"trigger,omitempty" validate:"omitempty,min=1,max=1000"`
	MustDo   []string `json:"must_do,omitempty"`
	MustNot  []string `json:"must_not,omitempty"`
	AskFirst []string `json:"ask_first,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

type PinRequest struct {
	Gated
	ID     int64 `json:"id" validate:"required,min=1"`
	Pinned *bool `json:"pinned,omitempty"`
}

type ArchiveRequest struct {
	Gated
	IDs    []int64 `json:"ids" validate:"required,min=1,max=500,dive,min=1"`
	Reason string  `json:"reason,omitempty" validate:"max=500"`
}

type CleanupRequest struct {
	Gated
	DryRun *bool `json:"dry_run,omitempty"`
}

type PruneRequest struct {
	Gated
	OlderThanDays int   `json:"older_than_days,omitempty" validate:"min=0"`
	DryRun        *bool `json:"dry_run,omitempty"`
}

type RebuildIndexRequest struct {
	Gated
}

type RebuildCommunitiesRequest struct {
	Gated
}

func (BriefingRequest) Op() string           { return OpGetBriefing }
func (ContextCheckRequest) Op() string       { return OpContextCheck }
func (HealthRequest) Op() string             { return OpHealth }
func (RecallRequest) Op() string             { return OpRecall }
func (SearchRequest) Op() string             { return OpSearchMemories }
func (GetMemoryRequest) Op() string          { return OpGetMemory }
func (CheckRulesRequest) Op() string         { return OpCheckRules }
func (ListRulesRequest) Op() string          { return OpListRules }
func (TraceChainRequest) Op() string         { return OpTraceChain }
func (ExportRequest) Op() string             { return OpExportMemories }
func (RememberRequest) Op() string           { return OpRemember }
func (OutcomeRequest) Op() string            { return OpRecordOutcome }
func (LinkRequest) Op() string               { return OpLinkMemories }
func (UnlinkRequest) Op() string             { return OpUnlinkMemories }
func (AddRuleRequest) Op() string            { return OpAddRule }
func (UpdateRuleRequest) Op() string         { return OpUpdateRule }
func (PinRequest) Op() string                { return OpPinMemory }
func (ArchiveRequest) Op() string            { return OpArchiveMemory }
func (CleanupRequest) Op() string            { return OpCleanupMemories }
func (PruneRequest) Op() string              { return OpPruneMemories }
func (RebuildIndexRequest) Op() string       { return OpRebuildIndex }
func (RebuildCommunitiesRequest) Op() string { return OpRebuildCommunities }

var factories = map[string]func() Request{
	OpGetBriefing:        func() Request { return &BriefingRequest{} },
	OpContextCheck:       func() Request { return &ContextCheckRequest{} },
	OpHealth:             func() Request { return &HealthRequest{} },
	OpRecall:             func() Request { return &RecallRequest{} },
	OpSearchMemories:     func() Request { return &SearchRequest{} },
	OpGetMemory:          func() Request { return &GetMemoryRequest{} },
	OpCheckRules:         func() Request { return &CheckRulesRequest{} },
	OpListRules:          func() Request { return &ListRulesRequest{} },
	OpTraceChain:         func() Request { return &TraceChainRequest{} },
	OpExportMemories:     func() Request { return &ExportRequest{} },
	OpRemember:           func() Request { return &RememberRequest{} },
	OpRecordOutcome:      func() Request { return &OutcomeRequest{} },
	OpLinkMemories:       func() Request { return &LinkRequest{} },
	OpUnlinkMemories:     func() Request { return &UnlinkRequest{} },
	OpAddRule:            func() Request { return &AddRuleRequest{} },
	OpUpdateRule:         func() Request { return &UpdateRuleRequest{} },
	OpPinMemory:          func() Request { return &PinRequest{} },
	OpArchiveMemory:      func() Request { return &ArchiveRequest{} },
	OpCleanupMemories:    func() Request { return &CleanupRequest{} },
	OpPruneMemories:      func() Request { return &PruneRequest{} },
	OpRebuildIndex:       func() Request { return &RebuildIndexRequest{} },
	OpRebuildCommunities: func() Request { return &RebuildCommunitiesRequest{} },
}

// Ops lists every operation name, sorted.
func Ops() []string {
	out := make([]string, 0, len(factories))
	for op := range factories {
		out = append(out, op)
	}
	sort.Strings(out)
	return out
}

// New returns an empty request for op, or false for an unknown op.
func New(op string) (Request, bool) {
	f, ok := factories[op]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Decode builds the typed request for op from a JSON argument object.
// Unknown fields are rejected.
func Decode(op string, raw []byte) (Request, error) {
	req, ok := New(op)
	if !ok {
		return nil, &ValidationError{Field: "op", Message: fmt.Sprintf("unknown operation %q", op)}
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		return nil, decodeError(err)
	}
	return req, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{Field: typeErr.Field, Message: fmt.Sprintf("must be %s", typeErr.Type)}
	}
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return &ValidationError{Field: strings.Trim(rest, `"`), Message: "unknown field"}
	}
	return &ValidationError{Field: "arguments", Message: msg}
}
