package memory

import (
	"errors"
	"strings"
	"time"
)

// ─── Enums ───────────────────────────────────────────────────────────────────

// Category classifies a stored note.
type Category string

const (
	CategoryDecision Category = "decision"
	CategoryPattern  Category = "pattern"
	CategoryWarning  Category = "warning"
	CategoryLearning Category = "learning"
)

// ValidCategories is the set of accepted categories.
var ValidCategories = map[Category]bool{
	CategoryDecision: true,
	CategoryPattern:  true,
	CategoryWarning:  true,
	CategoryLearning: true,
}

// Permanent reports whether records of this category are exempt from
// temporal decay. Patterns and warnings describe standing facts.
func (c Category) Permanent() bool {
	return c == CategoryPattern || c == CategoryWarning
}

// Outcome is the recorded result of acting on a record.
type Outcome string

const (
	OutcomeUnset  Outcome = ""
	OutcomeWorked Outcome = "worked"
	OutcomeFailed Outcome = "failed"
)

// RelationType labels a directed edge between two records.
type RelationType string

const (
	RelLedTo         RelationType = "led_to"
	RelSupersedes    RelationType = "supersedes"
	RelDependsOn     RelationType = "depends_on"
	RelConflictsWith RelationType = "conflicts_with"
	RelRelatedTo     RelationType = "related_to"
)

// ValidRelationTypes is the fixed set of edge labels.
var ValidRelationTypes = map[RelationType]bool{
	RelLedTo:         true,
	RelSupersedes:    true,
	RelDependsOn:     true,
	RelConflictsWith: true,
	RelRelatedTo:     true,
}

// Sentinel errors returned by the store.
var (
	ErrNotFound          = errors.New("memory: not found")
	ErrSelfRelation      = errors.New("memory: relation source and target are the same record")
	ErrDuplicateRelation = errors.New("memory: relation already exists")
	ErrTransient         = errors.New("memory: transient storage failure")
)

// ─── Records ─────────────────────────────────────────────────────────────────

// Record is a stored note: a decision, pattern, warning or learning.
type Record struct {
	ID             int64     `json:"id"`
	Category       Category  `json:"category"`
	Content        string    `json:"content"`
	Rationale      string    `json:"rationale,omitempty"`
	Tags           []string  `json:"tags"`
	FilePath       string    `json:"file_path,omitempty"`
	FilePathRel    string    `json:"file_path_rel,omitempty"`
	Embedding      []float32 `json:"-"`
	Importance     float64   `json:"importance"`
	Surprise       float64   `json:"surprise"`
	Outcome        Outcome   `json:"outcome,omitempty"`
	OutcomeNote    string    `json:"outcome_note,omitempty"`
	RecallCount    int       `json:"recall_count"`
	Pinned         bool      `json:"pinned"`
	Archived       bool      `json:"archived"`
	NormalizedHash string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IndexText is the text the lexical index sees for this record.
func (r *Record) IndexText() string {
	text := r.Content
	if r.Rationale != "" {
		text += "\n" + r.Rationale
	}
	for _, t := range r.Tags {
		text += " " + t
	}
	return text
}

// RecordPatch holds partial update fields. Nil means "leave unchanged".
type RecordPatch struct {
	Content     *string
	Rationale   *string
	Tags        []string
	Embedding   []float32
	Importance  *float64
	Surprise    *float64
	Outcome     *Outcome
	OutcomeNote *string
	Pinned      *bool
	Archived    *bool
}

// RecordVersion is one entry of a record's monotonically increasing
// version log.
type RecordVersion struct {
	RecordID  int64     `json:"record_id"`
	Version   int       `json:"version"`
	Change    string    `json:"change"`
	Snapshot  string    `json:"snapshot"`
	ChangedAt time.Time `json:"changed_at"`
}

// Filter narrows QueryRecords.
type Filter struct {
	Categories      []Category
	Tags            []string
	FilePath        string
	Outcome         Outcome
	Since           *time.Time
	Until           *time.Time
	IDs             []int64
	IncludeArchived bool
	OnlyArchived    bool
	Limit           int
	Offset          int
}

// DuplicateGroup is a set of live records sharing category, normalized
// content and file association.
type DuplicateGroup struct {
	Category Category `json:"category"`
	FilePath string   `json:"file_path,omitempty"`
	Hash     string   `json:"hash"`
	IDs      []int64  `json:"ids"`
}

// ─── Graph ───────────────────────────────────────────────────────────────────

// Relation is a typed directed edge between two records.
type Relation struct {
	ID        int64        `json:"id"`
	FromID    int64        `json:"from_id"`
	ToID      int64        `json:"to_id"`
	Type      RelationType `json:"type"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// ChainNode is one record reached while traversing the relation graph.
type ChainNode struct {
	ID           int64        `json:"id"`
	Category     Category     `json:"category"`
	Content      string       `json:"content"`
	RelationType RelationType `json:"relation_type"`
	Direction    string       `json:"direction"` // "outgoing" or "incoming"
	Depth        int          `json:"depth"`
}

// ─── Rules ───────────────────────────────────────────────────────────────────

// Rule is a governance rule matched against action descriptions.
type Rule struct {
	ID        int64     `json:"id"`
	Trigger   string    `json:"trigger"`
	MustDo    []string  `json:"must_do"`
	MustNot   []string  `json:"must_not"`
	AskFirst  []string  `json:"ask_first"`
	Warnings  []string  `json:"warnings,omitempty"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexText is the text rule matching runs against.
func (r *Rule) IndexText() string {
	parts := append([]string{r.Trigger}, r.MustDo...)
	parts = append(parts, r.MustNot...)
	parts = append(parts, r.AskFirst...)
	return strings.Join(parts, "\n")
}

// RulePatch holds partial rule updates.
type RulePatch struct {
	Trigger  *string
	MustDo   []string
	MustNot  []string
	AskFirst []string
	Warnings []string
	Priority *int
	Enabled  *bool
}

// ─── Sessions & consultations ────────────────────────────────────────────────

// Session records one session-start for a project.
type Session struct {
	ID        string    `json:"id"`
	Project   string    `json:"project"`
	StartedAt time.Time `json:"started_at"`
}

// Consultation records one pre-action consultation and the token window
// it opened.
type Consultation struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Description string    `json:"description"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ─── Communities ─────────────────────────────────────────────────────────────

// Community is a precomputed cluster of related records. It is a
// retrieval aid and never authoritative.
type Community struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Level     int       `json:"level"`
	Summary   string    `json:"summary"`
	Tags      []string  `json:"tags"`
	MemberIDs []int64   `json:"member_ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IndexText is the text community matching runs against.
func (c *Community) IndexText() string {
	return c.Name + "\n" + c.Summary + " " + strings.Join(c.Tags, " ")
}

// ─── Stats & export ──────────────────────────────────────────────────────────

// Stats holds aggregate counts for one project store.
type Stats struct {
	TotalRecords    int              `json:"total_records"`
	ArchivedRecords int              `json:"archived_records"`
	PinnedRecords   int              `json:"pinned_records"`
	FailedRecords   int              `json:"failed_records"`
	ByCategory      map[Category]int `json:"by_category"`
	Relations       int              `json:"relations"`
	Rules           int              `json:"rules"`
	Communities     int              `json:"communities"`
	Sessions        int              `json:"sessions"`
}

// ExportData is the full serializable dump of a project store.
type ExportData struct {
	Version     string      `json:"version"`
	ExportedAt  time.Time   `json:"exported_at"`
	Records     []Record    `json:"records"`
	Relations   []Relation  `json:"relations"`
	Rules       []Rule      `json:"rules"`
	Communities []Community `json:"communities"`
}
