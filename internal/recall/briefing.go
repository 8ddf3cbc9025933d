package recall

import (
	"context"
	"fmt"
	"time"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
	"github.com/google/uuid"
)

const briefingItems = 5

// Briefing is the session-start summary of a project's memory.
type Briefing struct {
	Project          string            `json:"project"`
	SessionID        string            `json:"session_id"`
	NewSession       bool              `json:"new_session"`
	Covenant         covenant.Snapshot `json:"covenant"`
	Stats            *memory.Stats     `json:"stats"`
	RecentDecisions  []memory.Record   `json:"recent_decisions"`
	Warnings         []memory.Record   `json:"warnings"`
	FailedApproaches []memory.Record   `json:"failed_approaches"`
	Rules            []memory.Rule     `json:"rules"`
	Next             string            `json:"next"`
}

// Brief starts (or resumes) a session and returns the project briefing.
// Repeating it leaves the covenant state as a single call would.
func (s *Service) Brief(ctx context.Context, p *registry.Project, sessionID string) (*Briefing, error) {
	now := s.now()
	if sessionID == "" {
		p.WithCovenant(func(st *covenant.State) { sessionID = st.SessionID })
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	inserted, err := p.Store.CreateSession(ctx, sessionID, p.Root)
	if err != nil {
		return nil, err
	}

	b := &Briefing{Project: p.Root, SessionID: sessionID, NewSession: inserted}
	p.WithCovenant(func(st *covenant.State) {
		st.Brief(sessionID, now)
		b.Covenant = st.Snapshot(now, s.cfg.ConsultationTTL)
	})

	if b.Stats, err = p.Store.Stats(ctx); err != nil {
		return nil, err
	}
	if b.RecentDecisions, err = s.briefList(ctx, p, memory.Filter{Categories: []memory.Category{memory.CategoryDecision}, Limit: briefingItems}); err != nil {
		return nil, err
	}
	if b.Warnings, err = s.briefList(ctx, p, memory.Filter{Categories: []memory.Category{memory.CategoryWarning}, Limit: 2 * briefingItems}); err != nil {
		return nil, err
	}
	if b.FailedApproaches, err = s.briefList(ctx, p, memory.Filter{Outcome: memory.OutcomeFailed, Limit: briefingItems}); err != nil {
		return nil, err
	}
	rules, err := p.Store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(rules) > briefingItems {
		rules = rules[:briefingItems]
	}
	b.Rules = append([]memory.Rule{}, rules...)
	b.Next = fmt.Sprintf("Call %s describing the intended change before any mutating operation.", covenant.OpConsult)
	return b, nil
}

func (s *Service) briefList(ctx context.Context, p *registry.Project, f memory.Filter) ([]memory.Record, error) {
	recs, err := p.Store.QueryRecords(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Record, len(recs))
	for i := range recs {
		out[i] = memory.Shape(recs[i], memory.DetailStandard)
	}
	return out, nil
}

// ─── Consultation ────────────────────────────────────────────────────────────

// Consultation is the result of a pre-action check.
type Consultation struct {
	Action         string            `json:"action"`
	PreflightToken string            `json:"preflight_token"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Memories       []Hit             `json:"memories"`
	Rules          []RuleMatch       `json:"rules"`
	Warnings       []ConflictWarning `json:"warnings"`
	Degraded       bool              `json:"degraded"`
	Covenant       covenant.Snapshot `json:"covenant"`
}

// Consult recalls what is known about an intended action, matches rules,
// records the consultation and issues a preflight token for it.
func (s *Service) Consult(ctx context.Context, p *registry.Project, action string) (*Consultation, error) {
	res, err := s.Recall(ctx, p, Query{Text: action, Limit: briefingItems, Detail: memory.DetailStandard})
	if err != nil {
		return nil, err
	}
	rules, err := s.CheckRules(ctx, p, action)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Consultation{
		Action:   action,
		Memories: res.Results,
		Rules:    rules,
		Warnings: []ConflictWarning{},
		Degraded: res.Degraded,
	}
	for _, h := range res.Results {
		if h.Record.Outcome == memory.OutcomeFailed || h.Record.Category == memory.CategoryWarning {
			w := ConflictWarning{
				ID:         h.Record.ID,
				Category:   h.Record.Category,
				Outcome:    h.Record.Outcome,
				Content:    h.Record.Content,
				Similarity: h.Score,
				Reason:     "an existing warning applies",
			}
			if h.Record.Outcome == memory.OutcomeFailed {
				w.Reason = "a similar approach failed before"
			}
			out.Warnings = append(out.Warnings, w)
		}
	}

	now := s.now()
	var sessionID string
	p.WithCovenant(func(st *covenant.State) { sessionID = st.SessionID })
	token, tok, err := s.signer.Issue(sessionID, p.Root, now, s.cfg.ConsultationTTL)
	if err != nil {
		return nil, err
	}
	if err := p.Store.AddConsultation(ctx, &memory.Consultation{
		SessionID:   sessionID,
		Description: memory.Truncate(action, 500),
		IssuedAt:    tok.IssuedAt,
		ExpiresAt:   tok.ExpiresAt,
	}); err != nil {
		return nil, err
	}
	p.WithCovenant(func(st *covenant.State) {
		st.Counsel(now)
		out.Covenant = st.Snapshot(now, s.cfg.ConsultationTTL)
	})
	out.PreflightToken = token
	out.ExpiresAt = tok.ExpiresAt
	return out, nil
}
