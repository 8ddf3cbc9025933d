package recall

import (
	"context"
	"sort"

	"github.com/HendryAvila/warden/internal/embedding"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
)

// Rule match sources.
const (
	MatchKeyword  = "keyword"
	MatchSemantic = "semantic"
)

// RuleMatch is an enabled rule that applies to an action.
type RuleMatch struct {
	Rule  memory.Rule `json:"rule"`
	Score float64     `json:"score"`
	Via   string      `json:"via"`
}

// CheckRules matches enabled rules against a free-text action with the
// same lexical index retrieval uses, then by embedding similarity for the
// rules no keyword reached. Matches are ordered by priority, then score.
func (s *Service) CheckRules(ctx context.Context, p *registry.Project, action string) ([]RuleMatch, error) {
	hits, err := p.Rules.Search(ctx, action, 0)
	if err != nil {
		return nil, err
	}
	rules, err := p.Store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]memory.Rule, len(rules))
	for _, r := range rules {
		byID[r.ID] = r
	}

	out := []RuleMatch{}
	matched := make(map[int64]bool)
	for _, h := range hits {
		r, ok := byID[h.ID]
		if !ok {
			continue
		}
		matched[h.ID] = true
		out = append(out, RuleMatch{Rule: r, Score: h.Score, Via: MatchKeyword})
	}

	if len(matched) < len(rules) {
		if vec := s.embedText(ctx, action); vec != nil {
			for _, r := range rules {
				if matched[r.ID] {
					continue
				}
				rv := s.embedText(ctx, r.IndexText())
				if sim := embedding.Cosine(vec, rv); sim >= s.cfg.RuleSimilarity {
					out = append(out, RuleMatch{Rule: r, Score: sim, Via: MatchSemantic})
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rule.Priority != out[j].Rule.Priority {
			return out[i].Rule.Priority > out[j].Rule.Priority
		}
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rule.ID < out[j].Rule.ID
	})
	return out, nil
}

// AddRule stores a rule and indexes it when enabled.
func (s *Service) AddRule(ctx context.Context, p *registry.Project, r memory.Rule) (*memory.Rule, error) {
	id, err := p.Store.AddRule(ctx, &r)
	if err != nil {
		return nil, err
	}
	stored, err := p.Store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	s.indexRule(p, stored)
	return stored, nil
}

// UpdateRule applies patch and reindexes the rule.
func (s *Service) UpdateRule(ctx context.Context, p *registry.Project, id int64, patch memory.RulePatch) (*memory.Rule, error) {
	r, err := p.Store.UpdateRule(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.indexRule(p, r)
	return r, nil
}

// ListRules lists rules by priority.
func (s *Service) ListRules(ctx context.Context, p *registry.Project, onlyEnabled bool) ([]memory.Rule, error) {
	rules, err := p.Store.ListRules(ctx, onlyEnabled)
	if rules == nil && err == nil {
		rules = []memory.Rule{}
	}
	return rules, err
}

func (s *Service) indexRule(p *registry.Project, r *memory.Rule) {
	if r.Enabled {
		p.Rules.Add(r.ID, r.IndexText())
		return
	}
	p.Rules.Remove(r.ID)
}
