package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/HendryAvila/warden/internal/memory"
)

// Config holds the scoring knobs.
type Config struct {
	K                float64
	VectorWeight     float64
	HalfLifeDays     float64
	FailedBoost      float64
	WarningBoost     float64
	NoveltyThreshold float64
	NoveltyWeight    float64
	DiversityCap     int
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		K:                60,
		VectorWeight:     0.5,
		HalfLifeDays:     30,
		FailedBoost:      1.5,
		WarningBoost:     1.2,
		NoveltyThreshold: 0.7,
		NoveltyWeight:    0.5,
		DiversityCap:     3,
	}
}

// Candidate is a fused document joined with the record fields scoring
// needs.
type Candidate struct {
	Fused
	Category  memory.Category
	Outcome   memory.Outcome
	Surprise  float64
	FilePath  string
	CreatedAt time.Time
}

// Scored is a candidate with its score breakdown.
type Scored struct {
	Candidate
	Decay   float64 `json:"decay"`
	Boost   float64 `json:"boost"`
	Novelty float64 `json:"novelty"`
	Final   float64 `json:"final"`
}

// DecayWeight returns exp(-ln2/halfLife * ageDays) for decaying
// categories and 1 for permanent ones. Negative ages count as zero.
func DecayWeight(cat memory.Category, age time.Duration, halfLifeDays float64) float64 {
	if cat.Permanent() || halfLifeDays <= 0 {
		return 1
	}
	days := age.Hours() / 24
	if days <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 / halfLifeDays * days)
}

// Boost returns the outcome and category multiplier.
func (c Config) Boost(cat memory.Category, outcome memory.Outcome) float64 {
	b := 1.0
	if outcome == memory.OutcomeFailed {
		b *= c.FailedBoost
	}
	if cat == memory.CategoryWarning {
		b *= c.WarningBoost
	}
	return b
}

// NoveltyMultiplier returns 1 + weight*(surprise-threshold) above the
// threshold and 1 otherwise.
func (c Config) NoveltyMultiplier(surprise float64) float64 {
	if c.NoveltyWeight <= 0 || surprise <= c.NoveltyThreshold {
		return 1
	}
	return 1 + c.NoveltyWeight*(surprise-c.NoveltyThreshold)
}

// Score computes final scores and orders them by final score descending,
// then created_at descending, then id ascending. It does not truncate.
func (c Config) Score(cands []Candidate, now time.Time) []Scored {
	out := make([]Scored, len(cands))
	for i, cand := range cands {
		decay := DecayWeight(cand.Category, now.Sub(cand.CreatedAt), c.HalfLifeDays)
		boost := c.Boost(cand.Category, cand.Outcome)
		novelty := c.NoveltyMultiplier(cand.Surprise)
		out[i] = Scored{
			Candidate: cand,
			Decay:     decay,
			Boost:     boost,
			Novelty:   novelty,
			Final:     cand.Score * decay * boost * novelty,
		}
	}
	SortScored(out)
	return out
}

// SortScored applies the deterministic result order.
func SortScored(s []Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Final != s[j].Final {
			return s[i].Final > s[j].Final
		}
		if !s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].CreatedAt.After(s[j].CreatedAt)
		}
		return s[i].ID < s[j].ID
	})
}

// Diversify keeps at most capPerFile results per file association while
// preserving order, and stops at limit results. Records without a file
// association are never capped. capPerFile <= 0 disables the cap and
// limit <= 0 disables truncation.
func Diversify(s []Scored, capPerFile, limit int) []Scored {
	out := make([]Scored, 0, len(s))
	perFile := make(map[string]int)
	for _, r := range s {
		if limit > 0 && len(out) >= limit {
			break
		}
		if capPerFile > 0 && r.FilePath != "" {
			if perFile[r.FilePath] >= capPerFile {
				continue
			}
			perFile[r.FilePath]++
		}
		out = append(out, r)
	}
	return out
}

// Rank runs scoring and diversification in one step.
func (c Config) Rank(cands []Candidate, now time.Time, limit int) []Scored {
	return Diversify(c.Score(cands, now), c.DiversityCap, limit)
}
