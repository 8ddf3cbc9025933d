package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/warden/internal/memory"
)

func TestFuse_BothListsBeatOneList(t *testing.T) {
	for _, k := range []float64{0.5, 1, 10, 60, 1000} {
		fused := Fuse([]int64{1, 2}, []int64{1, 3}, k, 0.5)
		scores := map[int64]float64{}
		for _, f := range fused {
			scores[f.ID] = f.Score
		}
		assert.Greater(t, scores[1], scores[2], "k=%v", k)
		assert.Greater(t, scores[1], scores[3], "k=%v", k)
	}

	// #1 in one list only versus #1 in both.
	only := Fuse([]int64{7}, nil, 60, 0.5)
	both := Fuse([]int64{7}, []int64{7}, 60, 0.5)
	assert.Greater(t, both[0].Score, only[0].Score)
}

func TestFuse_PlainRRFAtEqualWeight(t *testing.T) {
	fused := Fuse([]int64{1}, []int64{2, 1}, 60, 0.5)
	require.Len(t, fused, 2)
	assert.Equal(t, int64(1), fused[0].ID)
	assert.InDelta(t, 1.0/61+1.0/62, fused[0].Score, 1e-12)
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.Equal(t, 2, fused[0].LexicalRank)
	assert.Equal(t, 0, fused[1].VectorRank)
}

func TestFuse_DeterministicTies(t *testing.T) {
	a := Fuse([]int64{5}, []int64{3}, 60, 0.5)
	b := Fuse([]int64{5}, []int64{3}, 60, 0.5)
	assert.Equal(t, a, b)
	assert.Equal(t, int64(3), a[0].ID, "equal scores break by id")
}

func TestFuse_DuplicateIDsKeepBestRank(t *testing.T) {
	fused := Fuse([]int64{4, 4}, nil, 60, 0.5)
	require.Len(t, fused, 1)
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.InDelta(t, 1.0/61, fused[0].Score, 1e-12)
}

func TestDecayWeight(t *testing.T) {
	day := 24 * time.Hour
	assert.Equal(t, 1.0, DecayWeight(memory.CategoryDecision, 0, 30))

	prev := 1.0
	for age := 1; age <= 365; age += 7 {
		w := DecayWeight(memory.CategoryLearning, time.Duration(age)*day, 30)
		assert.Less(t, w, prev, "age %d", age)
		prev = w
	}

	assert.InDelta(t, 0.5, DecayWeight(memory.CategoryDecision, 30*day, 30), 1e-9)
	assert.InDelta(t, 0.25, DecayWeight(memory.CategoryDecision, 60*day, 30), 0.01)

	assert.Equal(t, 1.0, DecayWeight(memory.CategoryPattern, 400*day, 30))
	assert.Equal(t, 1.0, DecayWeight(memory.CategoryWarning, 400*day, 30))
	assert.Equal(t, 1.0, DecayWeight(memory.CategoryDecision, -day, 30))
}

func TestBoost_StacksMultiplicatively(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 1.0, c.Boost(memory.CategoryDecision, memory.OutcomeWorked))
	assert.Equal(t, 1.5, c.Boost(memory.CategoryDecision, memory.OutcomeFailed))
	assert.Equal(t, 1.2, c.Boost(memory.CategoryWarning, memory.OutcomeUnset))
	assert.InDelta(t, 1.8, c.Boost(memory.CategoryWarning, memory.OutcomeFailed), 1e-12)
}

func TestNoveltyMultiplier(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 1.0, c.NoveltyMultiplier(0.5))
	assert.Equal(t, 1.0, c.NoveltyMultiplier(0.7))
	assert.InDelta(t, 1.15, c.NoveltyMultiplier(1.0), 1e-12)

	c.NoveltyWeight = 0
	assert.Equal(t, 1.0, c.NoveltyMultiplier(1.0))
}

func TestSurprise(t *testing.T) {
	assert.Equal(t, 1.0, Surprise(nil, 5))
	assert.InDelta(t, 0.0, Surprise([]float64{1, 1, 1}, 3), 1e-12)
	assert.InDelta(t, 0.1, Surprise([]float64{0.2, 0.9, 0.9}, 2), 1e-12, "only the k nearest count")
	assert.Equal(t, 1.0, Surprise([]float64{-0.5}, 1), "clamped to 1")
}

func TestScore_OrderingAndTieBreaks(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := DefaultConfig()

	cands := []Candidate{
		{Fused: Fused{ID: 3, Score: 0.01}, Category: memory.CategoryPattern, CreatedAt: now.Add(-time.Hour)},
		{Fused: Fused{ID: 1, Score: 0.01}, Category: memory.CategoryPattern, CreatedAt: now.Add(-time.Hour)},
		{Fused: Fused{ID: 2, Score: 0.01}, Category: memory.CategoryPattern, CreatedAt: now},
		{Fused: Fused{ID: 4, Score: 0.01}, Category: memory.CategoryWarning, Outcome: memory.OutcomeFailed, CreatedAt: now.Add(-24 * time.Hour)},
	}
	got := c.Score(cands, now)

	ids := make([]int64, len(got))
	for i, s := range got {
		ids[i] = s.ID
	}
	assert.Equal(t, []int64{4, 2, 1, 3}, ids)
	assert.InDelta(t, 0.01*1.8, got[0].Final, 1e-12)
}

func TestScore_DecayDemotesOldDecisions(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := DefaultConfig()
	cands := []Candidate{
		{Fused: Fused{ID: 1, Score: 0.02}, Category: memory.CategoryDecision, CreatedAt: now.Add(-90 * 24 * time.Hour)},
		{Fused: Fused{ID: 2, Score: 0.01}, Category: memory.CategoryDecision, CreatedAt: now},
	}
	got := c.Score(cands, now)
	assert.Equal(t, int64(2), got[0].ID)
	assert.InDelta(t, 0.02*math.Pow(0.5, 3), got[1].Final, 1e-9)
}

func TestDiversify(t *testing.T) {
	var s []Scored
	for i := 1; i <= 5; i++ {
		s = append(s, Scored{Candidate: Candidate{Fused: Fused{ID: int64(i)}, FilePath: "auth.go"}})
	}
	s = append(s, Scored{Candidate: Candidate{Fused: Fused{ID: 6}}})
	s = append(s, Scored{Candidate: Candidate{Fused: Fused{ID: 7}}})

	out := Diversify(s, 3, 0)
	var ids []int64
	for _, r := range out {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 6, 7}, ids)

	assert.Len(t, Diversify(s, 3, 2), 2)
	assert.Len(t, Diversify(s, 0, 0), 7)
}
