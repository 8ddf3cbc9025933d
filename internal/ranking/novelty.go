package ranking

import "sort"

// Surprise measures how far a new record sits from its nearest
// neighbours: 1 - mean of the k highest cosine similarities, clamped to
// [0, 1]. With no neighbours a record is maximally novel.
func Surprise(similarities []float64, k int) float64 {
	if len(similarities) == 0 {
		return 1
	}
	sims := append([]float64(nil), similarities...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sims)))
	if k <= 0 || k > len(sims) {
		k = len(sims)
	}
	var sum float64
	for _, s := range sims[:k] {
		sum += s
	}
	s := 1 - sum/float64(k)
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
