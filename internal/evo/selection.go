package evo

import (
	"math"
	"sort"

	"evoprot/internal/model"
)

// TruncationSelector keeps the better half of a scored pool. Lower totals
// rank first; ties keep pool order.
type TruncationSelector struct{}

func (TruncationSelector) Name() string {
	return "truncation"
}

// KeepCount is round(n/2) with ties to even, and never less than one for a
// non-empty pool.
func (TruncationSelector) KeepCount(n int) int {
	if n <= 0 {
		return 0
	}
	keep := int(math.RoundToEven(float64(n) / 2))
	if keep < 1 {
		keep = 1
	}
	return keep
}

// Select returns the whole pool ranked, and the survivors.
func (s TruncationSelector) Select(scored []model.ScoreRecord) (ranked, kept []model.ScoreRecord) {
	ranked = append([]model.ScoreRecord(nil), scored...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Total < ranked[j].Total
	})
	return ranked, ranked[:s.KeepCount(len(ranked))]
}

// Rank converts ranked records into history entries.
func Rank(ranked []model.ScoreRecord) []model.RankedEntry {
	entries := make([]model.RankedEntry, len(ranked))
	for i, rec := range ranked {
		entries[i] = model.RankedEntry{
			Rank:       i + 1,
			Identity:   rec.Identity,
			Total:      rec.Total,
			Complex:    rec.Complex.Total,
			MonomerSum: rec.MonomerSum,
			RMSDSum:    rec.RMSDSum,
		}
	}
	return entries
}
