package stats

import (
	"testing"

	"evoprot/internal/model"
)

func TestBuildTrajectory(t *testing.T) {
	history := []model.IterationRanking{
		{Iteration: 1, Entries: []model.RankedEntry{
			{Rank: 1, Total: -10, Complex: -12, MonomerSum: 1, RMSDSum: 1},
			{Rank: 2, Total: -4},
			{Rank: 3, Total: 2},
		}},
		{Iteration: 2},
	}
	points := BuildTrajectory(history)
	if len(points) != 1 {
		t.Fatalf("expected empty iterations to be skipped, got %d points", len(points))
	}
	p := points[0]
	if p.Best != -10 || p.Worst != 2 || p.Mean != -4 || p.BestComplex != -12 || p.BestRMSD != 1 {
		t.Fatalf("unexpected point: %+v", p)
	}
}
