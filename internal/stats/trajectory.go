package stats

import "evoprot/internal/model"

// TrajectoryPoint summarises one iteration's ranked pool. Breakdown columns
// belong to the best-ranked individual.
type TrajectoryPoint struct {
	Iteration   int     `json:"iteration"`
	Best        float64 `json:"best_total"`
	Mean        float64 `json:"mean_total"`
	Worst       float64 `json:"worst_total"`
	BestComplex float64 `json:"best_complex"`
	BestMonomer float64 `json:"best_monomer_total"`
	BestRMSD    float64 `json:"best_rmsd_total"`
}

// BuildTrajectory turns the ranked history into plot points, skipping empty
// iterations.
func BuildTrajectory(history []model.IterationRanking) []TrajectoryPoint {
	points := make([]TrajectoryPoint, 0, len(history))
	for _, ranking := range history {
		if len(ranking.Entries) == 0 {
			continue
		}
		best := ranking.Entries[0]
		p := TrajectoryPoint{
			Iteration:   ranking.Iteration,
			Best:        best.Total,
			Worst:       best.Total,
			BestComplex: best.Complex,
			BestMonomer: best.MonomerSum,
			BestRMSD:    best.RMSDSum,
		}
		sum := 0.0
		for _, e := range ranking.Entries {
			sum += e.Total
			if e.Total < p.Best {
				p.Best = e.Total
			}
			if e.Total > p.Worst {
				p.Worst = e.Total
			}
		}
		p.Mean = sum / float64(len(ranking.Entries))
		points = append(points, p)
	}
	return points
}
