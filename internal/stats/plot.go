package stats

import (
	"errors"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const trajectoryPlotFile = "score_trajectory.png"

// WriteTrajectoryPlot renders best and mean totals per iteration. Stabilized
// runs also get the best candidate's monomer and RMSD contributions.
func WriteTrajectoryPlot(runDir string, points []TrajectoryPoint, stabilized bool) (string, error) {
	if len(points) == 0 {
		return "", errors.New("no trajectory points to plot")
	}
	p := plot.New()
	p.Title.Text = "Score trajectory"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Score (lower is better)"

	lines := []any{
		"best", trajectorySeries(points, func(tp TrajectoryPoint) float64 { return tp.Best }),
		"mean", trajectorySeries(points, func(tp TrajectoryPoint) float64 { return tp.Mean }),
	}
	if stabilized {
		lines = append(lines,
			"best monomer", trajectorySeries(points, func(tp TrajectoryPoint) float64 { return tp.BestMonomer }),
			"best rmsd", trajectorySeries(points, func(tp TrajectoryPoint) float64 { return tp.BestRMSD }),
		)
	}
	if err := plotutil.AddLines(p, lines...); err != nil {
		return "", err
	}
	p.Legend.Top = true

	path := filepath.Join(runDir, trajectoryPlotFile)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return "", err
	}
	return path, nil
}

func trajectorySeries(points []TrajectoryPoint, value func(TrajectoryPoint) float64) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for i, tp := range points {
		xys[i].X = float64(tp.Iteration)
		xys[i].Y = value(tp)
	}
	return xys
}
