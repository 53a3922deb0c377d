package scoring

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SuperposedRMSD returns the Cα RMSD between two equally sized coordinate sets
// after optimal superposition. It uses the largest eigenvalue of Horn's
// quaternion key matrix, so the rotation itself is never materialised.
func SuperposedRMSD(a, b []Atom) (float64, error) {
	if len(a) == 0 {
		return 0, errors.New("no atoms to superpose")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("atom count mismatch: %d vs %d", len(a), len(b))
	}
	ca := centroid(a)
	cb := centroid(b)

	var (
		s      [3][3]float64
		ga, gb float64
	)
	for i := range a {
		pa := [3]float64{a[i].X - ca[0], a[i].Y - ca[1], a[i].Z - ca[2]}
		pb := [3]float64{b[i].X - cb[0], b[i].Y - cb[1], b[i].Z - cb[2]}
		for r := 0; r < 3; r++ {
			ga += pa[r] * pa[r]
			gb += pb[r] * pb[r]
			for c := 0; c < 3; c++ {
				s[r][c] += pa[r] * pb[c]
			}
		}
	}

	sxx, sxy, sxz := s[0][0], s[0][1], s[0][2]
	syx, syy, syz := s[1][0], s[1][1], s[1][2]
	szx, szy, szz := s[2][0], s[2][1], s[2][2]
	key := [4][4]float64{
		{sxx + syy + szz, syz - szy, szx - sxz, sxy - syx},
		{syz - szy, sxx - syy - szz, sxy + syx, szx + sxz},
		{szx - sxz, sxy + syx, -sxx + syy - szz, syz + szy},
		{sxy - syx, szx + sxz, syz + szy, -sxx - syy + szz},
	}
	lambda, err := maxEigenvalue(key)
	if err != nil {
		return 0, err
	}
	msd := (ga + gb - 2*lambda) / float64(len(a))
	if msd < 0 {
		msd = 0
	}
	return math.Sqrt(msd), nil
}

func centroid(atoms []Atom) [3]float64 {
	var c [3]float64
	for _, a := range atoms {
		c[0] += a.X
		c[1] += a.Y
		c[2] += a.Z
	}
	n := float64(len(atoms))
	return [3]float64{c[0] / n, c[1] / n, c[2] / n}
}

// maxEigenvalue returns the largest eigenvalue of the symmetric key matrix.
func maxEigenvalue(key [4][4]float64) (float64, error) {
	data := make([]float64, 0, 16)
	for _, row := range key {
		data = append(data, row[:]...)
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(mat.NewSymDense(4, data), false); !ok {
		return 0, errors.New("eigen decomposition of key matrix failed")
	}
	values := eig.Values(nil)
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best, nil
}
