package evo

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultMutationRate applies to every iteration when no schedule is given.
const DefaultMutationRate = 0.125

// MutationSchedule expands a comma-separated list of mutation fractions into
// exactly iterations entries. With more than one value each value covers
// ceil(iterations/len) consecutive iterations.
func MutationSchedule(spec string, iterations int) ([]float64, error) {
	if iterations <= 0 {
		return nil, fmt.Errorf("iterations must be > 0, got %d", iterations)
	}
	values := []float64{DefaultMutationRate}
	if strings.TrimSpace(spec) != "" {
		parts := strings.Split(spec, ",")
		values = values[:0]
		for _, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("parse mutation rate %q: %w", part, err)
			}
			if v < 0 || v > 1 {
				return nil, fmt.Errorf("mutation rate %v out of range [0,1]", v)
			}
			values = append(values, v)
		}
	}

	repeat := iterations
	if len(values) > 1 {
		repeat = int(math.Ceil(float64(iterations) / float64(len(values))))
	}
	schedule := make([]float64, 0, repeat*len(values))
	for _, v := range values {
		for i := 0; i < repeat; i++ {
			schedule = append(schedule, v)
		}
	}
	return schedule[:iterations], nil
}

// IterationSet holds the iterations that refill with the sequence designer.
type IterationSet map[int]struct{}

// MPNNIterations parses an explicit comma-separated list, or when explicit is
// empty, selects every iteration in 1..iterations-1 divisible by freq. A
// non-positive freq selects nothing.
func MPNNIterations(explicit string, freq, iterations int) (IterationSet, error) {
	set := IterationSet{}
	if strings.TrimSpace(explicit) != "" {
		for _, part := range strings.Split(explicit, ",") {
			it, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("parse mpnn iteration %q: %w", part, err)
			}
			if it < 1 {
				return nil, fmt.Errorf("mpnn iteration %d must be >= 1", it)
			}
			set[it] = struct{}{}
		}
		return set, nil
	}
	if freq <= 0 {
		return set, nil
	}
	for i := 1; i < iterations; i++ {
		if i%freq == 0 {
			set[i] = struct{}{}
		}
	}
	return set, nil
}

func (s IterationSet) Contains(iteration int) bool {
	_, ok := s[iteration]
	return ok
}

func (s IterationSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for it := range s {
		out = append(out, it)
	}
	sort.Ints(out)
	return out
}
