package evo

import (
	"math/rand"

	"evoprot/internal/model"
)

// Mutator returns a copy of ind with roughly rate of its designable positions
// changed.
type Mutator interface {
	Name() string
	Mutate(rng *rand.Rand, ind model.Individual, rate float64) (model.Individual, error)
}

// Crossover recombines two parents with the same chain layout.
type Crossover interface {
	Name() string
	Cross(rng *rand.Rand, a, b model.Individual) (model.Individual, error)
}
