package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"evoprot/internal/model"
)

var ErrRefillExhausted = errors.New("refill could not produce enough novel candidates")

// attemptsPerSlot bounds how many rejected children a refill tolerates per
// missing pool member.
const attemptsPerSlot = 100

// History is the run's record of scored identities.
type History interface {
	Contains(identity string) bool
	Identities() []string
	Get(identity string) (model.ScoreRecord, bool)
}

type RefillContext struct {
	Iteration int
	PoolSize  int
	History   History
}

// Refiller grows a pool of survivors back to the configured size.
type Refiller interface {
	Name() string
	Refill(ctx context.Context, rng *rand.Rand, pool []model.Individual, rc RefillContext) ([]model.Individual, error)
}

// OperatorRefill keeps the survivors and appends mutated or crossed-over
// children that have not been seen before.
type OperatorRefill struct {
	Label         string
	Mutator       Mutator
	Crossover     Crossover
	CrossoverRate float64
	// Schedule holds the mutation rate of iteration i at index i-1.
	Schedule []float64
}

func (r OperatorRefill) Name() string {
	if r.Label != "" {
		return r.Label
	}
	return "mutation"
}

func (r OperatorRefill) rate(iteration int) float64 {
	if iteration >= 1 && iteration <= len(r.Schedule) {
		return r.Schedule[iteration-1]
	}
	if len(r.Schedule) > 0 {
		return r.Schedule[len(r.Schedule)-1]
	}
	return DefaultMutationRate
}

func (r OperatorRefill) Refill(ctx context.Context, rng *rand.Rand, pool []model.Individual, rc RefillContext) ([]model.Individual, error) {
	if r.Mutator == nil {
		return nil, errors.New("mutator is required")
	}
	out, seen := dedupe(pool)
	if len(out) == 0 {
		return nil, errors.New("refill needs at least one parent")
	}
	parents := append([]model.Individual(nil), out...)
	rate := r.rate(rc.Iteration)

	budget := (rc.PoolSize - len(out)) * attemptsPerSlot
	for len(out) < rc.PoolSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if budget <= 0 {
			return nil, fmt.Errorf("%w: have %d of %d", ErrRefillExhausted, len(out), rc.PoolSize)
		}
		budget--

		child, err := r.child(rng, parents, rate)
		if err != nil {
			return nil, err
		}
		id := child.Identity()
		if seen[id] || (rc.History != nil && rc.History.Contains(id)) {
			continue
		}
		seen[id] = true
		out = append(out, child)
	}
	return out, nil
}

func (r OperatorRefill) child(rng *rand.Rand, parents []model.Individual, rate float64) (model.Individual, error) {
	first := parents[rng.Intn(len(parents))]
	if r.Crossover != nil && len(parents) > 1 && rng.Float64() < r.CrossoverRate {
		second := parents[rng.Intn(len(parents))]
		for second.Identity() == first.Identity() {
			second = parents[rng.Intn(len(parents))]
		}
		return r.Crossover.Cross(rng, first, second)
	}
	return r.Mutator.Mutate(rng, first, rate)
}

// dedupe drops repeated identities, keeping first occurrences in order.
func dedupe(pool []model.Individual) ([]model.Individual, map[string]bool) {
	seen := make(map[string]bool, len(pool))
	out := make([]model.Individual, 0, len(pool))
	for _, ind := range pool {
		id := ind.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, ind)
	}
	return out, seen
}

// MPNNRefill regenerates the pool with a sequence designer seeded from the
// survivors and the scored history. Any shortfall is topped up by Fallback.
type MPNNRefill struct {
	Designer Designer
	Fallback OperatorRefill
}

func (MPNNRefill) Name() string {
	return "mpnn"
}

func (r MPNNRefill) Refill(ctx context.Context, rng *rand.Rand, pool []model.Individual, rc RefillContext) ([]model.Individual, error) {
	if r.Designer == nil {
		return nil, errors.New("sequence designer is required")
	}
	out, seen := dedupe(pool)
	if len(out) == 0 {
		return nil, errors.New("refill needs at least one parent")
	}
	template := out[0]

	need := rc.PoolSize - len(out)
	if need > 0 {
		req := DesignRequest{Iteration: rc.Iteration, Count: need, Seeds: out}
		if rc.History != nil {
			for _, id := range rc.History.Identities() {
				entry := HistoryEntry{Identity: id}
				if rec, ok := rc.History.Get(id); ok {
					entry.Total = rec.Total
				}
				req.History = append(req.History, entry)
			}
		}
		designed, err := r.Designer.Design(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("design sequences: %w", err)
		}
		for _, seqs := range designed {
			if len(out) >= rc.PoolSize {
				break
			}
			candidate, err := conform(template, seqs)
			if err != nil {
				return nil, fmt.Errorf("designed sequence: %w", err)
			}
			id := candidate.Identity()
			if seen[id] || (rc.History != nil && rc.History.Contains(id)) {
				continue
			}
			seen[id] = true
			out = append(out, candidate)
		}
	}
	if len(out) >= rc.PoolSize {
		return out, nil
	}
	return r.Fallback.Refill(ctx, rng, out, rc)
}

// conform applies designed chain sequences to template, requiring the same
// chain count and lengths.
func conform(template model.Individual, seqs []string) (model.Individual, error) {
	if len(seqs) != len(template.Chains) {
		return model.Individual{}, fmt.Errorf("got %d chains, want %d", len(seqs), len(template.Chains))
	}
	for i, chain := range template.Chains {
		if len(seqs[i]) != len(chain.Sequence) {
			return model.Individual{}, fmt.Errorf("chain %s has length %d, want %d", chain.ID, len(seqs[i]), len(chain.Sequence))
		}
	}
	return template.WithSequences(seqs)
}

// ScheduledRefill picks the refill variant for an iteration: Initial for the
// first, MPNN for iterations in MPNNIterations, Mutation otherwise.
type ScheduledRefill struct {
	Initial        Refiller
	Mutation       Refiller
	MPNN           Refiller
	MPNNIterations IterationSet
}

func (s ScheduledRefill) For(iteration int) Refiller {
	switch {
	case iteration == 1:
		return s.Initial
	case s.MPNN != nil && s.MPNNIterations.Contains(iteration):
		return s.MPNN
	default:
		return s.Mutation
	}
}
