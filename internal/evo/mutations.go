package evo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"evoprot/internal/model"
	"evoprot/internal/residue"
)

var ErrNoDesignablePositions = errors.New("individual has no designable positions")

// sequenceEditor applies residue changes to a copy of an individual's chains,
// keeping symmetry-tied positions identical.
type sequenceEditor struct {
	seqs     [][]byte
	chainIdx map[string]int
	ties     map[string][]string
}

func newSequenceEditor(ind model.Individual) sequenceEditor {
	e := sequenceEditor{
		seqs:     make([][]byte, len(ind.Chains)),
		chainIdx: make(map[string]int, len(ind.Chains)),
		ties:     make(map[string][]string),
	}
	for i, chain := range ind.Chains {
		e.seqs[i] = []byte(chain.Sequence)
		e.chainIdx[chain.ID] = i
	}
	for _, group := range ind.Symmetric {
		for _, key := range group {
			e.ties[key] = group
		}
	}
	return e
}

func (e sequenceEditor) get(pos model.DesignablePosition) byte {
	return e.seqs[e.chainIdx[pos.Chain]][pos.Resid-1]
}

// set writes residue at pos and every position tied to it.
func (e sequenceEditor) set(pos model.DesignablePosition, residue byte) {
	e.seqs[e.chainIdx[pos.Chain]][pos.Resid-1] = residue
	for _, key := range e.ties[pos.Key()] {
		chain, resid, ok := splitKey(key)
		if !ok {
			continue
		}
		if i, ok := e.chainIdx[chain]; ok && resid >= 1 && resid <= len(e.seqs[i]) {
			e.seqs[i][resid-1] = residue
		}
	}
}

func (e sequenceEditor) sequences() []string {
	out := make([]string, len(e.seqs))
	for i, seq := range e.seqs {
		out[i] = string(seq)
	}
	return out
}

func splitKey(key string) (string, int, bool) {
	i := strings.IndexFunc(key, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return "", 0, false
	}
	n := 0
	for _, r := range key[i:] {
		if r < '0' || r > '9' {
			return "", 0, false
		}
		n = n*10 + int(r-'0')
	}
	return key[:i], n, true
}

// RandomMutator redraws max(1, round(rate*designable)) positions from each
// position's allowed residue set.
type RandomMutator struct{}

func (RandomMutator) Name() string {
	return "random_mutation"
}

func (RandomMutator) Mutate(rng *rand.Rand, ind model.Individual, rate float64) (model.Individual, error) {
	if rng == nil {
		return model.Individual{}, fmt.Errorf("random source is required")
	}
	if len(ind.Designable) == 0 {
		return model.Individual{}, ErrNoDesignablePositions
	}

	count := int(math.Round(rate * float64(len(ind.Designable))))
	if count < 1 {
		count = 1
	}
	if count > len(ind.Designable) {
		count = len(ind.Designable)
	}

	editor := newSequenceEditor(ind)
	for _, idx := range rng.Perm(len(ind.Designable))[:count] {
		pos := ind.Designable[idx]
		allowed, err := residue.AllowedResidues(pos.MutTo)
		if err != nil {
			return model.Individual{}, fmt.Errorf("position %s: %w", pos.Key(), err)
		}
		current := editor.get(pos)
		choices := strings.ReplaceAll(allowed, string(current), "")
		if choices == "" {
			choices = allowed
		}
		editor.set(pos, choices[rng.Intn(len(choices))])
	}
	return ind.WithSequences(editor.sequences())
}

// UniformCrossover takes each designable position from either parent with
// equal probability. Tied positions move together.
type UniformCrossover struct{}

func (UniformCrossover) Name() string {
	return "uniform_crossover"
}

func (UniformCrossover) Cross(rng *rand.Rand, a, b model.Individual) (model.Individual, error) {
	if rng == nil {
		return model.Individual{}, fmt.Errorf("random source is required")
	}
	if len(a.Chains) != len(b.Chains) {
		return model.Individual{}, fmt.Errorf("parents have %d and %d chains", len(a.Chains), len(b.Chains))
	}
	for i := range a.Chains {
		if a.Chains[i].ID != b.Chains[i].ID || len(a.Chains[i].Sequence) != len(b.Chains[i].Sequence) {
			return model.Individual{}, fmt.Errorf("parents differ in chain %d layout", i)
		}
	}

	child := newSequenceEditor(a)
	donor := newSequenceEditor(b)
	done := make(map[string]bool, len(a.Designable))
	for _, pos := range a.Designable {
		if done[pos.Key()] {
			continue
		}
		done[pos.Key()] = true
		for _, key := range child.ties[pos.Key()] {
			done[key] = true
		}
		if rng.Intn(2) == 0 {
			continue
		}
		child.set(pos, donor.get(pos))
	}
	return a.WithSequences(child.sequences())
}
