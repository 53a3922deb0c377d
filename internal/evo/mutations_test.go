package evo

import (
	"math/rand"
	"strings"
	"testing"

	"evoprot/internal/model"
)

func designableIndividual(seqA, seqB string, mutTo string) model.Individual {
	ind := model.Individual{Chains: []model.Chain{{ID: "A", Sequence: seqA}, {ID: "B", Sequence: seqB}}}
	for i := range seqA {
		ind.Designable = append(ind.Designable, model.DesignablePosition{Chain: "A", Resid: i + 1, WildType: seqA[i : i+1], MutTo: mutTo})
	}
	for i := range seqB {
		ind.Designable = append(ind.Designable, model.DesignablePosition{Chain: "B", Resid: i + 1, WildType: seqB[i : i+1], MutTo: mutTo})
	}
	return ind
}

func diffCount(a, b string) int {
	n := 0
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

func TestRandomMutatorChangesExpectedPositionCount(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ind := designableIndividual("MKVLAGST", "", "all")
	ind.Chains = ind.Chains[:1]

	mutated, err := RandomMutator{}.Mutate(rng, ind, 0.25)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got := diffCount(ind.Chains[0].Sequence, mutated.Chains[0].Sequence); got != 2 {
		t.Fatalf("expected 2 changed positions, got %d", got)
	}
	if ind.Chains[0].Sequence != "MKVLAGST" {
		t.Fatal("mutation modified its input")
	}

	mutated, err = RandomMutator{}.Mutate(rng, ind, 0)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if got := diffCount(ind.Chains[0].Sequence, mutated.Chains[0].Sequence); got != 1 {
		t.Fatalf("expected at least one change, got %d", got)
	}
}

func TestRandomMutatorRespectsAllowedSetAndTies(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ind := designableIndividual("AAAA", "AAAA", "KR")
	ind.Symmetric = [][]string{{"A1", "B1"}, {"A2", "B2"}, {"A3", "B3"}, {"A4", "B4"}}

	for i := 0; i < 20; i++ {
		mutated, err := RandomMutator{}.Mutate(rng, ind, 0.5)
		if err != nil {
			t.Fatalf("mutate: %v", err)
		}
		a, b := mutated.Chains[0].Sequence, mutated.Chains[1].Sequence
		if a != b {
			t.Fatalf("tied chains diverged: %s vs %s", a, b)
		}
		if strings.Trim(a, "AKR") != "" {
			t.Fatalf("residue outside allowed set: %s", a)
		}
	}
}

func TestRandomMutatorRequiresDesignablePositions(t *testing.T) {
	ind := model.Individual{Chains: []model.Chain{{ID: "A", Sequence: "MKV"}}}
	if _, err := (RandomMutator{}).Mutate(rand.New(rand.NewSource(1)), ind, 0.1); err == nil {
		t.Fatal("expected error without designable positions")
	}
}

func TestUniformCrossoverMixesParents(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := designableIndividual("AAAAAAAAAA", "", "all")
	a.Chains = a.Chains[:1]
	b, err := a.WithSequences([]string{"KKKKKKKKKK"})
	if err != nil {
		t.Fatalf("with sequences: %v", err)
	}

	child, err := UniformCrossover{}.Cross(rng, a, b)
	if err != nil {
		t.Fatalf("cross: %v", err)
	}
	seq := child.Chains[0].Sequence
	if strings.Trim(seq, "AK") != "" {
		t.Fatalf("unexpected residues: %s", seq)
	}
	if !strings.Contains(seq, "A") || !strings.Contains(seq, "K") {
		t.Fatalf("expected residues from both parents: %s", seq)
	}
	if len(child.Designable) != len(a.Designable) {
		t.Fatal("child lost designable metadata")
	}
}

func TestUniformCrossoverKeepsTiesTogether(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := designableIndividual("AAAA", "AAAA", "all")
	a.Symmetric = [][]string{{"A1", "B1"}, {"A2", "B2"}, {"A3", "B3"}, {"A4", "B4"}}
	b, err := a.WithSequences([]string{"KKKK", "KKKK"})
	if err != nil {
		t.Fatalf("with sequences: %v", err)
	}
	for i := 0; i < 10; i++ {
		child, err := UniformCrossover{}.Cross(rng, a, b)
		if err != nil {
			t.Fatalf("cross: %v", err)
		}
		if child.Chains[0].Sequence != child.Chains[1].Sequence {
			t.Fatalf("tied positions split: %s", child.Identity())
		}
	}
}

func TestUniformCrossoverRejectsMismatchedLayouts(t *testing.T) {
	a := designableIndividual("AAAA", "", "all")
	a.Chains = a.Chains[:1]
	b := model.Individual{Chains: []model.Chain{{ID: "A", Sequence: "AAA"}}}
	if _, err := (UniformCrossover{}).Cross(rand.New(rand.NewSource(1)), a, b); err == nil {
		t.Fatal("expected layout mismatch error")
	}
}
