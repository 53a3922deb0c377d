package scoring

import (
	"errors"
	"fmt"
	"strings"

	"evoprot/internal/model"
)

const (
	ScorePLDDT        = "plddt"
	ScoreContactPLDDT = "contact_plddt"
	RMSDCalpha        = "ca_rmsd"
)

// PLDDTScore rewards confident structures: total is the negated mean pLDDT.
func PLDDTScore(unit model.WorkUnit, raw model.RawResult, _ model.Individual, _ []string) (model.Score, error) {
	conf, err := residueConfidence(unit, raw)
	if err != nil {
		return model.Score{}, err
	}
	mean := meanOf(conf.values)
	return model.Score{
		Total:     -mean,
		Terms:     map[string]float64{"plddt": mean},
		Structure: unitStructure(unit, raw),
	}, nil
}

// ContactPLDDTScore averages pLDDT over the contact residues present in the
// unit. Units without any contact residue fall back to every residue.
func ContactPLDDTScore(unit model.WorkUnit, raw model.RawResult, _ model.Individual, contacts []string) (model.Score, error) {
	conf, err := residueConfidence(unit, raw)
	if err != nil {
		return model.Score{}, err
	}
	overall := meanOf(conf.values)

	var picked []float64
	for _, key := range contacts {
		if i, ok := conf.index[key]; ok {
			picked = append(picked, conf.values[i])
		}
	}
	contact := overall
	if len(picked) > 0 {
		contact = meanOf(picked)
	}
	return model.Score{
		Total:     -contact,
		Terms:     map[string]float64{"contact_plddt": contact, "plddt": overall},
		Structure: unitStructure(unit, raw),
	}, nil
}

// CalphaRMSD compares the stabilized chain as predicted inside the complex
// against its standalone prediction.
func CalphaRMSD(complex, monomer model.Structure, _ model.Individual) (float64, error) {
	if len(monomer.Chains) != 1 {
		return 0, fmt.Errorf("monomer structure must cover one chain, got %v", monomer.Chains)
	}
	chain := monomer.Chains[0]

	complexAtoms, err := parsedStructures.atoms(complex.PDB)
	if err != nil {
		return 0, fmt.Errorf("parse complex structure: %w", err)
	}
	monomerAtoms, err := parsedStructures.atoms(monomer.PDB)
	if err != nil {
		return 0, fmt.Errorf("parse monomer structure: %w", err)
	}

	inComplex := chainAtoms(complexAtoms, chain)
	alone := chainAtoms(monomerAtoms, chain)
	if len(alone) == 0 {
		// Standalone predictions are often relabelled to the first chain id.
		alone = monomerAtoms
	}
	if len(inComplex) == 0 {
		return 0, fmt.Errorf("chain %s missing from complex structure", chain)
	}
	return SuperposedRMSD(inComplex, alone)
}

type confidence struct {
	values []float64
	index  map[string]int
}

func (c *confidence) add(key string, v float64) {
	if _, dup := c.index[key]; dup {
		return
	}
	c.index[key] = len(c.values)
	c.values = append(c.values, v)
}

// residueConfidence collects per-residue pLDDT keyed like "A12". Values
// reported by the predictor take precedence over PDB B-factors.
func residueConfidence(unit model.WorkUnit, raw model.RawResult) (confidence, error) {
	total := 0
	for _, seq := range unit.Sequences {
		total += len(seq)
	}
	conf := confidence{index: make(map[string]int, total)}
	if len(raw.PLDDT) > 0 && len(raw.PLDDT) == total && len(unit.Chains) == len(unit.Sequences) {
		offset := 0
		for i, chain := range unit.Chains {
			for r := 0; r < len(unit.Sequences[i]); r++ {
				conf.add(model.ResidueKey(chain, r+1), raw.PLDDT[offset+r])
			}
			offset += len(unit.Sequences[i])
		}
		return conf, nil
	}
	if strings.TrimSpace(raw.PDB) == "" {
		return confidence{}, errors.New("result carries neither pLDDT values nor a structure")
	}
	atoms, err := parsedStructures.atoms(raw.PDB)
	if err != nil {
		return confidence{}, err
	}
	for _, a := range atoms {
		conf.add(model.ResidueKey(a.Chain, a.ResSeq), a.BFactor)
	}
	if len(conf.values) == 0 {
		return confidence{}, errors.New("structure has no Cα atoms")
	}
	return conf, nil
}

func unitStructure(unit model.WorkUnit, raw model.RawResult) model.Structure {
	return model.Structure{Chains: append([]string(nil), unit.Chains...), PDB: raw.PDB}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
