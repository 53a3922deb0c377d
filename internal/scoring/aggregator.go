// Package scoring fans individuals out into tagged prediction units, folds the
// predictions back into composite score records, and hosts the score and RMSD
// function registry.
package scoring

import (
	"errors"
	"fmt"
	"strings"

	"evoprot/internal/model"
)

// ErrIntegrity reports a prediction whose sequences do not belong to the
// individual it was recombined into.
var ErrIntegrity = errors.New("recombined sequence does not match individual")

type Aggregator struct {
	Score ScoreFunc
	// RMSD is optional and only used when Stabilize is non-empty.
	RMSD      RMSDFunc
	Stabilize []string
	Contacts  []string
}

// Validate checks that every stabilized chain exists in template.
func (a Aggregator) Validate(template model.Individual) error {
	if a.Score == nil {
		return errors.New("score function is required")
	}
	seen := make(map[string]bool, len(a.Stabilize))
	for _, chain := range a.Stabilize {
		if _, ok := template.Sequence(chain); !ok {
			return fmt.Errorf("stabilized chain %q not in individual chains %v", chain, template.ChainIDs())
		}
		if seen[chain] {
			return fmt.Errorf("stabilized chain %q listed twice", chain)
		}
		seen[chain] = true
	}
	return nil
}

// BuildUnits emits one complex unit per individual, followed by one block of
// monomer units per stabilized chain.
func (a Aggregator) BuildUnits(pool []model.Individual) []model.WorkUnit {
	units := make([]model.WorkUnit, 0, len(pool)*(1+len(a.Stabilize)))
	for _, ind := range pool {
		seqs := make([]string, len(ind.Chains))
		for i, chain := range ind.Chains {
			seqs[i] = chain.Sequence
		}
		units = append(units, model.WorkUnit{
			Individual: ind.Identity(),
			Role:       model.ComplexRole(),
			Chains:     ind.ChainIDs(),
			Sequences:  seqs,
		})
	}
	for _, chain := range a.Stabilize {
		for _, ind := range pool {
			seq, _ := ind.Sequence(chain)
			units = append(units, model.WorkUnit{
				Individual: ind.Identity(),
				Role:       model.MonomerRole(chain),
				Chains:     []string{chain},
				Sequences:  []string{seq},
			})
		}
	}
	return units
}

type unitResult struct {
	unit model.WorkUnit
	raw  model.RawResult
}

// Recombine matches results back to pool by unit tag and builds one score
// record per individual, in pool order.
func (a Aggregator) Recombine(pool []model.Individual, units []model.WorkUnit, results []model.RawResult, iteration int) ([]model.ScoreRecord, error) {
	if len(units) != len(results) {
		return nil, fmt.Errorf("%w: %d units but %d results", ErrIntegrity, len(units), len(results))
	}

	byTag := make(map[string]map[model.Role]unitResult, len(pool))
	for i, unit := range units {
		roles := byTag[unit.Individual]
		if roles == nil {
			roles = make(map[model.Role]unitResult, 1+len(a.Stabilize))
			byTag[unit.Individual] = roles
		}
		if _, dup := roles[unit.Role]; dup {
			return nil, fmt.Errorf("duplicate %s unit for %s", unit.Role, unit.Individual)
		}
		roles[unit.Role] = unitResult{unit: unit, raw: results[i]}
	}

	records := make([]model.ScoreRecord, 0, len(pool))
	for _, ind := range pool {
		record, err := a.combine(ind, byTag[ind.Identity()], iteration)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (a Aggregator) combine(ind model.Individual, roles map[model.Role]unitResult, iteration int) (model.ScoreRecord, error) {
	identity := ind.Identity()
	complexResult, ok := roles[model.ComplexRole()]
	if !ok {
		return model.ScoreRecord{}, fmt.Errorf("%w: no complex result for %s", ErrIntegrity, identity)
	}
	if got := strings.Join(complexResult.raw.Sequences, model.IdentitySeparator); got != identity {
		return model.ScoreRecord{}, fmt.Errorf("%w: complex result %q for %q", ErrIntegrity, got, identity)
	}

	complexScore, err := a.score(complexResult, ind)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	record := model.ScoreRecord{
		Identity:   identity,
		Individual: ind,
		Complex:    complexScore,
		Iteration:  iteration,
	}

	for _, chain := range a.Stabilize {
		res, ok := roles[model.MonomerRole(chain)]
		if !ok {
			return model.ScoreRecord{}, fmt.Errorf("%w: no monomer result for chain %s of %s", ErrIntegrity, chain, identity)
		}
		want, _ := ind.Sequence(chain)
		if got := strings.Join(res.raw.Sequences, model.IdentitySeparator); got != want {
			return model.ScoreRecord{}, fmt.Errorf("%w: monomer %s result %q for %q", ErrIntegrity, chain, got, want)
		}
		monomerScore, err := a.score(res, ind)
		if err != nil {
			return model.ScoreRecord{}, err
		}
		record.Monomers = append(record.Monomers, model.ChainScore{Chain: chain, Score: monomerScore})
		record.MonomerSum += monomerScore.Total

		if a.RMSD != nil {
			rmsd, err := a.RMSD(complexScore.Structure, monomerScore.Structure, ind)
			if err != nil {
				return model.ScoreRecord{}, fmt.Errorf("rmsd for chain %s of %s: %w", chain, identity, err)
			}
			record.RMSD = append(record.RMSD, model.ChainRMSD{Chain: chain, RMSD: rmsd})
			record.RMSDSum += rmsd
		}
	}

	record.Total = complexScore.Total + record.MonomerSum + record.RMSDSum
	return record, nil
}

func (a Aggregator) score(res unitResult, ind model.Individual) (model.Score, error) {
	score, err := a.Score(res.unit, res.raw, ind, a.Contacts)
	if err != nil {
		return model.Score{}, fmt.Errorf("score %s unit of %s: %w", res.unit.Role, res.unit.Individual, err)
	}
	if score.Structure.PDB == "" && len(score.Structure.Chains) == 0 {
		score.Structure = unitStructure(res.unit, res.raw)
	}
	return score, nil
}
