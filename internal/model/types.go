package model

import (
	"fmt"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// IdentitySeparator joins chain sequences into an individual's identity.
const IdentitySeparator = ","

type Chain struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

// DesignablePosition is a residue the optimizer may mutate. Resid is 1-based
// within its chain.
type DesignablePosition struct {
	Chain    string `json:"chain"`
	Resid    int    `json:"resid"`
	WildType string `json:"WTAA"`
	MutTo    string `json:"MutTo"`
}

func (p DesignablePosition) Key() string {
	return ResidueKey(p.Chain, p.Resid)
}

// ResidueKey formats a chain-local residue reference such as "A12".
func ResidueKey(chain string, resid int) string {
	return fmt.Sprintf("%s%d", chain, resid)
}

// Individual is one candidate. Values are treated as immutable once built;
// operators produce modified copies through WithSequences.
type Individual struct {
	Chains     []Chain              `json:"chains"`
	Designable []DesignablePosition `json:"designable"`
	Symmetric  [][]string           `json:"symmetric,omitempty"`
}

// Identity is the run-wide dedup and cache key.
func (ind Individual) Identity() string {
	parts := make([]string, len(ind.Chains))
	for i, chain := range ind.Chains {
		parts[i] = chain.Sequence
	}
	return strings.Join(parts, IdentitySeparator)
}

func (ind Individual) ChainIDs() []string {
	ids := make([]string, len(ind.Chains))
	for i, chain := range ind.Chains {
		ids[i] = chain.ID
	}
	return ids
}

func (ind Individual) Sequence(chainID string) (string, bool) {
	for _, chain := range ind.Chains {
		if chain.ID == chainID {
			return chain.Sequence, true
		}
	}
	return "", false
}

// Lengths returns per-chain sequence lengths, restricted to chainIDs when given.
func (ind Individual) Lengths(chainIDs ...string) []int {
	if len(chainIDs) == 0 {
		out := make([]int, len(ind.Chains))
		for i, chain := range ind.Chains {
			out[i] = len(chain.Sequence)
		}
		return out
	}
	out := make([]int, 0, len(chainIDs))
	for _, id := range chainIDs {
		seq, _ := ind.Sequence(id)
		out = append(out, len(seq))
	}
	return out
}

// WithSequences returns a copy carrying the same metadata and the given chain
// sequences, in chain order.
func (ind Individual) WithSequences(sequences []string) (Individual, error) {
	if len(sequences) != len(ind.Chains) {
		return Individual{}, fmt.Errorf("chain count mismatch: got=%d want=%d", len(sequences), len(ind.Chains))
	}
	out := ind.Clone()
	for i := range out.Chains {
		out.Chains[i].Sequence = sequences[i]
	}
	return out, nil
}

func (ind Individual) Clone() Individual {
	out := Individual{
		Chains:     append([]Chain(nil), ind.Chains...),
		Designable: append([]DesignablePosition(nil), ind.Designable...),
	}
	if ind.Symmetric != nil {
		out.Symmetric = make([][]string, len(ind.Symmetric))
		for i, group := range ind.Symmetric {
			out.Symmetric[i] = append([]string(nil), group...)
		}
	}
	return out
}

// Role distinguishes a full-complex prediction from a single stabilized chain.
type Role struct {
	Kind  RoleKind `json:"kind"`
	Chain string   `json:"chain,omitempty"`
}

type RoleKind string

const (
	RoleComplex RoleKind = "complex"
	RoleMonomer RoleKind = "monomer"
)

func ComplexRole() Role { return Role{Kind: RoleComplex} }

func MonomerRole(chain string) Role { return Role{Kind: RoleMonomer, Chain: chain} }

func (r Role) String() string {
	if r.Kind == RoleMonomer {
		return "monomer(" + r.Chain + ")"
	}
	return string(r.Kind)
}

// WorkUnit is one inference request owned by a single individual.
type WorkUnit struct {
	Individual string   `json:"individual"`
	Role       Role     `json:"role"`
	Chains     []string `json:"chains"`
	Sequences  []string `json:"sequences"`
}

// RawResult is what a predictor returns for one WorkUnit.
type RawResult struct {
	Sequences []string           `json:"sequences"`
	PDB       string             `json:"pdb"`
	PLDDT     []float64          `json:"plddt,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Structure is a predicted structure payload plus the chains it covers.
type Structure struct {
	Chains []string `json:"chains"`
	PDB    string   `json:"pdb"`
}

// Score is the normalized output of a score function for one unit.
type Score struct {
	Total     float64            `json:"total"`
	Terms     map[string]float64 `json:"terms,omitempty"`
	Structure Structure          `json:"structure"`
}

type ChainScore struct {
	Chain string `json:"chain"`
	Score Score  `json:"score"`
}

type ChainRMSD struct {
	Chain string  `json:"chain"`
	RMSD  float64 `json:"rmsd"`
}

// ScoreRecord is the composite, cached result for one identity.
type ScoreRecord struct {
	VersionedRecord
	Identity   string       `json:"identity"`
	Individual Individual   `json:"individual"`
	Total      float64      `json:"total"`
	Complex    Score        `json:"complex"`
	Monomers   []ChainScore `json:"monomers,omitempty"`
	RMSD       []ChainRMSD  `json:"rmsd,omitempty"`
	MonomerSum float64      `json:"monomer_total"`
	RMSDSum    float64      `json:"rmsd_total"`
	Iteration  int          `json:"iteration"`
}

// Structures returns the complex structure followed by one per stabilized chain.
func (r ScoreRecord) Structures() []Structure {
	out := make([]Structure, 0, 1+len(r.Monomers))
	out = append(out, r.Complex.Structure)
	for _, m := range r.Monomers {
		out = append(out, m.Score.Structure)
	}
	return out
}

// RankedEntry is one line of an iteration's ranked history.
type RankedEntry struct {
	Rank       int     `json:"rank"`
	Identity   string  `json:"identity"`
	Total      float64 `json:"total"`
	Complex    float64 `json:"complex"`
	MonomerSum float64 `json:"monomer_total"`
	RMSDSum    float64 `json:"rmsd_total"`
}

// IterationRanking is the persisted ranked pool of one iteration.
type IterationRanking struct {
	Iteration int           `json:"iteration"`
	Variant   string        `json:"variant"`
	Entries   []RankedEntry `json:"entries"`
}
