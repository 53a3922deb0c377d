package scoring

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"evoprot/internal/model"
)

// Atom is one Cα record from a PDB payload.
type Atom struct {
	Chain   string
	ResName string
	ResSeq  int
	X, Y, Z float64
	BFactor float64
}

// ParseCAAtoms reads the Cα atoms of the first model in a PDB payload.
func ParseCAAtoms(pdb string) ([]Atom, error) {
	var atoms []Atom
	scanner := bufio.NewScanner(strings.NewReader(pdb))
	scanner.Buffer(make([]byte, 0, 256), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "ENDMDL") {
			break
		}
		if !strings.HasPrefix(line, "ATOM") || len(line) < 54 {
			continue
		}
		if strings.TrimSpace(line[12:16]) != "CA" {
			continue
		}
		atom, err := parseAtomLine(line)
		if err != nil {
			return nil, err
		}
		atoms = append(atoms, atom)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return atoms, nil
}

func parseAtomLine(line string) (Atom, error) {
	resSeq, err := strconv.Atoi(strings.TrimSpace(line[22:26]))
	if err != nil {
		return Atom{}, fmt.Errorf("parse residue number %q: %w", line[22:26], err)
	}
	var coords [3]float64
	for i, field := range []string{line[30:38], line[38:46], line[46:54]} {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return Atom{}, fmt.Errorf("parse coordinate %q: %w", field, err)
		}
		coords[i] = v
	}
	atom := Atom{
		Chain:   strings.TrimSpace(line[21:22]),
		ResName: strings.TrimSpace(line[17:20]),
		ResSeq:  resSeq,
		X:       coords[0],
		Y:       coords[1],
		Z:       coords[2],
	}
	if len(line) >= 66 {
		if b, err := strconv.ParseFloat(strings.TrimSpace(line[60:66]), 64); err == nil {
			atom.BFactor = b
		}
	}
	return atom, nil
}

var threeToOne = map[string]byte{
	"ALA": 'A', "ARG": 'R', "ASN": 'N', "ASP": 'D', "CYS": 'C',
	"GLN": 'Q', "GLU": 'E', "GLY": 'G', "HIS": 'H', "ILE": 'I',
	"LEU": 'L', "LYS": 'K', "MET": 'M', "PHE": 'F', "PRO": 'P',
	"SER": 'S', "THR": 'T', "TRP": 'W', "TYR": 'Y', "VAL": 'V',
	"MSE": 'M',
}

// ChainSequences reads one-letter chain sequences from the Cα atoms of a PDB
// payload, in order of first appearance. Unknown residues become X.
func ChainSequences(pdb string) ([]model.Chain, error) {
	atoms, err := ParseCAAtoms(pdb)
	if err != nil {
		return nil, err
	}
	var chains []model.Chain
	index := map[string]int{}
	for _, atom := range atoms {
		i, ok := index[atom.Chain]
		if !ok {
			i = len(chains)
			index[atom.Chain] = i
			chains = append(chains, model.Chain{ID: atom.Chain})
		}
		letter, ok := threeToOne[atom.ResName]
		if !ok {
			letter = 'X'
		}
		chains[i].Sequence += string(letter)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no CA atoms found")
	}
	return chains, nil
}

// atomCache memoizes parsed structures; a complex structure is read once per
// stabilized chain during recombination.
type atomCache struct {
	cache *lru.Cache[string, []Atom]
}

func newAtomCache(size int) *atomCache {
	c, err := lru.New[string, []Atom](size)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}
	return &atomCache{cache: c}
}

func (c *atomCache) atoms(pdb string) ([]Atom, error) {
	if atoms, ok := c.cache.Get(pdb); ok {
		return atoms, nil
	}
	atoms, err := ParseCAAtoms(pdb)
	if err != nil {
		return nil, err
	}
	c.cache.Add(pdb, atoms)
	return atoms, nil
}

var parsedStructures = newAtomCache(64)

func chainAtoms(atoms []Atom, chain string) []Atom {
	var out []Atom
	for _, a := range atoms {
		if a.Chain == chain {
			out = append(out, a)
		}
	}
	return out
}
