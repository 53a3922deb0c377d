// Package residue parses the residue-range and symmetry-group syntax used to
// describe designable positions, contact areas and tied residues.
package residue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var (
	ErrInvalidResidue   = errors.New("invalid residue")
	ErrInvalidRange     = errors.New("invalid residue range")
	ErrSymmetryMismatch = errors.New("symmetry group size mismatch")
)

// Residue is a chain-local 1-based residue reference.
type Residue struct {
	Chain string
	Index int
}

func (r Residue) String() string {
	return r.Chain + strconv.Itoa(r.Index)
}

// ParseResidue parses a single token such as "A12".
func ParseResidue(token string) (Residue, error) {
	token = strings.TrimSpace(token)
	split := strings.IndexFunc(token, unicode.IsDigit)
	if split <= 0 {
		return Residue{}, fmt.Errorf("%w: %q", ErrInvalidResidue, token)
	}
	chain, digits := token[:split], token[split:]
	if strings.IndexFunc(chain, unicode.IsDigit) >= 0 {
		return Residue{}, fmt.Errorf("%w: %q", ErrInvalidResidue, token)
	}
	idx, err := strconv.Atoi(digits)
	if err != nil {
		return Residue{}, fmt.Errorf("%w: %q", ErrInvalidResidue, token)
	}
	return Residue{Chain: chain, Index: idx}, nil
}

// ParseRange expands "<chain><start>-<chain><end>" inclusively. Both ends must
// name the same chain and start must be smaller than end.
func ParseRange(item string) ([]Residue, error) {
	parts := strings.Split(strings.TrimSpace(item), "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRange, item)
	}
	start, err := ParseResidue(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, item, err)
	}
	end, err := ParseResidue(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRange, item, err)
	}
	if start.Chain != end.Chain {
		return nil, fmt.Errorf("%w: ranges cannot span multiple chains: %q", ErrInvalidRange, item)
	}
	if start.Index >= end.Index {
		return nil, fmt.Errorf("%w: start index must be smaller than end index: %q", ErrInvalidRange, item)
	}
	out := make([]Residue, 0, end.Index-start.Index+1)
	for i := start.Index; i <= end.Index; i++ {
		out = append(out, Residue{Chain: start.Chain, Index: i})
	}
	return out, nil
}

// ParseItem accepts either a single residue or a range.
func ParseItem(item string) ([]Residue, error) {
	if strings.Contains(item, "-") {
		return ParseRange(item)
	}
	res, err := ParseResidue(item)
	if err != nil {
		return nil, err
	}
	return []Residue{res}, nil
}

// Expand turns a comma-separated list of residues and ranges into one token
// per residue, e.g. "A1-A3,B5" -> [A1 A2 A3 B5].
func Expand(list string) ([]string, error) {
	residues, err := ParseList(list)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(residues))
	for i, res := range residues {
		out[i] = res.String()
	}
	return out, nil
}

func ParseList(list string) ([]Residue, error) {
	var out []Residue
	for _, item := range strings.Split(strings.TrimSpace(list), ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		residues, err := ParseItem(item)
		if err != nil {
			return nil, err
		}
		out = append(out, residues...)
	}
	return out, nil
}

// ParseSymmetryGroup expands the members of one tie group. All members must
// expand to the same number of residues.
func ParseSymmetryGroup(items []string) ([][]Residue, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty group", ErrSymmetryMismatch)
	}
	out := make([][]Residue, 0, len(items))
	for _, item := range items {
		residues, err := ParseItem(item)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && len(residues) != len(out[0]) {
			return nil, fmt.Errorf("%w: tied residues and ranges must be the same size: %s", ErrSymmetryMismatch, strings.Join(items, ":"))
		}
		out = append(out, residues)
	}
	return out, nil
}

// ParseSymmetric parses comma-separated groups of colon-separated members
// ("A1-A3:B1-B3,A7:B9") into tied residue tuples, one tuple per position.
func ParseSymmetric(spec string) ([][]string, error) {
	var ties [][]string
	for _, group := range strings.Split(strings.TrimSpace(spec), ",") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		if !strings.Contains(group, ":") {
			return nil, fmt.Errorf("%w: no colon in symmetry group %q", ErrSymmetryMismatch, group)
		}
		members, err := ParseSymmetryGroup(strings.Split(group, ":"))
		if err != nil {
			return nil, err
		}
		for pos := range members[0] {
			tie := make([]string, len(members))
			for m := range members {
				tie[m] = members[m][pos].String()
			}
			ties = append(ties, tie)
		}
	}
	return ties, nil
}
