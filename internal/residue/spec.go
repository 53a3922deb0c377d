package residue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"evoprot/internal/model"
)

// DefaultMutTo allows every canonical amino acid at a designable position.
const DefaultMutTo = "all"

type specDocument struct {
	Sequence   yaml.Node        `yaml:"sequence"`
	Designable []designableItem `yaml:"designable"`
	Symmetric  [][]string       `yaml:"symmetric"`
}

type designableItem struct {
	Chain string `yaml:"chain"`
	Resid int    `yaml:"resid"`
	WTAA  string `yaml:"WTAA"`
	MutTo string `yaml:"MutTo"`
}

// LoadSpec reads a residue specification document (JSON or YAML) into the
// seed individual. Chain order follows the document's key order.
func LoadSpec(path string) (model.Individual, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Individual{}, fmt.Errorf("read residue spec: %w", err)
	}
	ind, err := DecodeSpec(data)
	if err != nil {
		return model.Individual{}, fmt.Errorf("residue spec %s: %w", path, err)
	}
	return ind, nil
}

func DecodeSpec(data []byte) (model.Individual, error) {
	var doc specDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return model.Individual{}, err
	}
	if doc.Sequence.Kind != yaml.MappingNode || len(doc.Sequence.Content) == 0 {
		return model.Individual{}, fmt.Errorf("sequence mapping is required")
	}

	ind := model.Individual{}
	for i := 0; i+1 < len(doc.Sequence.Content); i += 2 {
		ind.Chains = append(ind.Chains, model.Chain{
			ID:       doc.Sequence.Content[i].Value,
			Sequence: strings.TrimSpace(doc.Sequence.Content[i+1].Value),
		})
	}
	for _, item := range doc.Designable {
		mutTo := item.MutTo
		if mutTo == "" {
			mutTo = DefaultMutTo
		}
		ind.Designable = append(ind.Designable, model.DesignablePosition{
			Chain:    item.Chain,
			Resid:    item.Resid,
			WildType: item.WTAA,
			MutTo:    mutTo,
		})
	}
	ind.Symmetric = doc.Symmetric

	if err := Validate(ind); err != nil {
		return model.Individual{}, err
	}
	return ind, nil
}

// Validate checks that designable positions and symmetry ties are consistent
// with the chain sequences, and that every mutation set resolves.
func Validate(ind model.Individual) error {
	if len(ind.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	seenChain := make(map[string]struct{}, len(ind.Chains))
	for _, chain := range ind.Chains {
		if chain.ID == "" {
			return fmt.Errorf("chain id is required")
		}
		if _, dup := seenChain[chain.ID]; dup {
			return fmt.Errorf("duplicate chain %s", chain.ID)
		}
		seenChain[chain.ID] = struct{}{}
		if chain.Sequence == "" {
			return fmt.Errorf("chain %s has an empty sequence", chain.ID)
		}
	}

	designable := make(map[string]struct{}, len(ind.Designable))
	for _, pos := range ind.Designable {
		seq, ok := ind.Sequence(pos.Chain)
		if !ok {
			return fmt.Errorf("designable residue %s references unknown chain", pos.Key())
		}
		if pos.Resid < 1 || pos.Resid > len(seq) {
			return fmt.Errorf("designable residue %s out of range (chain length %d)", pos.Key(), len(seq))
		}
		if pos.WildType != "" && !strings.EqualFold(pos.WildType, seq[pos.Resid-1:pos.Resid]) {
			return fmt.Errorf("designable residue %s wild type %s does not match sequence residue %s", pos.Key(), pos.WildType, seq[pos.Resid-1:pos.Resid])
		}
		if _, err := AllowedResidues(pos.MutTo); err != nil {
			return fmt.Errorf("designable residue %s: %w", pos.Key(), err)
		}
		if _, dup := designable[pos.Key()]; dup {
			return fmt.Errorf("duplicate designable residue %s", pos.Key())
		}
		designable[pos.Key()] = struct{}{}
	}

	for _, tie := range ind.Symmetric {
		if len(tie) < 2 {
			return fmt.Errorf("%w: tie %v needs at least two residues", ErrSymmetryMismatch, tie)
		}
		seen := make(map[string]struct{}, len(tie))
		for _, key := range tie {
			if _, ok := designable[key]; !ok {
				return fmt.Errorf("tied residue %s is not designable", key)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("tie %v repeats residue %s", tie, key)
			}
			seen[key] = struct{}{}
		}
	}
	return nil
}

// Build assembles a residue specification from chain sequences, a mutable
// residue list and symmetry groups in the command-line syntax.
func Build(chains []model.Chain, mutable, symmetric, mutTo string) (model.Individual, error) {
	if mutTo == "" {
		mutTo = DefaultMutTo
	}
	ind := model.Individual{Chains: append([]model.Chain(nil), chains...)}
	residues, err := ParseList(mutable)
	if err != nil {
		return model.Individual{}, err
	}
	for _, res := range residues {
		seq, ok := ind.Sequence(res.Chain)
		if !ok {
			return model.Individual{}, fmt.Errorf("residue %s references unknown chain", res)
		}
		if res.Index < 1 || res.Index > len(seq) {
			return model.Individual{}, fmt.Errorf("residue %s out of range (chain length %d)", res, len(seq))
		}
		ind.Designable = append(ind.Designable, model.DesignablePosition{
			Chain:    res.Chain,
			Resid:    res.Index,
			WildType: string(seq[res.Index-1]),
			MutTo:    mutTo,
		})
	}
	if strings.TrimSpace(symmetric) != "" {
		ties, err := ParseSymmetric(symmetric)
		if err != nil {
			return model.Individual{}, err
		}
		ind.Symmetric = ties
	}
	if err := Validate(ind); err != nil {
		return model.Individual{}, err
	}
	return ind, nil
}

// WriteSpec encodes ind as a residue specification JSON document, keeping
// chain order.
func WriteSpec(w io.Writer, ind model.Individual) error {
	var seq bytes.Buffer
	seq.WriteByte('{')
	for i, chain := range ind.Chains {
		if i > 0 {
			seq.WriteByte(',')
		}
		key, _ := json.Marshal(chain.ID)
		value, _ := json.Marshal(chain.Sequence)
		seq.Write(key)
		seq.WriteByte(':')
		seq.Write(value)
	}
	seq.WriteByte('}')

	designable := make([]map[string]any, 0, len(ind.Designable))
	for _, pos := range ind.Designable {
		designable = append(designable, map[string]any{
			"chain": pos.Chain,
			"resid": pos.Resid,
			"WTAA":  pos.WildType,
			"MutTo": pos.MutTo,
		})
	}
	symmetric := ind.Symmetric
	if symmetric == nil {
		symmetric = [][]string{}
	}
	doc := struct {
		Sequence   json.RawMessage  `json:"sequence"`
		Designable []map[string]any `json:"designable"`
		Symmetric  [][]string       `json:"symmetric"`
	}{
		Sequence:   seq.Bytes(),
		Designable: designable,
		Symmetric:  symmetric,
	}
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// ReadStartingSequences reads one candidate per line, chain sequences
// comma-separated in the template's chain order. Blank lines and lines
// starting with '#' are skipped.
func ReadStartingSequences(r io.Reader, template model.Individual) ([]model.Individual, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lengths := template.Lengths()

	var out []model.Individual
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.Split(text, model.IdentitySeparator)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		ind, err := template.WithSequences(parts)
		if err != nil {
			return nil, fmt.Errorf("starting sequences line %d: %w", line, err)
		}
		for i, seq := range parts {
			if len(seq) != lengths[i] {
				return nil, fmt.Errorf("starting sequences line %d: chain %s length %d, want %d", line, template.Chains[i].ID, len(seq), lengths[i])
			}
		}
		out = append(out, ind)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadStartingMutations reads one candidate per line as point mutations of the
// template, for example "A5W B12K". Tokens are separated by whitespace or
// commas. Every mutated position must be designable and the residue must be in
// its mutation set; symmetry-tied positions receive the same residue.
func ReadStartingMutations(r io.Reader, template model.Individual) ([]model.Individual, error) {
	designable := make(map[string]model.DesignablePosition, len(template.Designable))
	for _, pos := range template.Designable {
		designable[pos.Key()] = pos
	}
	ties := make(map[string][]string)
	for _, group := range template.Symmetric {
		for _, key := range group {
			ties[key] = group
		}
	}
	chainIdx := make(map[string]int, len(template.Chains))
	for i, chain := range template.Chains {
		chainIdx[chain.ID] = i
	}

	scanner := bufio.NewScanner(r)
	var out []model.Individual
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		seqs := make([][]byte, len(template.Chains))
		for i, chain := range template.Chains {
			seqs[i] = []byte(chain.Sequence)
		}
		tokens := strings.FieldsFunc(text, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		for _, token := range tokens {
			token = strings.ToUpper(token)
			if len(token) < 3 {
				return nil, fmt.Errorf("starting mutations line %d: malformed mutation %q", line, token)
			}
			key, aa := token[:len(token)-1], token[len(token)-1:]
			pos, ok := designable[key]
			if !ok {
				return nil, fmt.Errorf("starting mutations line %d: %s is not designable", line, key)
			}
			allowed, err := AllowedResidues(pos.MutTo)
			if err != nil {
				return nil, err
			}
			if !strings.Contains(allowed, aa) {
				return nil, fmt.Errorf("starting mutations line %d: %s not allowed at %s", line, aa, key)
			}
			seqs[chainIdx[pos.Chain]][pos.Resid-1] = aa[0]
			for _, tied := range ties[key] {
				if other, ok := designable[tied]; ok {
					seqs[chainIdx[other.Chain]][other.Resid-1] = aa[0]
				}
			}
		}
		parts := make([]string, len(seqs))
		for i, seq := range seqs {
			parts[i] = string(seq)
		}
		ind, err := template.WithSequences(parts)
		if err != nil {
			return nil, fmt.Errorf("starting mutations line %d: %w", line, err)
		}
		out = append(out, ind)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
