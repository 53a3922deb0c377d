package residue

import (
	"fmt"
	"strings"
)

// CanonicalResidues is the one-letter alphabet of the twenty standard amino
// acids.
const CanonicalResidues = "ACDEFGHIKLMNPQRSTVWY"

// AllowedResidues resolves a MutTo expression: "all", "all-<letters>" to
// exclude letters, or a literal set of letters.
func AllowedResidues(mutTo string) (string, error) {
	expr := strings.ToUpper(strings.TrimSpace(mutTo))
	if expr == "" || expr == "ALL" {
		return CanonicalResidues, nil
	}
	if rest, ok := strings.CutPrefix(expr, "ALL-"); ok {
		var b strings.Builder
		for _, r := range CanonicalResidues {
			if !strings.ContainsRune(rest, r) {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			return "", fmt.Errorf("mutation set %q excludes every residue", mutTo)
		}
		return b.String(), nil
	}
	seen := make(map[rune]bool, len(expr))
	var b strings.Builder
	for _, r := range expr {
		if !strings.ContainsRune(CanonicalResidues, r) {
			return "", fmt.Errorf("mutation set %q has non-canonical residue %q", mutTo, r)
		}
		if !seen[r] {
			seen[r] = true
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}
