package residue

import (
	"strings"
	"testing"
)

func TestAllowedResidues(t *testing.T) {
	all, err := AllowedResidues("all")
	if err != nil || all != CanonicalResidues {
		t.Fatalf("all: %q %v", all, err)
	}
	noCys, err := AllowedResidues("all-CW")
	if err != nil || strings.ContainsAny(noCys, "CW") || len(noCys) != 18 {
		t.Fatalf("all-CW: %q %v", noCys, err)
	}
	literal, err := AllowedResidues("kre")
	if err != nil || literal != "KRE" {
		t.Fatalf("literal: %q %v", literal, err)
	}
	if _, err := AllowedResidues("KZ"); err == nil {
		t.Fatal("expected error for non-canonical residue")
	}
}
