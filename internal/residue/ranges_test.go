package residue

import (
	"errors"
	"reflect"
	"testing"
)

func TestExpandRangesAndSingles(t *testing.T) {
	got, err := Expand("A1-A3,B5")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"A1", "A2", "A3", "B5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected expansion: got=%v want=%v", got, want)
	}
}

func TestExpandSkipsEmptyItems(t *testing.T) {
	got, err := Expand(" A7, ,B2-B3,")
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := []string{"A7", "B2", "B3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected expansion: got=%v want=%v", got, want)
	}
}

func TestParseRangeRejectsInvalidInput(t *testing.T) {
	cases := map[string]string{
		"mismatched chains": "A1-B3",
		"reversed bounds":   "A5-A2",
		"equal bounds":      "A2-A2",
		"missing index":     "A-A3",
		"extra dash":        "A1-A2-A3",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRange(input); !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange for %q, got %v", input, err)
			}
		})
	}
}

func TestParseResidueRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{"12", "A", "A1B", ""} {
		if _, err := ParseResidue(token); !errors.Is(err, ErrInvalidResidue) {
			t.Fatalf("expected ErrInvalidResidue for %q, got %v", token, err)
		}
	}
	res, err := ParseResidue("AB12")
	if err != nil {
		t.Fatalf("parse multi-letter chain: %v", err)
	}
	if res.Chain != "AB" || res.Index != 12 {
		t.Fatalf("unexpected residue: %+v", res)
	}
}

func TestParseSymmetryGroupRejectsMismatchedLengths(t *testing.T) {
	_, err := ParseSymmetryGroup([]string{"A1-A2", "B7"})
	if !errors.Is(err, ErrSymmetryMismatch) {
		t.Fatalf("expected ErrSymmetryMismatch, got %v", err)
	}
}

func TestParseSymmetricZipsTiedPositions(t *testing.T) {
	ties, err := ParseSymmetric("A1-A3:B4-B6,A9:B9")
	if err != nil {
		t.Fatalf("parse symmetric: %v", err)
	}
	want := [][]string{{"A1", "B4"}, {"A2", "B5"}, {"A3", "B6"}, {"A9", "B9"}}
	if !reflect.DeepEqual(ties, want) {
		t.Fatalf("unexpected ties: got=%v want=%v", ties, want)
	}
}

func TestParseSymmetricRequiresColon(t *testing.T) {
	if _, err := ParseSymmetric("A1-A3"); !errors.Is(err, ErrSymmetryMismatch) {
		t.Fatalf("expected ErrSymmetryMismatch, got %v", err)
	}
}
