package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func testModMap() ModMap {
	return ModMap{
		"Oxidation":       {Name: "Oxidation", Accession: "UNIMOD:35", Site: "M", Mass: 15.994915},
		"Carbamidomethyl": {Name: "Carbamidomethyl", Accession: "UNIMOD:4", Site: "C", Mass: 57.021464},
		"Acetyl":          {Name: "Acetyl", Accession: "UNIMOD:1", Site: "N-term", Mass: 42.010565},
	}
}

func TestDecodePeptidoform(t *testing.T) {
	mods := testModMap()
	ac := NewAutomaton(mods.Names())

	tests := []struct {
		name     string
		pf       string
		wantSeq  string
		wantMods []Modification
	}{
		{
			name:    "unmodified",
			pf:      "PEPTIDE",
			wantSeq: "PEPTIDE",
		},
		{
			name:    "internal modification",
			pf:      "PEPT(Oxidation)MIDE",
			wantSeq: "PEPTMIDE",
			wantMods: []Modification{
				{Mass: 15.994915, Position: 4, Name: "Oxidation"},
			},
		},
		{
			name:    "n-terminal modification",
			pf:      "(Acetyl)PEPTIDE",
			wantSeq: "PEPTIDE",
			wantMods: []Modification{
				{Mass: 42.010565, Position: 0, Name: "Acetyl"},
			},
		},
		{
			name:    "multiple modifications sorted by position",
			pf:      "AC(Carbamidomethyl)DM(Oxidation)K",
			wantSeq: "ACDMK",
			wantMods: []Modification{
				{Mass: 57.021464, Position: 2, Name: "Carbamidomethyl"},
				{Mass: 15.994915, Position: 4, Name: "Oxidation"},
			},
		},
		{
			name:    "bracket notation",
			pf:      "PEPT[Oxidation]MIDE",
			wantSeq: "PEPTMIDE",
			wantMods: []Modification{
				{Mass: 15.994915, Position: 4, Name: "Oxidation"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, got := DecodePeptidoform(tt.pf, mods, ac)
			if seq != tt.wantSeq {
				t.Errorf("sequence = %q, want %q", seq, tt.wantSeq)
			}
			if diff := cmp.Diff(tt.wantMods, got); diff != "" {
				t.Errorf("modifications mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// Modification names like TMT or HNE are also legal residue runs, so a
// matcher hit in the bare sequence must not produce a modification.
func TestDecodePeptidoformBareSequenceHit(t *testing.T) {
	mods := ModMap{
		"TMT": {Name: "TMT", Accession: "UNIMOD:739", Site: "K", Mass: 229.162932},
		"HNE": {Name: "HNE", Accession: "UNIMOD:53", Site: "C", Mass: 156.11503},
	}
	ac := NewAutomaton(mods.Names())

	tests := []struct {
		name     string
		pf       string
		wantSeq  string
		wantMods []Modification
	}{
		{
			name:    "unmodified sequence spelling a modification name",
			pf:      "ATMTK",
			wantSeq: "ATMTK",
		},
		{
			name:    "bare hit alongside a real group",
			pf:      "HNEK(TMT)R",
			wantSeq: "HNEKR",
			wantMods: []Modification{
				{Mass: 229.162932, Position: 4, Name: "TMT"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, got := DecodePeptidoform(tt.pf, mods, ac)
			if seq != tt.wantSeq {
				t.Errorf("sequence = %q, want %q", seq, tt.wantSeq)
			}
			if diff := cmp.Diff(tt.wantMods, got); diff != "" {
				t.Errorf("modifications mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModMapNames(t *testing.T) {
	names := testModMap().Names()
	want := []string{"Acetyl", "Carbamidomethyl", "Oxidation"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveModMass(t *testing.T) {
	if mass, ok := ResolveModMass("Oxidation"); !ok || mass != 15.994915 {
		t.Errorf("ResolveModMass(Oxidation) = %v, %v", mass, ok)
	}
	if _, ok := ResolveModMass("NotAModification"); ok {
		t.Error("ResolveModMass accepted an unknown name")
	}
}
