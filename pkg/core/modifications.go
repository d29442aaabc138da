// Package core provides modification parsing and management
package core

import (
	"sort"
	"strings"
)

// Modification represents a peptide modification with position and mass shift.
type Modification struct {
	Mass     float64
	Position int    // 1-based residue index; 0 for N-term
	Name     string // Modification name (e.g., "Carbamidomethyl", "Oxidation")
}

// ModEntry describes one modification declared in the mzTab metadata
// section: its Unimod accession, the site rule and the monoisotopic mass.
type ModEntry struct {
	Name      string
	Accession string // e.g. "UNIMOD:35"
	Site      string // e.g. "M", "N-term"
	Mass      float64
}

// ModMap maps a modification name to its metadata. Built once per mzTab
// source, immutable afterwards and shared read-only by the annotation step.
type ModMap map[string]ModEntry

// Names returns the modification names in sorted order, the pattern set for
// the Aho-Corasick matcher.
func (m ModMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodePeptidoform splits a peptidoform string like
// "PEPT(Oxidation)IDE" or "(Acetyl)PEPTIDE" into the clean sequence and the
// structured modification list. Modification tokens are located with the
// multi-pattern matcher; positions are 1-based residue indexes, 0 for the
// N-terminus. Runs once per row; no memoization across rows.
func DecodePeptidoform(pf string, mods ModMap, ac *Automaton) (string, []Modification) {
	var seq strings.Builder
	// residuesBefore[i] = number of sequence residues preceding byte i.
	// inGroup[i] marks bytes inside a bracket group; matcher hits outside a
	// group are bare residue runs (TMT, HNE, FAD are all legal sequences),
	// not modifications.
	residuesBefore := make([]int, len(pf)+1)
	inGroup := make([]bool, len(pf))
	depth := 0
	n := 0
	for i := 0; i < len(pf); i++ {
		residuesBefore[i] = n
		switch c := pf[i]; c {
		case '(', '[':
			depth++
		case ')', ']':
			if depth > 0 {
				depth--
			}
		default:
			if depth == 0 && c >= 'A' && c <= 'Z' {
				seq.WriteByte(c)
				n++
			}
		}
		inGroup[i] = depth > 0
	}
	residuesBefore[len(pf)] = n

	type modKey struct {
		name string
		pos  int
	}
	seen := make(map[modKey]bool)
	var out []Modification
	for _, hit := range ac.FindAll(pf) {
		entry, ok := mods[hit.Pattern]
		if !ok {
			continue
		}
		bare := false
		for i := hit.Start; i < hit.End; i++ {
			if !inGroup[i] {
				bare = true
				break
			}
		}
		if bare {
			continue
		}
		pos := residuesBefore[hit.Start]
		k := modKey{entry.Name, pos}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, Modification{
			Mass:     entry.Mass,
			Position: pos,
			Name:     entry.Name,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].Name < out[j].Name
	})
	return seq.String(), out
}

// ResolveModMass returns the monoisotopic mass shift for a modification
// name from the built-in Unimod table.
func ResolveModMass(name string) (float64, bool) {
	mass, ok := unimodMonoMass[name]
	return mass, ok
}

// unimodMonoMass holds monoisotopic mass shifts for common Unimod
// modifications, keyed by the names search engines emit in mzTab metadata.
var unimodMonoMass = map[string]float64{
	"Acetyl":               42.010565,
	"Amidated":             -0.984016,
	"Biotin":               226.077598,
	"Carbamidomethyl":      57.021464,
	"Carbamyl":             43.005814,
	"Carboxymethyl":        58.005479,
	"Deamidated":           0.984016,
	"Met->Hse":             -29.992806,
	"Met->Hsl":             -48.003371,
	"NIPCAM":               99.068414,
	"Phospho":              79.966331,
	"Dehydrated":           -18.010565,
	"Propionamide":         71.037114,
	"Pyro-carbamidomethyl": 39.994915,
	"Glu->pyro-Glu":        -18.010565,
	"Gln->pyro-Glu":        -17.026549,
	"Cation:Na":            21.981943,
	"Methyl":               14.01565,
	"Oxidation":            15.994915,
	"Dimethyl":             28.0313,
	"Trimethyl":            42.04695,
	"Methylthio":           45.987721,
	"Sulfo":                79.956815,
	"Hex":                  162.052824,
	"Lipoyl":               188.032956,
	"HexNAc":               203.079373,
	"Farnesyl":             204.187801,
	"Myristoyl":            210.198366,
	"PyridoxalPhosphate":   229.014009,
	"Palmitoyl":            238.229666,
	"GeranylGeranyl":       272.250401,
	"Phosphopantetheine":   340.085794,
	"FAD":                  783.141486,
	"Guanidinyl":           42.021798,
	"HNE":                  156.11503,
	"Glucuronyl":           176.032088,
	"Glutathione":          305.068156,
	"Propionyl":            56.026215,
	"TMT":                  229.162932,
	"TMTPro":               304.207146,
	"TMT6plex":             229.162932,
	"TMT10plex":            229.162932,
	"TMT11plex":            229.162932,
	"TMT16plex":            304.207146,
	"iTRAQ4plex":           144.102063,
	"iTRAQ8plex":           304.205360,
}
