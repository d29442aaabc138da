// Package core provides the intermediate representation (IR) models for
// quantms.io records: features, peptide modifications and the helper
// machinery used to annotate them.
package core

import (
	"sort"
	"strings"
)

// Feature is a single quantified peptide observation, widened with PSM
// evidence, protein-group statistics and sample metadata. Pointer fields are
// nullable in the output schema; nil maps to a null cell.
type Feature struct {
	// Identification
	Sequence                  string
	Peptidoform               string
	Modifications             []Modification
	PrecursorCharge           *int32
	PosteriorErrorProbability *float64
	IsDecoy                   *int32
	CalculatedMZ              *float64
	ObservedMZ                *float64
	AdditionalScores          []ScoreEntry
	CVParams                  []CVParam

	// Protein group
	MPAccessions   []string
	PGGlobalQValue *float64
	Unique         *int32

	// Reserved gene-group columns, not populated by any producer yet.
	GGAccessions []string
	GGNames      []string

	// Quantification
	Intensities           []Intensity
	AdditionalIntensities []Intensity // reserved
	PredictedRT           *float64    // reserved
	RT                    *float64
	RTStart               *float64 // reserved
	RTStop                *float64 // reserved
	IonMobility           *float64 // reserved
	StartIonMobility      *float64 // reserved
	StopIonMobility       *float64 // reserved

	// Experimental design (SDRF)
	Channel             *string
	Condition           *string
	Fraction            *string
	BiologicalReplicate *string
	Run                 *string
	ReferenceFileName   string
	SampleAccession     string

	// Best-scan reference
	Scan                  *string
	ScanReferenceFileName *string
}

// PSM is one peptide-spectrum match row streamed from an mzTab PSM section,
// either folded into the Feature best-match index or written out directly by
// the PSM conversion.
type PSM struct {
	Sequence                  string
	Peptidoform               string
	Modifications             []Modification
	PrecursorCharge           int32
	PosteriorErrorProbability *float64
	IsDecoy                   *int32
	CalculatedMZ              *float64
	ObservedMZ                *float64
	Accessions                string // raw multi-valued field
	AdditionalScores          []ScoreEntry
	CVParams                  []CVParam
	ReferenceFileName         string
	Scan                      string
	RT                        *float64
}

// ScoreEntry is one named search-engine score attached to a PSM.
type ScoreEntry struct {
	Name  string
	Value float64
}

// CVParam is an opaque controlled-vocabulary annotation passed through from
// the PSM source.
type CVParam struct {
	Name  string
	Value string
}

// Intensity is one quantified value for a (sample, channel) pair.
type Intensity struct {
	SampleAccession string
	Channel         string
	Value           float64
}

// SplitAccessions splits a possibly multi-valued protein accession field
// into its individual accessions. mzTab and MSstats delimit groups with
// ';', ',' or '|' depending on the producer.
func SplitAccessions(field string) []string {
	if field == "" || field == "null" {
		return nil
	}
	parts := strings.FieldsFunc(field, func(r rune) bool {
		return r == ';' || r == ',' || r == '|'
	})
	var accessions []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			accessions = append(accessions, p)
		}
	}
	return accessions
}

// NormalizeAccessions returns the canonical form of a multi-valued accession
// field: individual accessions sorted and joined with ';'. Used as a
// fallback lookup key into the protein q-value map.
func NormalizeAccessions(field string) string {
	accessions := SplitAccessions(field)
	sort.Strings(accessions)
	return strings.Join(accessions, ";")
}
