package mztab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bigbio/quantmsio-go/pkg/core"
	"github.com/bigbio/quantmsio-go/pkg/filter"
)

func row(fields ...string) string {
	return strings.Join(fields, "\t")
}

var psmHeader = []string{
	"PSH", "sequence", "PSM_ID", "accession", "charge", "modifications",
	"retention_time", "exp_mass_to_charge", "calc_mass_to_charge", "spectra_ref",
	"search_engine_score[1]",
	"opt_global_Posterior_Error_Probability_score",
	"opt_global_cv_MS:1002217_decoy_peptide",
	"opt_global_cv_MS:1000889_peptidoform_sequence",
}

func psmRow(seq, acc, charge, pep, decoy, pf, spectraRef, obsMZ string) string {
	return row("PSM", seq, "1", acc, charge, "null",
		"120.5", obsMZ, "450.1", spectraRef, "0.002", pep, decoy, pf)
}

// writeTestMzTab lays out a small but complete mzTab file covering every
// section the package reads.
func writeTestMzTab(t *testing.T, extraPSMs ...string) string {
	t.Helper()
	lines := []string{
		row("MTD", "mzTab-version", "1.0.0"),
		row("MTD", "variable_mod[1]", "[UNIMOD, UNIMOD:35, Oxidation, ]"),
		row("MTD", "variable_mod[1]-site", "M"),
		row("MTD", "fixed_mod[1]", "[UNIMOD, UNIMOD:4, Carbamidomethyl, ]"),
		row("MTD", "fixed_mod[1]-site", "C"),
		row("MTD", "ms_run[1]-location", "file:///data/run_A.mzML"),
		row("MTD", "ms_run[2]-location", "file:///data/run_B.mzML"),
		row("MTD", "psm_search_engine_score[1]", "[MS, MS:1002257, Comet:expectation value, ]"),
		row("PRH", "accession", "ambiguity_members", "best_search_engine_score[1]"),
		row("PRT", "P12345", "P12345", "0.001"),
		row("PRT", "Q67890", "Q99999;Q67890", "0.02"),
		row("PEH", "sequence", "charge", "modifications", "spectra_ref",
			"best_search_engine_score[1]", "opt_global_cv_MS:1000889_peptidoform_sequence"),
		row("PEP", "PEPTIDEK", "2", "null", "ms_run[1]:scan=100", "0.01", "PEPTIDEK"),
		row("PEP", "PEPTIDEK", "2", "null", "ms_run[2]:scan=200", "0.005", "PEPTIDEK"),
		row(psmHeader...),
		psmRow("PEPTIDEK", "P12345", "2", "0.05", "0", "PEPTIDEK", "ms_run[1]:scan=100", "450.2"),
		psmRow("PEPTIDEK", "P12345", "2", "0.01", "0", "PEPTIDEK", "ms_run[1]:scan=101", "450.3"),
		psmRow("PEPTIDEK", "P12345", "2", "0.01", "0", "PEPTIDEK", "ms_run[1]:scan=102", "450.4"),
		psmRow("MKPEPTIDEK", "Q67890", "3", "0.2", "1", "M(Oxidation)KPEPTIDEK", "ms_run[2]:scan=200", "391.8"),
	}
	lines = append(lines, extraPSMs...)

	path := filepath.Join(t.TempDir(), "test.mzTab")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadMetadata(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	meta := r.Metadata()

	wantMods := core.ModMap{
		"Oxidation":       {Name: "Oxidation", Accession: "UNIMOD:35", Site: "M", Mass: 15.994915},
		"Carbamidomethyl": {Name: "Carbamidomethyl", Accession: "UNIMOD:4", Site: "C", Mass: 57.021464},
	}
	if diff := cmp.Diff(wantMods, meta.ModMap); diff != "" {
		t.Errorf("ModMap mismatch (-want +got):\n%s", diff)
	}

	wantRuns := map[int]string{1: "run_A", 2: "run_B"}
	if diff := cmp.Diff(wantRuns, meta.MSRuns); diff != "" {
		t.Errorf("MSRuns mismatch (-want +got):\n%s", diff)
	}

	if got := meta.ScoreNames[1]; got != "Comet:expectation value" {
		t.Errorf("ScoreNames[1] = %q", got)
	}
}

func TestProteinQValueMap(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	qvalues, err := r.ProteinQValueMap()
	if err != nil {
		t.Fatal(err)
	}

	if qv, ok := qvalues["P12345"]; !ok || qv != 0.001 {
		t.Errorf("qvalues[P12345] = %v, %v", qv, ok)
	}
	// Ambiguity members are keyed in normalized (sorted) form.
	if qv, ok := qvalues["Q67890;Q99999"]; !ok || qv != 0.02 {
		t.Errorf("qvalues[Q67890;Q99999] = %v, %v", qv, ok)
	}
}

func TestExtractBestMatches(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	index, err := r.ExtractBestMatches(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 2 {
		t.Fatalf("index has %d groups, want 2", len(index))
	}

	best, ok := index[BestMatchKey{ReferenceFileName: "run_A", Peptidoform: "PEPTIDEK", PrecursorCharge: 2}]
	if !ok {
		t.Fatal("missing best match for run_A PEPTIDEK/2")
	}
	if best.PosteriorErrorProbability != 0.01 {
		t.Errorf("best PEP = %v, want 0.01", best.PosteriorErrorProbability)
	}
	// Two rows tie at PEP 0.01; the first in scan order (observed m/z 450.3)
	// must win.
	if best.ObservedMZ == nil || *best.ObservedMZ != 450.3 {
		t.Errorf("tie not resolved to first row: observed m/z = %v", best.ObservedMZ)
	}

	decoy, ok := index[BestMatchKey{ReferenceFileName: "run_B", Peptidoform: "M(Oxidation)KPEPTIDEK", PrecursorCharge: 3}]
	if !ok {
		t.Fatal("missing best match for run_B modified peptide")
	}
	if decoy.IsDecoy == nil || *decoy.IsDecoy != 1 {
		t.Errorf("IsDecoy = %v, want 1", decoy.IsDecoy)
	}
	if decoy.Accessions != "Q67890" {
		t.Errorf("Accessions = %q", decoy.Accessions)
	}
}

func TestExtractBestMatchesDeterministic(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.ExtractBestMatches(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		again, err := r.ExtractBestMatches(0, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d produced a different index (-first +again):\n%s", i, diff)
		}
	}
}

// A chunk size of 1 forces every (file, peptidoform, charge) group to span
// chunk boundaries; minimum-PEP selection must survive the splits.
func TestExtractBestMatchesAcrossChunks(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	whole, err := r.ExtractBestMatches(0, nil)
	if err != nil {
		t.Fatal(err)
	}
	chunked, err := r.ExtractBestMatches(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(whole, chunked); diff != "" {
		t.Errorf("chunked index differs from single-chunk index (-whole +chunked):\n%s", diff)
	}
}

func TestExtractBestMatchesWithFilter(t *testing.T) {
	listPath := filepath.Join(t.TempDir(), "proteins.txt")
	if err := os.WriteFile(listPath, []byte("P12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	pf, err := filter.Load(listPath)
	if err != nil {
		t.Fatal(err)
	}

	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	index, err := r.ExtractBestMatches(0, pf)
	if err != nil {
		t.Fatal(err)
	}
	if len(index) != 1 {
		t.Fatalf("filtered index has %d groups, want 1", len(index))
	}
	if _, ok := index[BestMatchKey{ReferenceFileName: "run_A", Peptidoform: "PEPTIDEK", PrecursorCharge: 2}]; !ok {
		t.Error("allow-listed group missing from index")
	}
}

func TestStreamPSMChunksChunking(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	var sizes []int
	err = r.StreamPSMChunks(3, nil, func(chunk []core.PSM) error {
		sizes = append(sizes, len(chunk))
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{3, 1}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestStreamPSMChunksMalformedRowAborts(t *testing.T) {
	bad := psmRow("PEPTIDEK", "P12345", "not-a-charge", "0.05", "0", "PEPTIDEK", "ms_run[1]:scan=300", "450.2")
	r, err := Open(writeTestMzTab(t, bad))
	if err != nil {
		t.Fatal(err)
	}
	err = r.StreamPSMChunks(0, nil, func([]core.PSM) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "invalid charge") {
		t.Errorf("expected invalid charge error, got %v", err)
	}
}

func TestExtractBestScans(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	scans, err := r.ExtractBestScans(0)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := scans[ScanKey{Peptidoform: "PEPTIDEK", PrecursorCharge: 2}]
	if !ok {
		t.Fatal("missing best scan for PEPTIDEK/2")
	}
	// run_B has the lower best_search_engine_score[1].
	want := BestScan{ReferenceFileName: "run_B", Scan: "200"}
	if got != want {
		t.Errorf("best scan = %+v, want %+v", got, want)
	}
}

func TestResolveSpectraRef(t *testing.T) {
	r, err := Open(writeTestMzTab(t))
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		in       string
		wantRef  string
		wantScan string
		wantErr  bool
	}{
		{"ms_run[1]:controllerType=0 controllerNumber=1 scan=5561", "run_A", "5561", false},
		{"ms_run[2]:index=42", "run_B", "42", false},
		{"ms_run[1]:spectrum=7", "run_A", "7", false},
		{"null", "", "", false},
		{"ms_run[9]:scan=1", "", "", true},
		{"garbage", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, scan, err := r.resolveSpectraRef(tt.in, 1)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("resolveSpectraRef(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if ref != tt.wantRef || scan != tt.wantScan {
				t.Errorf("resolveSpectraRef(%q) = (%q, %q), want (%q, %q)", tt.in, ref, scan, tt.wantRef, tt.wantScan)
			}
		})
	}
}

func TestBuildPeptidoform(t *testing.T) {
	mods := core.ModMap{
		"Oxidation": {Name: "Oxidation", Accession: "UNIMOD:35"},
		"Acetyl":    {Name: "Acetyl", Accession: "UNIMOD:1"},
	}
	tests := []struct {
		name      string
		sequence  string
		modsField string
		want      string
	}{
		{"no mods", "PEPTIDE", "null", "PEPTIDE"},
		{"internal", "PEMTIDE", "3-UNIMOD:35", "PEM(Oxidation)TIDE"},
		{"n-term", "PEPTIDE", "0-UNIMOD:1", "(Acetyl)PEPTIDE"},
		{"multiple", "PEMTIDE", "0-UNIMOD:1,3-UNIMOD:35", "(Acetyl)PEM(Oxidation)TIDE"},
		{"unknown accession kept", "PEPTIDE", "2-UNIMOD:999", "PE(UNIMOD:999)PTIDE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildPeptidoform(tt.sequence, tt.modsField, mods); got != tt.want {
				t.Errorf("buildPeptidoform() = %q, want %q", got, tt.want)
			}
		})
	}
}
