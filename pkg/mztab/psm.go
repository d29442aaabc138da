package mztab

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/bigbio/quantmsio-go/pkg/core"
	"github.com/bigbio/quantmsio-go/pkg/filter"
)

// DefaultPSMChunkSize bounds how many parsed PSM rows are held in memory at
// once while streaming the PSM section.
const DefaultPSMChunkSize = 2000000

// DefaultPeptideChunkSize bounds the peptide-section pass.
const DefaultPeptideChunkSize = 100000

// BestMatchKey identifies one (file, peptidoform, charge) PSM group.
type BestMatchKey struct {
	ReferenceFileName string
	Peptidoform       string
	PrecursorCharge   int32
}

// BestMatch holds the attributes of the minimum-PEP row of a PSM group.
type BestMatch struct {
	PosteriorErrorProbability float64
	CalculatedMZ              *float64
	ObservedMZ                *float64
	Accessions                string
	IsDecoy                   *int32
	AdditionalScores          []core.ScoreEntry
	CVParams                  []core.CVParam
}

// ScanKey identifies one peptide-level (peptidoform, charge) group.
type ScanKey struct {
	Peptidoform     string
	PrecursorCharge int32
}

// BestScan references the best-scoring spectrum of a peptide group.
type BestScan struct {
	ReferenceFileName string
	Scan              string
}

var scanRefRe = regexp.MustCompile(`ms_run\[(\d+)\]`)
var scanIDRe = regexp.MustCompile(`(?:scan|index|spectrum)=(\d+)`)

// StreamPSMChunks walks the PSM section and hands parsed rows to emit in
// chunks of at most chunkSize rows, so peak memory is bounded by the chunk,
// not the file. Rows whose accessions miss the allow-list are dropped at
// read time, before any grouping. A malformed row aborts the stream.
func (r *Reader) StreamPSMChunks(chunkSize int, pf *filter.ProteinFilter, emit func([]core.PSM) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultPSMChunkSize
	}
	f, err := xopen.Ropen(r.path)
	if err != nil {
		return fmt.Errorf("failed to open mzTab file: %w", err)
	}
	defer f.Close()

	var header headerIndex
	var width int
	var cvCols []string
	ac := core.NewAutomaton(r.meta.ModMap.Names())
	scoreIdxs := make([]int, 0, len(r.meta.ScoreNames))
	for i := range r.meta.ScoreNames {
		scoreIdxs = append(scoreIdxs, i)
	}
	sort.Ints(scoreIdxs)

	chunk := make([]core.PSM, 0, min(chunkSize, 65536))
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := emit(chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	scanner := newLineScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, prefixPSH):
			cols := strings.Split(line, "\t")
			header = newHeaderIndex(cols)
			width = len(cols)
			cvCols = passthroughCVColumns(cols)
		case strings.HasPrefix(line, prefixPSM):
			if header == nil {
				return fmt.Errorf("mzTab line %d: PSM row before PSH header", lineNum)
			}
			fields := strings.Split(line, "\t")
			if len(fields) != width {
				return fmt.Errorf("mzTab line %d: expected %d columns, got %d", lineNum, width, len(fields))
			}
			if !pf.Match(header.get(fields, "accession")) {
				continue
			}
			psm, err := r.parsePSMRow(header, fields, cvCols, scoreIdxs, ac, lineNum)
			if err != nil {
				return err
			}
			chunk = append(chunk, psm)
			if len(chunk) >= chunkSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading mzTab PSM section: %w", err)
	}
	return flush()
}

// ExtractBestMatches streams the PSM section and builds the best-match
// index: for every (reference file, peptidoform, charge) group the row with
// the minimum posterior error probability wins. Exact ties keep the first
// row in scan order (strict > comparison on update); rows without a PEP
// value rank last.
func (r *Reader) ExtractBestMatches(chunkSize int, pf *filter.ProteinFilter) (map[BestMatchKey]BestMatch, error) {
	index := make(map[BestMatchKey]BestMatch)
	err := r.StreamPSMChunks(chunkSize, pf, func(chunk []core.PSM) error {
		for i := range chunk {
			psm := &chunk[i]
			pep := math.Inf(1)
			if psm.PosteriorErrorProbability != nil {
				pep = *psm.PosteriorErrorProbability
			}
			key := BestMatchKey{
				ReferenceFileName: psm.ReferenceFileName,
				Peptidoform:       psm.Peptidoform,
				PrecursorCharge:   psm.PrecursorCharge,
			}
			if best, ok := index[key]; ok && best.PosteriorErrorProbability <= pep {
				continue
			}
			index[key] = BestMatch{
				PosteriorErrorProbability: pep,
				CalculatedMZ:              psm.CalculatedMZ,
				ObservedMZ:                psm.ObservedMZ,
				Accessions:                psm.Accessions,
				IsDecoy:                   psm.IsDecoy,
				AdditionalScores:          psm.AdditionalScores,
				CVParams:                  psm.CVParams,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

func (r *Reader) parsePSMRow(header headerIndex, fields []string, cvCols []string, scoreIdxs []int, ac *core.Automaton, lineNum int) (core.PSM, error) {
	sequence := header.get(fields, "sequence")
	if sequence == "" || sequence == "null" {
		return core.PSM{}, fmt.Errorf("mzTab line %d: PSM row without sequence", lineNum)
	}
	charge, err := strconv.ParseInt(header.get(fields, "charge"), 10, 32)
	if err != nil {
		return core.PSM{}, fmt.Errorf("mzTab line %d: invalid charge %q: %w", lineNum, header.get(fields, "charge"), err)
	}

	peptidoform := header.getFirst(fields, "opt_global_cv_MS:1000889_peptidoform_sequence")
	if peptidoform == "" {
		peptidoform = buildPeptidoform(sequence, header.get(fields, "modifications"), r.meta.ModMap)
	}
	cleanSeq, modifications := core.DecodePeptidoform(peptidoform, r.meta.ModMap, ac)

	refFile, scan, err := r.resolveSpectraRef(header.get(fields, "spectra_ref"), lineNum)
	if err != nil {
		return core.PSM{}, err
	}

	var pep *float64
	if raw := header.getFirst(fields,
		"opt_global_Posterior_Error_Probability_score",
		"opt_global_posterior_error_probability"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return core.PSM{}, fmt.Errorf("mzTab line %d: invalid posterior error probability %q: %w", lineNum, raw, err)
		}
		pep = &v
	}

	calcMZ := core.ToFloat64(header.get(fields, "calc_mass_to_charge"))
	if calcMZ == nil {
		// Recompute from the peptidoform when the search engine left the
		// column empty.
		if mz := core.CalculatePeptideMZ(cleanSeq, int(charge), modifications); mz > 0 {
			calcMZ = &mz
		}
	}

	var scores []core.ScoreEntry
	for _, i := range scoreIdxs {
		raw := header.get(fields, fmt.Sprintf("search_engine_score[%d]", i))
		if v := core.ToFloat64(raw); v != nil {
			scores = append(scores, core.ScoreEntry{Name: r.meta.ScoreNames[i], Value: *v})
		}
	}

	var cvParams []core.CVParam
	for _, col := range cvCols {
		if v := header.get(fields, col); v != "" && v != "null" {
			cvParams = append(cvParams, core.CVParam{
				Name:  strings.TrimPrefix(col, "opt_global_"),
				Value: v,
			})
		}
	}

	return core.PSM{
		Sequence:                  cleanSeq,
		Peptidoform:               peptidoform,
		Modifications:             modifications,
		PrecursorCharge:           int32(charge),
		PosteriorErrorProbability: pep,
		IsDecoy:                   core.ToInt32(header.get(fields, "opt_global_cv_MS:1002217_decoy_peptide")),
		CalculatedMZ:              calcMZ,
		ObservedMZ:                core.ToFloat64(header.get(fields, "exp_mass_to_charge")),
		Accessions:                header.get(fields, "accession"),
		AdditionalScores:          scores,
		CVParams:                  cvParams,
		ReferenceFileName:         refFile,
		Scan:                      scan,
		RT:                        core.ToFloat64(header.get(fields, "retention_time")),
	}, nil
}

// ExtractBestScans streams the peptide (PEP) section and keeps, per
// (peptidoform, charge), the spectrum reference of the best-scoring row.
// This index is coarser than the best-match index: no per-file grouping.
func (r *Reader) ExtractBestScans(chunkSize int) (map[ScanKey]BestScan, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultPeptideChunkSize
	}
	f, err := xopen.Ropen(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mzTab file: %w", err)
	}
	defer f.Close()

	type pepRow struct {
		key   ScanKey
		score float64
		scan  BestScan
	}
	index := make(map[ScanKey]BestScan)
	bestScore := make(map[ScanKey]float64)
	chunk := make([]pepRow, 0, min(chunkSize, 65536))
	flush := func() {
		for _, row := range chunk {
			if cur, ok := bestScore[row.key]; !ok || cur > row.score {
				bestScore[row.key] = row.score
				index[row.key] = row.scan
			}
		}
		chunk = chunk[:0]
	}

	var header headerIndex
	var width int
	scanner := newLineScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, prefixPEH):
			cols := strings.Split(line, "\t")
			header = newHeaderIndex(cols)
			width = len(cols)
		case strings.HasPrefix(line, prefixPEP):
			if header == nil {
				return nil, fmt.Errorf("mzTab line %d: PEP row before PEH header", lineNum)
			}
			fields := strings.Split(line, "\t")
			if len(fields) != width {
				return nil, fmt.Errorf("mzTab line %d: expected %d columns, got %d", lineNum, width, len(fields))
			}
			sequence := header.get(fields, "sequence")
			if sequence == "" || sequence == "null" {
				return nil, fmt.Errorf("mzTab line %d: peptide row without sequence", lineNum)
			}
			charge, err := strconv.ParseInt(header.get(fields, "charge"), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("mzTab line %d: invalid charge %q: %w", lineNum, header.get(fields, "charge"), err)
			}
			peptidoform := header.getFirst(fields, "opt_global_cv_MS:1000889_peptidoform_sequence")
			if peptidoform == "" {
				peptidoform = buildPeptidoform(sequence, header.get(fields, "modifications"), r.meta.ModMap)
			}
			refFile, scan, err := r.resolveSpectraRef(header.get(fields, "spectra_ref"), lineNum)
			if err != nil {
				return nil, err
			}
			score := math.Inf(1)
			if v := core.ToFloat64(header.get(fields, "best_search_engine_score[1]")); v != nil {
				score = *v
			}
			chunk = append(chunk, pepRow{
				key:   ScanKey{Peptidoform: peptidoform, PrecursorCharge: int32(charge)},
				score: score,
				scan:  BestScan{ReferenceFileName: refFile, Scan: scan},
			})
			if len(chunk) >= chunkSize {
				flush()
			}
		case strings.HasPrefix(line, prefixPSH):
			// Peptide section is over.
			flush()
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("error reading mzTab peptide section: %w", err)
			}
			return index, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading mzTab peptide section: %w", err)
	}
	flush()
	return index, nil
}

// resolveSpectraRef splits "ms_run[2]:...scan=5561" into the referenced
// file name and scan identifier.
func (r *Reader) resolveSpectraRef(spectraRef string, lineNum int) (refFile, scan string, err error) {
	if spectraRef == "" || spectraRef == "null" {
		return "", "", nil
	}
	m := scanRefRe.FindStringSubmatch(spectraRef)
	if m == nil {
		return "", "", fmt.Errorf("mzTab line %d: invalid spectra_ref %q", lineNum, spectraRef)
	}
	runIdx := atoiOrZero(m[1])
	refFile, ok := r.meta.MSRuns[runIdx]
	if !ok {
		return "", "", fmt.Errorf("mzTab line %d: spectra_ref names undeclared ms_run[%d]", lineNum, runIdx)
	}
	if sm := scanIDRe.FindStringSubmatch(spectraRef); sm != nil {
		scan = sm[1]
	} else if i := strings.LastIndexByte(spectraRef, '='); i >= 0 {
		scan = spectraRef[i+1:]
	}
	return refFile, scan, nil
}

// buildPeptidoform reconstructs a peptidoform string from an mzTab
// modifications field like "3-UNIMOD:35" when the producer did not emit the
// peptidoform opt column. Unknown accessions are kept verbatim.
func buildPeptidoform(sequence, modsField string, mods core.ModMap) string {
	if modsField == "" || modsField == "null" {
		return sequence
	}
	byAccession := make(map[string]string, len(mods))
	for name, entry := range mods {
		byAccession[entry.Accession] = name
	}

	// position -> mod names, 0 = N-term
	byPos := make(map[int][]string)
	for _, part := range strings.Split(modsField, ",") {
		part = strings.TrimSpace(part)
		i := strings.IndexByte(part, '-')
		if i <= 0 {
			continue
		}
		pos, err := strconv.Atoi(part[:i])
		if err != nil {
			continue
		}
		acc := part[i+1:]
		name, ok := byAccession[acc]
		if !ok {
			name = acc
		}
		byPos[pos] = append(byPos[pos], name)
	}
	if len(byPos) == 0 {
		return sequence
	}

	var b strings.Builder
	for _, name := range byPos[0] {
		b.WriteString("(" + name + ")")
	}
	for i := 0; i < len(sequence); i++ {
		b.WriteByte(sequence[i])
		for _, name := range byPos[i+1] {
			b.WriteString("(" + name + ")")
		}
	}
	return b.String()
}

// passthroughCVColumns selects the opt_global cv columns carried through as
// opaque payloads, excluding the ones the extractor consumes itself.
func passthroughCVColumns(header []string) []string {
	var cols []string
	for _, col := range header {
		col = strings.TrimSpace(col)
		if !strings.HasPrefix(col, "opt_global_cv_") {
			continue
		}
		switch col {
		case "opt_global_cv_MS:1000889_peptidoform_sequence",
			"opt_global_cv_MS:1002217_decoy_peptide":
			continue
		}
		cols = append(cols, col)
	}
	return cols
}
