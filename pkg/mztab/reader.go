// Package mztab provides streaming access to mzTab result files: run
// metadata, the protein section and chunked iteration over the peptide and
// PSM sections.
package mztab

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shenwei356/xopen"

	"github.com/bigbio/quantmsio-go/pkg/core"
)

// mzTab line prefixes.
const (
	prefixMTD = "MTD"
	prefixPRH = "PRH"
	prefixPRT = "PRT"
	prefixPEH = "PEH"
	prefixPEP = "PEP"
	prefixPSH = "PSH"
	prefixPSM = "PSM"
)

// Metadata holds everything extracted from the MTD section that the Feature
// pipeline needs: the modification map, ms_run locations and score names.
type Metadata struct {
	ModMap     core.ModMap
	MSRuns     map[int]string // ms_run index -> reference file name (no extension)
	ScoreNames map[int]string // psm_search_engine_score index -> score name
}

// Reader opens an mzTab file for repeated section passes. mzTab sections
// are laid out sequentially in one file, so each extraction re-scans from
// the top; the scans are streaming and hold one line at a time.
type Reader struct {
	path string
	meta *Metadata
}

// Open validates the path and parses the metadata section.
func Open(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("mzTab file not accessible: %w", err)
	}
	r := &Reader{path: path}
	meta, err := r.readMetadata()
	if err != nil {
		return nil, err
	}
	r.meta = meta
	return r, nil
}

// Path returns the source file path.
func (r *Reader) Path() string {
	return r.path
}

// Metadata returns the parsed MTD section.
func (r *Reader) Metadata() *Metadata {
	return r.meta
}

var modIndexRe = regexp.MustCompile(`^(fixed|variable)_mod\[(\d+)\]$`)
var modSiteRe = regexp.MustCompile(`^(fixed|variable)_mod\[(\d+)\]-site$`)
var msRunRe = regexp.MustCompile(`^ms_run\[(\d+)\]-location$`)
var scoreRe = regexp.MustCompile(`^psm_search_engine_score\[(\d+)\]$`)

func (r *Reader) readMetadata() (*Metadata, error) {
	f, err := xopen.Ropen(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mzTab file: %w", err)
	}
	defer f.Close()

	meta := &Metadata{
		ModMap:     make(core.ModMap),
		MSRuns:     make(map[int]string),
		ScoreNames: make(map[int]string),
	}
	type modDecl struct {
		name string
		acc  string
		site string
	}
	decls := make(map[string]*modDecl)
	declFor := func(id string) *modDecl {
		if d, ok := decls[id]; ok {
			return d
		}
		d := &modDecl{}
		decls[id] = d
		return d
	}

	scanner := newLineScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if !strings.HasPrefix(line, prefixMTD) {
			// MTD lines come first; stop at the first data section.
			if strings.HasPrefix(line, prefixPRH) || strings.HasPrefix(line, prefixPEH) || strings.HasPrefix(line, prefixPSH) {
				break
			}
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		if len(fields) < 3 {
			continue
		}
		key, value := strings.TrimSpace(fields[1]), strings.TrimSpace(fields[2])

		switch {
		case modIndexRe.MatchString(key):
			m := modIndexRe.FindStringSubmatch(key)
			name, acc, err := parseCVTuple(value)
			if err != nil {
				return nil, fmt.Errorf("mzTab line %d: %w", lineNum, err)
			}
			id := m[1] + "-" + m[2]
			d := declFor(id)
			d.name, d.acc = name, acc
		case modSiteRe.MatchString(key):
			m := modSiteRe.FindStringSubmatch(key)
			declFor(m[1] + "-" + m[2]).site = value
		case msRunRe.MatchString(key):
			m := msRunRe.FindStringSubmatch(key)
			idx := atoiOrZero(m[1])
			meta.MSRuns[idx] = stripLocation(value)
		case scoreRe.MatchString(key):
			m := scoreRe.FindStringSubmatch(key)
			name, _, err := parseCVTuple(value)
			if err != nil {
				return nil, fmt.Errorf("mzTab line %d: %w", lineNum, err)
			}
			meta.ScoreNames[atoiOrZero(m[1])] = name
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading mzTab metadata: %w", err)
	}

	for _, d := range decls {
		if d.name == "" || strings.EqualFold(d.name, "null") {
			continue
		}
		mass, _ := core.ResolveModMass(d.name)
		meta.ModMap[d.name] = core.ModEntry{
			Name:      d.name,
			Accession: d.acc,
			Site:      d.site,
			Mass:      mass,
		}
	}
	return meta, nil
}

// ProteinQValueMap streams the PRT section and returns the accession ->
// best global q-value map used for protein-group annotation. Both the raw
// accession string and the normalized ambiguity-member form are keyed.
func (r *Reader) ProteinQValueMap() (map[string]float64, error) {
	f, err := xopen.Ropen(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mzTab file: %w", err)
	}
	defer f.Close()

	qvalues := make(map[string]float64)
	var header headerIndex
	var width int
	scanner := newLineScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, prefixPRH):
			cols := strings.Split(line, "\t")
			header = newHeaderIndex(cols)
			width = len(cols)
		case strings.HasPrefix(line, prefixPRT):
			if header == nil {
				return nil, fmt.Errorf("mzTab line %d: PRT row before PRH header", lineNum)
			}
			fields := strings.Split(line, "\t")
			if len(fields) != width {
				return nil, fmt.Errorf("mzTab line %d: expected %d columns, got %d", lineNum, width, len(fields))
			}
			acc := header.get(fields, "accession")
			qv := core.ToFloat64(header.getFirst(fields, "best_search_engine_score[1]", "opt_global_qvalue"))
			if acc == "" || acc == "null" || qv == nil {
				continue
			}
			if _, seen := qvalues[acc]; !seen {
				qvalues[acc] = *qv
			}
			if members := header.get(fields, "ambiguity_members"); members != "" && members != "null" {
				norm := core.NormalizeAccessions(members)
				if _, seen := qvalues[norm]; !seen {
					qvalues[norm] = *qv
				}
			}
		case strings.HasPrefix(line, prefixPEH), strings.HasPrefix(line, prefixPSH):
			// Protein section is over.
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("error reading mzTab protein section: %w", err)
			}
			return qvalues, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading mzTab protein section: %w", err)
	}
	return qvalues, nil
}

// headerIndex precomputes column positions once per section pass, so the
// per-row cost is slice indexing rather than map construction.
type headerIndex map[string]int

func newHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

func (h headerIndex) get(fields []string, name string) string {
	if i, ok := h[name]; ok && i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}

func (h headerIndex) getFirst(fields []string, names ...string) string {
	for _, n := range names {
		if v := h.get(fields, n); v != "" && v != "null" {
			return v
		}
	}
	return ""
}

// parseCVTuple parses an mzTab CV parameter like
// "[UNIMOD, UNIMOD:35, Oxidation, ]" into (name, accession).
func parseCVTuple(value string) (name, accession string, err error) {
	v := strings.TrimSpace(value)
	if !strings.HasPrefix(v, "[") || !strings.HasSuffix(v, "]") {
		return "", "", fmt.Errorf("invalid CV parameter %q", value)
	}
	parts := strings.Split(v[1:len(v)-1], ",")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("invalid CV parameter %q", value)
	}
	return strings.TrimSpace(parts[2]), strings.TrimSpace(parts[1]), nil
}

// stripLocation reduces an ms_run location URI to the bare file name.
func stripLocation(location string) string {
	loc := strings.TrimPrefix(location, "file://")
	loc = strings.ReplaceAll(loc, "\\", "/")
	base := filepath.Base(loc)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// newLineScanner returns a bufio.Scanner sized for wide mzTab rows.
func newLineScanner(r *xopen.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	return scanner
}
