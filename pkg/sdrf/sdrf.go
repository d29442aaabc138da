// Package sdrf reads SDRF experimental-design tables: per-sample metadata
// keyed by raw data file, plus the experiment type (label-free vs isobaric).
package sdrf

import (
	"bufio"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/shenwei356/xopen"
)

// Sample holds the static per-sample attributes joined onto every
// quantification row at stream-generation time.
type Sample struct {
	SampleAccession     string
	Condition           string
	Fraction            string
	Label               string
	BiologicalReplicate string
	TechnicalReplicate  string
}

// Handler provides sample lookups by (reference file, label channel).
type Handler struct {
	// samples is keyed by reference file name (basename, no extension),
	// then by lowercased label.
	samples        map[string]map[string]Sample
	experimentType string
}

const labelFree = "label free sample"

// NewHandler parses an SDRF TSV file.
func NewHandler(path string) (*Handler, error) {
	r, err := xopen.Ropen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SDRF file: %w", err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading SDRF file: %w", err)
		}
		return nil, fmt.Errorf("SDRF file %s is empty", path)
	}

	cols := strings.Split(scanner.Text(), "\t")
	idx := func(names ...string) int {
		for i, c := range cols {
			c = strings.ToLower(strings.TrimSpace(c))
			for _, n := range names {
				if c == n {
					return i
				}
			}
		}
		return -1
	}
	// The first factor value column is the condition.
	conditionIdx := -1
	for i, c := range cols {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(c)), "factor value[") {
			conditionIdx = i
			break
		}
	}

	sourceIdx := idx("source name")
	fileIdx := idx("comment[data file]")
	labelIdx := idx("comment[label]")
	fractionIdx := idx("comment[fraction identifier]")
	techRepIdx := idx("comment[technical replicate]")
	bioRepIdx := idx("characteristics[biological replicate]")

	if sourceIdx < 0 || fileIdx < 0 {
		return nil, fmt.Errorf("SDRF file %s lacks 'source name' or 'comment[data file]' columns", path)
	}

	h := &Handler{samples: make(map[string]map[string]Sample)}
	labels := make(map[string]struct{})
	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		get := func(i int) string {
			if i < 0 || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}
		if get(fileIdx) == "" {
			return nil, fmt.Errorf("SDRF line %d: missing data file", lineNum)
		}

		ref := stripExtension(get(fileIdx))
		label := get(labelIdx)
		if label == "" {
			label = labelFree
		}
		labels[strings.ToLower(label)] = struct{}{}

		s := Sample{
			SampleAccession:     get(sourceIdx),
			Condition:           get(conditionIdx),
			Fraction:            get(fractionIdx),
			Label:               label,
			BiologicalReplicate: get(bioRepIdx),
			TechnicalReplicate:  get(techRepIdx),
		}
		if h.samples[ref] == nil {
			h.samples[ref] = make(map[string]Sample)
		}
		h.samples[ref][strings.ToLower(label)] = s
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading SDRF file: %w", err)
	}
	if len(h.samples) == 0 {
		return nil, fmt.Errorf("SDRF file %s contains no sample rows", path)
	}

	h.experimentType = classifyExperiment(labels)
	return h, nil
}

// ExperimentType returns "LFQ", "TMT<n>" or "ITRAQ<n>".
func (h *Handler) ExperimentType() string {
	return h.experimentType
}

// Sample returns the metadata for a (reference file, channel) pair. For
// label-free data the channel is ignored and the file's single sample is
// returned.
func (h *Handler) Sample(referenceFile, channel string) (Sample, bool) {
	byLabel, ok := h.samples[referenceFile]
	if !ok {
		return Sample{}, false
	}
	if s, ok := byLabel[strings.ToLower(channel)]; ok {
		return s, true
	}
	if h.experimentType == "LFQ" {
		for _, s := range byLabel {
			return s, true
		}
	}
	return Sample{}, false
}

// ReferenceFiles returns the number of distinct raw files in the design.
func (h *Handler) ReferenceFiles() int {
	return len(h.samples)
}

func classifyExperiment(labels map[string]struct{}) string {
	tmt, itraq := 0, 0
	for l := range labels {
		switch {
		case strings.HasPrefix(l, "tmt"):
			tmt++
		case strings.HasPrefix(l, "itraq"):
			itraq++
		}
	}
	switch {
	case tmt > 0:
		return fmt.Sprintf("TMT%d", tmt)
	case itraq > 0:
		return fmt.Sprintf("ITRAQ%d", itraq)
	default:
		return "LFQ"
	}
}

// stripExtension reduces a raw data file reference to its bare name:
// "/data/run_01.mzML.gz" -> "run_01".
func stripExtension(file string) string {
	name := filepath.Base(strings.ReplaceAll(file, "\\", "/"))
	for {
		ext := filepath.Ext(name)
		switch strings.ToLower(ext) {
		case ".gz", ".mzml", ".raw", ".d", ".wiff", ".mgf":
			name = strings.TrimSuffix(name, ext)
		default:
			return name
		}
	}
}

// StripExtension is the exported form used by the quantification stream to
// normalize MSstats reference columns the same way.
func StripExtension(file string) string {
	return stripExtension(file)
}
