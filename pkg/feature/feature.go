// Package feature merges mzTab identification evidence with MSstats
// quantification and SDRF design metadata into the canonical Feature table,
// and writes it out as parquet, whole or partitioned.
package feature

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/bigbio/quantmsio-go/pkg/core"
	"github.com/bigbio/quantmsio-go/pkg/filter"
	"github.com/bigbio/quantmsio-go/pkg/msstats"
	"github.com/bigbio/quantmsio-go/pkg/mztab"
	"github.com/bigbio/quantmsio-go/pkg/sdrf"
	"github.com/bigbio/quantmsio-go/pkg/tables"
	"github.com/bigbio/quantmsio-go/pkg/writer/parquet"
)

// Options configures a Feature conversion run.
type Options struct {
	MzTabPath    string
	MSstatsPath  string
	SDRFPath     string
	OutputFolder string
	// OutputPrefix names the output file: <prefix>.feature.parquet. Defaults
	// to the mzTab file's stem so re-runs overwrite their previous output.
	OutputPrefix string
	// FileNum is how many reference files each quantification batch holds.
	FileNum int
	// ChunkSize bounds the PSM rows held in memory during index building.
	ChunkSize int
	// ProteinFile optionally restricts the run to an accession allow-list.
	ProteinFile string
	MaxMemory   string
	Threads     int
}

func (o Options) withDefaults() Options {
	if o.FileNum <= 0 {
		o.FileNum = 10
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = mztab.DefaultPSMChunkSize
	}
	if o.MaxMemory == "" {
		o.MaxMemory = "16GB"
	}
	if o.Threads <= 0 {
		o.Threads = 4
	}
	if o.OutputPrefix == "" {
		o.OutputPrefix = stem(o.MzTabPath)
	}
	return o
}

// stem reduces an mzTab path to the output file prefix: no directories, no
// ".mzTab"/".gz" suffixes. Deterministic so re-runs replace their output.
func stem(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".gz")
	return strings.TrimSuffix(base, ".mzTab")
}

// Pipeline holds the identification indexes a conversion run merges against:
// the best PSM per (file, peptidoform, charge), the best spectrum per
// (peptidoform, charge), and protein q-values. Building the pipeline does
// all mzTab passes; the quantification stream is consumed afterwards.
type Pipeline struct {
	opts    Options
	reader  *mztab.Reader
	design  *sdrf.Handler
	pf      *filter.ProteinFilter
	mods    core.ModMap
	matcher *core.Automaton

	bestMatches map[mztab.BestMatchKey]mztab.BestMatch
	bestScans   map[mztab.ScanKey]mztab.BestScan
	qvalues     map[string]float64
}

// NewPipeline opens the inputs and builds every lookup index.
func NewPipeline(opts Options) (*Pipeline, error) {
	opts = opts.withDefaults()

	reader, err := mztab.Open(opts.MzTabPath)
	if err != nil {
		return nil, err
	}
	design, err := sdrf.NewHandler(opts.SDRFPath)
	if err != nil {
		return nil, err
	}
	pf, err := filter.Load(opts.ProteinFile)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		opts:    opts,
		reader:  reader,
		design:  design,
		pf:      pf,
		mods:    reader.Metadata().ModMap,
		matcher: core.NewAutomaton(reader.Metadata().ModMap.Names()),
	}

	fmt.Printf("Indexing PSM section of %s\n", opts.MzTabPath)
	p.bestMatches, err = reader.ExtractBestMatches(opts.ChunkSize, pf)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Indexed %d best PSM matches\n", len(p.bestMatches))

	p.bestScans, err = reader.ExtractBestScans(0)
	if err != nil {
		return nil, err
	}
	p.qvalues, err = reader.ProteinQValueMap()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// generate streams annotated Feature batches to emit. Each quantification
// row yields exactly one Feature row; emit is called once per batch.
func (p *Pipeline) generate(ctx context.Context, emit func([]core.Feature) error) error {
	gen, err := msstats.NewGenerator(ctx, msstats.Options{
		Path:      p.opts.MSstatsPath,
		Design:    p.design,
		FileNum:   p.opts.FileNum,
		MaxMemory: p.opts.MaxMemory,
		Threads:   p.opts.Threads,
		Filter:    p.pf,
	})
	if err != nil {
		return err
	}
	defer gen.Close()

	batches := 0
	for gen.Next() {
		rows := gen.Batch()
		feats := p.annotateBatch(rows)
		if len(feats) != len(rows) {
			return fmt.Errorf("annotation produced %d rows from %d quantification rows", len(feats), len(rows))
		}
		batches++
		fmt.Printf("Batch %d: %d features\n", batches, len(feats))
		if err := emit(feats); err != nil {
			return err
		}
	}
	if err := gen.Err(); err != nil {
		return err
	}
	return gen.Close()
}

// annotateBatch turns quantification rows into Feature rows: a left join
// against the best-match index plus the q-value, best-scan, modification and
// design annotations. Rows with no identification match keep null
// identification columns; nothing is dropped.
func (p *Pipeline) annotateBatch(rows []msstats.Row) []core.Feature {
	feats := make([]core.Feature, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		charge := core.ToInt32(r.Charge)

		sequence, mods := core.DecodePeptidoform(r.Peptidoform, p.mods, p.matcher)
		f := core.Feature{
			Sequence:            sequence,
			Peptidoform:         r.Peptidoform,
			Modifications:       mods,
			PrecursorCharge:     charge,
			Unique:              uniqueFlag(r.ProteinName),
			Channel:             core.ToString(r.Channel),
			Condition:           core.ToString(r.Condition),
			Fraction:            core.ToString(r.Fraction),
			BiologicalReplicate: core.ToString(r.BiologicalReplicate),
			Run:                 core.ToString(r.Run),
			ReferenceFileName:   r.ReferenceFileName,
			SampleAccession:     r.SampleAccession,
		}

		if v := core.ToFloat64(r.Intensity); v != nil {
			f.Intensities = []core.Intensity{{
				SampleAccession: r.SampleAccession,
				Channel:         r.Channel,
				Value:           *v,
			}}
		}

		if charge != nil {
			key := mztab.BestMatchKey{
				ReferenceFileName: r.ReferenceFileName,
				Peptidoform:       r.Peptidoform,
				PrecursorCharge:   *charge,
			}
			if best, ok := p.bestMatches[key]; ok {
				if !math.IsInf(best.PosteriorErrorProbability, 1) {
					pep := best.PosteriorErrorProbability
					f.PosteriorErrorProbability = &pep
				}
				f.CalculatedMZ = best.CalculatedMZ
				f.ObservedMZ = best.ObservedMZ
				f.IsDecoy = best.IsDecoy
				f.AdditionalScores = best.AdditionalScores
				f.CVParams = best.CVParams
				f.MPAccessions = core.SplitAccessions(best.Accessions)
				// The q-value is keyed on the identification's accession
				// group, so rows with no match keep it null.
				if qv, ok := p.lookupQValue(best.Accessions); ok {
					f.PGGlobalQValue = &qv
				}
			}

			scanKey := mztab.ScanKey{Peptidoform: r.Peptidoform, PrecursorCharge: *charge}
			if scan, ok := p.bestScans[scanKey]; ok {
				s, ref := scan.Scan, scan.ReferenceFileName
				f.Scan = core.ToString(s)
				f.ScanReferenceFileName = core.ToString(ref)
			}
		}

		feats = append(feats, f)
	}
	return feats
}

// lookupQValue resolves a protein group's global q-value, trying the raw
// accession field first and its normalized form second (producers disagree
// on group ordering).
func (p *Pipeline) lookupQValue(accessions string) (float64, bool) {
	if qv, ok := p.qvalues[accessions]; ok {
		return qv, true
	}
	if qv, ok := p.qvalues[core.NormalizeAccessions(accessions)]; ok {
		return qv, true
	}
	return 0, false
}

func uniqueFlag(accessions string) *int32 {
	n := len(core.SplitAccessions(accessions))
	if n == 0 {
		return nil
	}
	v := int32(0)
	if n == 1 {
		v = 1
	}
	return &v
}

// WriteFeatureToFile runs the full conversion into a single parquet file at
// <outputFolder>/<prefix>.feature.parquet.
func WriteFeatureToFile(ctx context.Context, opts Options) error {
	opts = opts.withDefaults()
	p, err := NewPipeline(opts)
	if err != nil {
		return err
	}

	path := filepath.Join(opts.OutputFolder, opts.OutputPrefix+tables.FeatureExt)
	w, err := parquet.NewWriter(path, tables.FeatureSchema)
	if err != nil {
		return err
	}

	err = p.generate(ctx, func(feats []core.Feature) error {
		rec := tables.NewFeatureRecord(memory.DefaultAllocator, feats)
		defer rec.Release()
		return w.Write(rec)
	})
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fmt.Printf("Wrote %d features to %s\n", w.Rows(), w.Path())
	return nil
}

// SupportedPartitions lists the Feature columns a run may partition on.
var SupportedPartitions = []string{
	"reference_file_name",
	"sample_accession",
	"precursor_charge",
	"channel",
	"condition",
}

// WriteFeaturesToFiles runs the conversion fanned out across partition
// directories: every batch is sliced by the partition columns and appended
// to the slice's sink. The partition columns are validated before any input
// is read.
func WriteFeaturesToFiles(ctx context.Context, opts Options, partitions []string) error {
	opts = opts.withDefaults()
	if err := parquet.ValidatePartitions(partitions, SupportedPartitions); err != nil {
		return err
	}
	p, err := NewPipeline(opts)
	if err != nil {
		return err
	}

	pw := parquet.NewPartitionedWriter(opts.OutputFolder, opts.OutputPrefix+tables.FeatureExt, tables.FeatureSchema)
	err = p.generate(ctx, func(feats []core.Feature) error {
		for _, slice := range SliceBatch(feats, partitions) {
			rec := tables.NewFeatureRecord(memory.DefaultAllocator, slice.Rows)
			err := pw.Write(slice.Key, rec)
			rec.Release()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		pw.Close()
		return err
	}
	if err := pw.Close(); err != nil {
		return err
	}
	for _, c := range pw.RowCounts() {
		fmt.Printf("Partition %s: %d features (%s)\n", c.Key, c.Rows, c.Path)
	}
	return nil
}

// PartitionSlice is the subset of a batch that shares one partition-key
// value, in original batch order.
type PartitionSlice struct {
	Key  []string
	Rows []core.Feature
}

// SliceBatch groups a batch by the given partition columns. Every input row
// lands in exactly one slice; slices appear in first-seen order.
func SliceBatch(feats []core.Feature, partitions []string) []PartitionSlice {
	var slices []PartitionSlice
	index := make(map[string]int)
	for i := range feats {
		key := make([]string, len(partitions))
		for j, col := range partitions {
			key[j] = partitionValue(&feats[i], col)
		}
		name := strings.Join(key, "\x00")
		at, ok := index[name]
		if !ok {
			at = len(slices)
			index[name] = at
			slices = append(slices, PartitionSlice{Key: key})
		}
		slices[at].Rows = append(slices[at].Rows, feats[i])
	}
	return slices
}

func partitionValue(f *core.Feature, col string) string {
	switch col {
	case "reference_file_name":
		return f.ReferenceFileName
	case "sample_accession":
		return f.SampleAccession
	case "precursor_charge":
		if f.PrecursorCharge == nil {
			return "null"
		}
		return strconv.Itoa(int(*f.PrecursorCharge))
	case "channel":
		return stringOrNull(f.Channel)
	case "condition":
		return stringOrNull(f.Condition)
	}
	return "null"
}

func stringOrNull(v *string) string {
	if v == nil {
		return "null"
	}
	return *v
}
