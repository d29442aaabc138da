// Package tables declares the canonical quantms.io arrow schemas and the
// builders that turn record batches into arrow Records. The schemas are
// versioned constants: writers validate against them, never against data.
package tables

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/bigbio/quantmsio-go/pkg/core"
)

const (
	FeatureExt = ".feature.parquet"
	PSMExt     = ".psm.parquet"
	DEExt      = ".differential.parquet"
)

var (
	modificationType = arrow.StructOf(
		arrow.Field{Name: "name", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "mass", Type: arrow.PrimitiveTypes.Float64},
		arrow.Field{Name: "position", Type: arrow.PrimitiveTypes.Int32},
	)
	scoreType = arrow.StructOf(
		arrow.Field{Name: "score_name", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "score_value", Type: arrow.PrimitiveTypes.Float64},
	)
	cvParamType = arrow.StructOf(
		arrow.Field{Name: "cv_name", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "cv_value", Type: arrow.BinaryTypes.String},
	)
	intensityType = arrow.StructOf(
		arrow.Field{Name: "sample_accession", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "channel", Type: arrow.BinaryTypes.String},
		arrow.Field{Name: "intensity", Type: arrow.PrimitiveTypes.Float64},
	)
)

// FeatureSchema is the canonical Feature table layout. Columns reserved for
// future producers (gene groups, ion mobility, predicted/bounded retention
// times, additional intensities) are declared here and always written null.
var FeatureSchema = arrow.NewSchema([]arrow.Field{
	{Name: "sequence", Type: arrow.BinaryTypes.String},
	{Name: "peptidoform", Type: arrow.BinaryTypes.String},
	{Name: "modifications", Type: arrow.ListOf(modificationType), Nullable: true},
	{Name: "precursor_charge", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "posterior_error_probability", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "is_decoy", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "calculated_mz", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "observed_mz", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "additional_scores", Type: arrow.ListOf(scoreType), Nullable: true},
	{Name: "cv_params", Type: arrow.ListOf(cvParamType), Nullable: true},
	{Name: "mp_accessions", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "pg_global_qvalue", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "unique", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "gg_accessions", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "gg_names", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "intensities", Type: arrow.ListOf(intensityType), Nullable: true},
	{Name: "additional_intensities", Type: arrow.ListOf(intensityType), Nullable: true},
	{Name: "predicted_rt", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "rt", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "rt_start", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "rt_stop", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "ion_mobility", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "start_ion_mobility", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "stop_ion_mobility", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "channel", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "condition", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "fraction", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "biological_replicate", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "run", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "reference_file_name", Type: arrow.BinaryTypes.String},
	{Name: "sample_accession", Type: arrow.BinaryTypes.String},
	{Name: "scan", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "scan_reference_file_name", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// PSMSchema is the canonical PSM table layout.
var PSMSchema = arrow.NewSchema([]arrow.Field{
	{Name: "sequence", Type: arrow.BinaryTypes.String},
	{Name: "peptidoform", Type: arrow.BinaryTypes.String},
	{Name: "modifications", Type: arrow.ListOf(modificationType), Nullable: true},
	{Name: "precursor_charge", Type: arrow.PrimitiveTypes.Int32},
	{Name: "posterior_error_probability", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "is_decoy", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
	{Name: "calculated_mz", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "observed_mz", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "additional_scores", Type: arrow.ListOf(scoreType), Nullable: true},
	{Name: "cv_params", Type: arrow.ListOf(cvParamType), Nullable: true},
	{Name: "mp_accessions", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
	{Name: "reference_file_name", Type: arrow.BinaryTypes.String},
	{Name: "scan", Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: "rt", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

// DESchema is the differential-expression table layout.
var DESchema = arrow.NewSchema([]arrow.Field{
	{Name: "protein", Type: arrow.BinaryTypes.String},
	{Name: "label", Type: arrow.BinaryTypes.String},
	{Name: "log2fc", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "se", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "df", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "pvalue", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "adj_pvalue", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "issue", Type: arrow.BinaryTypes.String, Nullable: true},
}, nil)

// NewFeatureRecord builds an arrow Record for a Feature batch. The output
// row count always equals len(batch); the caller owns the returned record.
func NewFeatureRecord(mem memory.Allocator, batch []core.Feature) arrow.Record {
	b := array.NewRecordBuilder(mem, FeatureSchema)
	defer b.Release()

	for i := range batch {
		f := &batch[i]
		b.Field(0).(*array.StringBuilder).Append(f.Sequence)
		b.Field(1).(*array.StringBuilder).Append(f.Peptidoform)
		appendModifications(b.Field(2).(*array.ListBuilder), f.Modifications)
		appendInt32(b.Field(3).(*array.Int32Builder), f.PrecursorCharge)
		appendFloat64(b.Field(4).(*array.Float64Builder), f.PosteriorErrorProbability)
		appendInt32(b.Field(5).(*array.Int32Builder), f.IsDecoy)
		appendFloat64(b.Field(6).(*array.Float64Builder), f.CalculatedMZ)
		appendFloat64(b.Field(7).(*array.Float64Builder), f.ObservedMZ)
		appendScores(b.Field(8).(*array.ListBuilder), f.AdditionalScores)
		appendCVParams(b.Field(9).(*array.ListBuilder), f.CVParams)
		appendStringList(b.Field(10).(*array.ListBuilder), f.MPAccessions)
		appendFloat64(b.Field(11).(*array.Float64Builder), f.PGGlobalQValue)
		appendInt32(b.Field(12).(*array.Int32Builder), f.Unique)
		appendStringList(b.Field(13).(*array.ListBuilder), f.GGAccessions)
		appendStringList(b.Field(14).(*array.ListBuilder), f.GGNames)
		appendIntensities(b.Field(15).(*array.ListBuilder), f.Intensities)
		appendIntensities(b.Field(16).(*array.ListBuilder), f.AdditionalIntensities)
		appendFloat64(b.Field(17).(*array.Float64Builder), f.PredictedRT)
		appendFloat64(b.Field(18).(*array.Float64Builder), f.RT)
		appendFloat64(b.Field(19).(*array.Float64Builder), f.RTStart)
		appendFloat64(b.Field(20).(*array.Float64Builder), f.RTStop)
		appendFloat64(b.Field(21).(*array.Float64Builder), f.IonMobility)
		appendFloat64(b.Field(22).(*array.Float64Builder), f.StartIonMobility)
		appendFloat64(b.Field(23).(*array.Float64Builder), f.StopIonMobility)
		appendString(b.Field(24).(*array.StringBuilder), f.Channel)
		appendString(b.Field(25).(*array.StringBuilder), f.Condition)
		appendString(b.Field(26).(*array.StringBuilder), f.Fraction)
		appendString(b.Field(27).(*array.StringBuilder), f.BiologicalReplicate)
		appendString(b.Field(28).(*array.StringBuilder), f.Run)
		b.Field(29).(*array.StringBuilder).Append(f.ReferenceFileName)
		b.Field(30).(*array.StringBuilder).Append(f.SampleAccession)
		appendString(b.Field(31).(*array.StringBuilder), f.Scan)
		appendString(b.Field(32).(*array.StringBuilder), f.ScanReferenceFileName)
	}
	return b.NewRecord()
}

// NewPSMRecord builds an arrow Record for a PSM batch.
func NewPSMRecord(mem memory.Allocator, batch []core.PSM) arrow.Record {
	b := array.NewRecordBuilder(mem, PSMSchema)
	defer b.Release()

	for i := range batch {
		p := &batch[i]
		b.Field(0).(*array.StringBuilder).Append(p.Sequence)
		b.Field(1).(*array.StringBuilder).Append(p.Peptidoform)
		appendModifications(b.Field(2).(*array.ListBuilder), p.Modifications)
		b.Field(3).(*array.Int32Builder).Append(p.PrecursorCharge)
		appendFloat64(b.Field(4).(*array.Float64Builder), p.PosteriorErrorProbability)
		appendInt32(b.Field(5).(*array.Int32Builder), p.IsDecoy)
		appendFloat64(b.Field(6).(*array.Float64Builder), p.CalculatedMZ)
		appendFloat64(b.Field(7).(*array.Float64Builder), p.ObservedMZ)
		appendScores(b.Field(8).(*array.ListBuilder), p.AdditionalScores)
		appendCVParams(b.Field(9).(*array.ListBuilder), p.CVParams)
		appendStringList(b.Field(10).(*array.ListBuilder), core.SplitAccessions(p.Accessions))
		b.Field(11).(*array.StringBuilder).Append(p.ReferenceFileName)
		appendString(b.Field(12).(*array.StringBuilder), core.ToString(p.Scan))
		appendFloat64(b.Field(13).(*array.Float64Builder), p.RT)
	}
	return b.NewRecord()
}

// DERow is one differential-expression comparison result.
type DERow struct {
	Protein   string
	Label     string
	Log2FC    *float64
	SE        *float64
	DF        *float64
	PValue    *float64
	AdjPValue *float64
	Issue     *string
}

// NewDERecord builds an arrow Record for a differential-expression batch.
func NewDERecord(mem memory.Allocator, batch []DERow) arrow.Record {
	b := array.NewRecordBuilder(mem, DESchema)
	defer b.Release()

	for i := range batch {
		r := &batch[i]
		b.Field(0).(*array.StringBuilder).Append(r.Protein)
		b.Field(1).(*array.StringBuilder).Append(r.Label)
		appendFloat64(b.Field(2).(*array.Float64Builder), r.Log2FC)
		appendFloat64(b.Field(3).(*array.Float64Builder), r.SE)
		appendFloat64(b.Field(4).(*array.Float64Builder), r.DF)
		appendFloat64(b.Field(5).(*array.Float64Builder), r.PValue)
		appendFloat64(b.Field(6).(*array.Float64Builder), r.AdjPValue)
		appendString(b.Field(7).(*array.StringBuilder), r.Issue)
	}
	return b.NewRecord()
}

func appendString(b *array.StringBuilder, v *string) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}

func appendFloat64(b *array.Float64Builder, v *float64) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}

func appendInt32(b *array.Int32Builder, v *int32) {
	if v == nil {
		b.AppendNull()
		return
	}
	b.Append(*v)
}

func appendStringList(b *array.ListBuilder, values []string) {
	if values == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	vb := b.ValueBuilder().(*array.StringBuilder)
	for _, v := range values {
		vb.Append(v)
	}
}

func appendModifications(b *array.ListBuilder, mods []core.Modification) {
	if mods == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	sb := b.ValueBuilder().(*array.StructBuilder)
	for _, m := range mods {
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(m.Name)
		sb.FieldBuilder(1).(*array.Float64Builder).Append(m.Mass)
		sb.FieldBuilder(2).(*array.Int32Builder).Append(int32(m.Position))
	}
}

func appendScores(b *array.ListBuilder, scores []core.ScoreEntry) {
	if scores == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	sb := b.ValueBuilder().(*array.StructBuilder)
	for _, s := range scores {
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(s.Name)
		sb.FieldBuilder(1).(*array.Float64Builder).Append(s.Value)
	}
}

func appendCVParams(b *array.ListBuilder, params []core.CVParam) {
	if params == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	sb := b.ValueBuilder().(*array.StructBuilder)
	for _, p := range params {
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(p.Name)
		sb.FieldBuilder(1).(*array.StringBuilder).Append(p.Value)
	}
}

func appendIntensities(b *array.ListBuilder, values []core.Intensity) {
	if values == nil {
		b.AppendNull()
		return
	}
	b.Append(true)
	sb := b.ValueBuilder().(*array.StructBuilder)
	for _, v := range values {
		sb.Append(true)
		sb.FieldBuilder(0).(*array.StringBuilder).Append(v.SampleAccession)
		sb.FieldBuilder(1).(*array.StringBuilder).Append(v.Channel)
		sb.FieldBuilder(2).(*array.Float64Builder).Append(v.Value)
	}
}
