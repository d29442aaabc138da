// Package parquet writes arrow Records to parquet files, either as a single
// output file or fanned out across partition directories.
package parquet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// Writer streams arrow Records into a single parquet file. Close is
// idempotent; the file is only valid after a successful Close.
type Writer struct {
	path   string
	file   *os.File
	fw     *pqarrow.FileWriter
	rows   int64
	closed bool
}

// NewWriter creates path (truncating any previous run's output, so re-runs
// replace rather than append) and prepares a parquet writer for schema.
func NewWriter(path string, schema *arrow.Schema) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening parquet writer for %s: %w", path, err)
	}
	return &Writer{path: path, file: f, fw: fw}, nil
}

// Write appends one record batch to the file.
func (w *Writer) Write(rec arrow.Record) error {
	if w.closed {
		return fmt.Errorf("write to closed parquet writer %s", w.path)
	}
	if err := w.fw.Write(rec); err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	w.rows += rec.NumRows()
	return nil
}

// Rows reports the number of rows written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Path reports the output file path.
func (w *Writer) Path() string { return w.path }

// Close finalizes the parquet footer and closes the file. Safe to call more
// than once.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.fw.Close()
	// pqarrow.FileWriter.Close closes the underlying sink, so the file is
	// usually already closed here; only surface unexpected close errors.
	if cerr := w.file.Close(); err == nil && !errors.Is(cerr, os.ErrClosed) {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("closing %s: %w", w.path, err)
	}
	return nil
}

// PartitionedWriter fans record batches out to one parquet file per distinct
// partition-key value, creating sinks lazily as keys first appear. Output
// lands at <root>/<key1[_key2...]>/<filename>.
type PartitionedWriter struct {
	root     string
	filename string
	schema   *arrow.Schema
	sinks    map[string]*Writer
}

// ValidatePartitions checks requested partition columns against the columns
// supported for partitioning. Called before any input is read so a bad
// partition list fails fast.
func ValidatePartitions(partitions, supported []string) error {
	if len(partitions) == 0 {
		return errors.New("no partition columns given")
	}
	ok := make(map[string]bool, len(supported))
	for _, c := range supported {
		ok[c] = true
	}
	for _, p := range partitions {
		if !ok[p] {
			return fmt.Errorf("unsupported partition column %q (supported: %s)",
				p, strings.Join(supported, ", "))
		}
	}
	return nil
}

// NewPartitionedWriter prepares a fan-out writer. No directories or files
// are created until the first batch for a key arrives.
func NewPartitionedWriter(root, filename string, schema *arrow.Schema) *PartitionedWriter {
	return &PartitionedWriter{
		root:     root,
		filename: filename,
		schema:   schema,
		sinks:    make(map[string]*Writer),
	}
}

// sanitizeKeyPart keeps a partition value from escaping its directory: path
// separators become underscores.
func sanitizeKeyPart(v string) string {
	v = strings.ReplaceAll(v, "/", "_")
	return strings.ReplaceAll(v, `\`, "_")
}

// Write routes one record batch to the sink for key, opening it on first
// use. key is the joined partition value, e.g. "RD139_Narrow_UPS1_0_1fmol".
func (pw *PartitionedWriter) Write(key []string, rec arrow.Record) error {
	parts := make([]string, len(key))
	for i, v := range key {
		parts[i] = sanitizeKeyPart(v)
	}
	name := strings.Join(parts, "_")
	sink, ok := pw.sinks[name]
	if !ok {
		w, err := NewWriter(filepath.Join(pw.root, name, pw.filename), pw.schema)
		if err != nil {
			return err
		}
		pw.sinks[name] = w
		sink = w
	}
	return sink.Write(rec)
}

// RowCounts reports rows written per partition key, sorted by key.
func (pw *PartitionedWriter) RowCounts() []PartitionCount {
	counts := make([]PartitionCount, 0, len(pw.sinks))
	for name, sink := range pw.sinks {
		counts = append(counts, PartitionCount{Key: name, Rows: sink.Rows(), Path: sink.Path()})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Key < counts[j].Key })
	return counts
}

// PartitionCount is the per-partition output summary.
type PartitionCount struct {
	Key  string
	Rows int64
	Path string
}

// Close finalizes every open sink exactly once, closing all of them even if
// some fail.
func (pw *PartitionedWriter) Close() error {
	var errs []error
	for _, sink := range pw.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
