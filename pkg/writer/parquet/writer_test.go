package parquet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	aparquet "github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/bigbio/quantmsio-go/pkg/tables"
)

func deBatch(n int) []tables.DERow {
	rows := make([]tables.DERow, n)
	for i := range rows {
		fc := float64(i)
		rows[i] = tables.DERow{Protein: "P12345", Label: "A-B", Log2FC: &fc}
	}
	return rows
}

func readRowCount(t *testing.T, path string) int64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	table, err := pqarrow.ReadTable(context.Background(), f,
		aparquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		t.Fatal(err)
	}
	defer table.Release()
	return table.NumRows()
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "test.differential.parquet")
	w, err := NewWriter(path, tables.DESchema)
	if err != nil {
		t.Fatal(err)
	}

	rec := tables.NewDERecord(memory.DefaultAllocator, deBatch(3))
	if err := w.Write(rec); err != nil {
		t.Fatal(err)
	}
	rec.Release()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	// Close is idempotent.
	if err := w.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if w.Rows() != 3 {
		t.Errorf("Rows() = %d, want 3", w.Rows())
	}
	if got := readRowCount(t, path); got != 3 {
		t.Errorf("file holds %d rows, want 3", got)
	}
}

func TestWriterRejectsWriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.parquet")
	w, err := NewWriter(path, tables.DESchema)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	rec := tables.NewDERecord(memory.DefaultAllocator, deBatch(1))
	defer rec.Release()
	if err := w.Write(rec); err == nil {
		t.Error("Write after Close succeeded")
	}
}

func TestWriterOverwritesPreviousRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.parquet")
	for _, n := range []int{5, 2} {
		w, err := NewWriter(path, tables.DESchema)
		if err != nil {
			t.Fatal(err)
		}
		rec := tables.NewDERecord(memory.DefaultAllocator, deBatch(n))
		if err := w.Write(rec); err != nil {
			t.Fatal(err)
		}
		rec.Release()
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	// The second run replaces the first, it does not append.
	if got := readRowCount(t, path); got != 2 {
		t.Errorf("file holds %d rows after re-run, want 2", got)
	}
}

func TestValidatePartitions(t *testing.T) {
	supported := []string{"reference_file_name", "precursor_charge"}
	tests := []struct {
		name       string
		partitions []string
		wantErr    bool
	}{
		{"valid single", []string{"reference_file_name"}, false},
		{"valid pair", []string{"reference_file_name", "precursor_charge"}, false},
		{"empty", nil, true},
		{"unknown column", []string{"peptidoform"}, true},
		{"mixed", []string{"reference_file_name", "bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePartitions(tt.partitions, supported)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePartitions(%v) error = %v, wantErr %v", tt.partitions, err, tt.wantErr)
			}
		})
	}
}

// Condition values come straight from the experimental design; a separator
// in one must not create nested directories under the partition root.
func TestPartitionedWriterSanitizesKeys(t *testing.T) {
	root := t.TempDir()
	pw := NewPartitionedWriter(root, "test.differential.parquet", tables.DESchema)

	rec := tables.NewDERecord(memory.DefaultAllocator, deBatch(1))
	if err := pw.Write([]string{`heat/shock\37C`}, rec); err != nil {
		t.Fatal(err)
	}
	rec.Release()
	if err := pw.Close(); err != nil {
		t.Fatal(err)
	}

	counts := pw.RowCounts()
	if len(counts) != 1 || counts[0].Key != "heat_shock_37C" {
		t.Fatalf("partition keys = %+v, want heat_shock_37C", counts)
	}
	want := filepath.Join(root, "heat_shock_37C", "test.differential.parquet")
	if counts[0].Path != want {
		t.Errorf("partition path = %s, want %s", counts[0].Path, want)
	}
	if got := readRowCount(t, want); got != 1 {
		t.Errorf("partition holds %d rows, want 1", got)
	}
}

func TestPartitionedWriter(t *testing.T) {
	root := t.TempDir()
	pw := NewPartitionedWriter(root, "test.differential.parquet", tables.DESchema)

	writes := []struct {
		key  []string
		rows int
	}{
		{[]string{"run_A", "2"}, 3},
		{[]string{"run_B", "2"}, 1},
		{[]string{"run_A", "2"}, 2},
	}
	for _, w := range writes {
		rec := tables.NewDERecord(memory.DefaultAllocator, deBatch(w.rows))
		if err := pw.Write(w.key, rec); err != nil {
			t.Fatal(err)
		}
		rec.Release()
	}
	if err := pw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := pw.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	counts := pw.RowCounts()
	if len(counts) != 2 {
		t.Fatalf("got %d partitions, want 2", len(counts))
	}
	if counts[0].Key != "run_A_2" || counts[0].Rows != 5 {
		t.Errorf("partition 0 = %+v, want run_A_2 with 5 rows", counts[0])
	}
	if counts[1].Key != "run_B_2" || counts[1].Rows != 1 {
		t.Errorf("partition 1 = %+v, want run_B_2 with 1 row", counts[1])
	}

	for _, c := range counts {
		want := filepath.Join(root, c.Key, "test.differential.parquet")
		if c.Path != want {
			t.Errorf("partition path = %s, want %s", c.Path, want)
		}
		if got := readRowCount(t, c.Path); got != c.Rows {
			t.Errorf("partition %s holds %d rows, want %d", c.Key, got, c.Rows)
		}
	}
}
