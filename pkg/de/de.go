// Package de converts MSstats differential-expression reports (group
// comparison output) to the canonical differential parquet table.
package de

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/bigbio/quantmsio-go/pkg/core"
	"github.com/bigbio/quantmsio-go/pkg/filter"
	"github.com/bigbio/quantmsio-go/pkg/tables"
	"github.com/bigbio/quantmsio-go/pkg/writer/parquet"
)

// Options configures a differential-expression conversion.
type Options struct {
	// Path of the MSstats group-comparison CSV or TSV.
	Path         string
	OutputFolder string
	OutputPrefix string
	// FDRThreshold drops comparisons whose adjusted p-value exceeds it.
	// Zero keeps everything.
	FDRThreshold float64
	// ProteinFile optionally restricts output to an accession allow-list.
	ProteinFile string
}

// Convert reads the comparison report, optionally applies the FDR cut, and
// writes the differential parquet table. Returns the number of rows written.
func Convert(ctx context.Context, opts Options) (int64, error) {
	if opts.Path == "" {
		return 0, fmt.Errorf("differential report path is required")
	}
	prefix := opts.OutputPrefix
	if prefix == "" {
		base := filepath.Base(opts.Path)
		prefix = strings.TrimSuffix(base, filepath.Ext(base))
	}
	pf, err := filter.Load(opts.ProteinFile)
	if err != nil {
		return 0, err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return 0, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	// Everything comes back as VARCHAR; MSstats encodes non-estimable
	// comparisons as NA/Inf strings that must coerce to nulls, not errors.
	query := fmt.Sprintf(`SELECT CAST("Protein" AS VARCHAR), CAST("Label" AS VARCHAR),
		CAST("log2FC" AS VARCHAR), CAST("SE" AS VARCHAR), CAST("DF" AS VARCHAR),
		CAST("pvalue" AS VARCHAR), CAST("adj.pvalue" AS VARCHAR),
		CAST("issue" AS VARCHAR)
		FROM read_csv_auto('%s', header=true)`,
		strings.ReplaceAll(opts.Path, "'", "''"))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("read differential report: %w", err)
	}
	defer rows.Close()

	var batch []tables.DERow
	for rows.Next() {
		var protein, label sql.NullString
		var log2fc, se, df, pvalue, adjP, issue sql.NullString
		if err := rows.Scan(&protein, &label, &log2fc, &se, &df, &pvalue, &adjP, &issue); err != nil {
			return 0, fmt.Errorf("scan differential row: %w", err)
		}
		if !pf.Match(protein.String) {
			continue
		}
		r := tables.DERow{
			Protein:   protein.String,
			Label:     label.String,
			Log2FC:    core.ToFloat64(log2fc.String),
			SE:        core.ToFloat64(se.String),
			DF:        core.ToFloat64(df.String),
			PValue:    core.ToFloat64(pvalue.String),
			AdjPValue: core.ToFloat64(adjP.String),
			Issue:     core.ToString(issue.String),
		}
		if opts.FDRThreshold > 0 {
			if r.AdjPValue == nil || *r.AdjPValue > opts.FDRThreshold {
				continue
			}
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read differential report: %w", err)
	}

	path := filepath.Join(opts.OutputFolder, prefix+tables.DEExt)
	w, err := parquet.NewWriter(path, tables.DESchema)
	if err != nil {
		return 0, err
	}
	rec := tables.NewDERecord(memory.DefaultAllocator, batch)
	if err := w.Write(rec); err != nil {
		rec.Release()
		w.Close()
		return 0, err
	}
	rec.Release()
	if err := w.Close(); err != nil {
		return 0, err
	}
	fmt.Printf("Wrote %d comparisons to %s\n", w.Rows(), w.Path())
	return w.Rows(), nil
}
