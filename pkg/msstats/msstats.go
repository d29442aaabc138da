// Package msstats streams quantification rows out of an MSstats CSV report.
// The report is bulk-loaded into an embedded duckdb database once, then read
// back reference file by reference file so memory stays bounded on reports
// with hundreds of runs.
package msstats

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/bigbio/quantmsio-go/pkg/filter"
	"github.com/bigbio/quantmsio-go/pkg/sdrf"
)

// Row is one quantified (peptidoform, charge, file, channel) observation,
// already joined to its experimental-design sample. Numeric fields stay as
// raw strings; the feature engine coerces them so a malformed value becomes
// a null cell instead of a stream error.
type Row struct {
	ProteinName       string
	Peptidoform       string
	Charge            string
	Channel           string
	Intensity         string
	ReferenceFileName string
	Run               string

	SampleAccession     string
	Condition           string
	Fraction            string
	BiologicalReplicate string
}

// Options configures a Generator.
type Options struct {
	// Path of the MSstats input CSV (plain or gzipped, duckdb handles both).
	Path string
	// Design provides the sample join and the experiment type.
	Design *sdrf.Handler
	// FileNum is how many reference files are materialized per batch.
	FileNum int
	// MaxMemory and Threads bound the embedded database, e.g. "16GB" and 4.
	MaxMemory string
	Threads   int
	// Filter optionally restricts rows to an accession allow-list before
	// anything leaves the database.
	Filter *filter.ProteinFilter
}

// Generator iterates an MSstats report in batches of whole reference files.
// Usage follows the scanner pattern: for g.Next() { g.Batch() }, then check
// g.Err(). Close removes the backing database file.
type Generator struct {
	db     *sql.DB
	dbPath string
	design *sdrf.Handler

	chargeCol  string
	channelCol string
	isobaric   bool

	refs    []string
	pos     int
	fileNum int
	batch   []Row
	err     error
}

// NewGenerator bulk-loads the report and prepares the per-file iteration
// order. The reference list is sorted so repeated runs visit files in the
// same order.
func NewGenerator(ctx context.Context, opts Options) (*Generator, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("msstats path is required")
	}
	if opts.Design == nil {
		return nil, fmt.Errorf("experimental design is required")
	}
	fileNum := opts.FileNum
	if fileNum <= 0 {
		fileNum = 10
	}

	dbPath := filepath.Join(os.TempDir(), fmt.Sprintf("msstats-%d.duckdb", os.Getpid()))
	// A stale file from a crashed run would already hold the msstats table.
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale database %s: %w", dbPath, err)
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	g := &Generator{db: db, dbPath: dbPath, design: opts.Design, fileNum: fileNum}

	if opts.MaxMemory != "" {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MaxMemory)); err != nil {
			g.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}
	if opts.Threads > 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA threads=%d", opts.Threads)); err != nil {
			g.Close()
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	// duckdb does not accept bound parameters in CREATE TABLE AS, so the
	// path and pattern are inlined as quoted literals.
	load := fmt.Sprintf(
		"CREATE TABLE msstats AS SELECT * FROM read_csv_auto(%s, header=true)",
		quoteLiteral(opts.Path))
	if p := opts.Filter.Pattern(); p != "" {
		load += fmt.Sprintf(` WHERE regexp_matches("ProteinName", %s)`, quoteLiteral(p))
	}
	if _, err := db.ExecContext(ctx, load); err != nil {
		g.Close()
		return nil, fmt.Errorf("load msstats report: %w", err)
	}

	if err := g.resolveColumns(ctx); err != nil {
		g.Close()
		return nil, err
	}
	if err := g.listReferences(ctx); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// resolveColumns maps the schema differences between label-free and isobaric
// MSstats reports: LFQ carries PrecursorCharge and no channel, TMT/ITRAQ
// carry Charge plus Channel.
func (g *Generator) resolveColumns(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_name = 'msstats'")
	if err != nil {
		return fmt.Errorf("inspect msstats columns: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect msstats columns: %w", err)
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect msstats columns: %w", err)
	}

	switch {
	case cols["PrecursorCharge"]:
		g.chargeCol = "PrecursorCharge"
	case cols["Charge"]:
		g.chargeCol = "Charge"
	default:
		return fmt.Errorf("msstats report has no charge column")
	}
	if cols["Channel"] {
		g.channelCol = "Channel"
		g.isobaric = true
	} else if cols["IsotopeLabelType"] {
		g.channelCol = "IsotopeLabelType"
	} else {
		return fmt.Errorf("msstats report has no channel or label column")
	}
	if !cols["Reference"] {
		return fmt.Errorf("msstats report has no Reference column")
	}
	return nil
}

func (g *Generator) listReferences(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx,
		`SELECT DISTINCT "Reference" FROM msstats ORDER BY "Reference"`)
	if err != nil {
		return fmt.Errorf("list reference files: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return fmt.Errorf("list reference files: %w", err)
		}
		g.refs = append(g.refs, ref)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list reference files: %w", err)
	}
	return nil
}

// References reports the distinct reference files in iteration order.
func (g *Generator) References() []string { return g.refs }

// ExperimentType reports the design's experiment type ("LFQ", "TMT10", ...).
func (g *Generator) ExperimentType() string { return g.design.ExperimentType() }

// Next materializes the next batch of reference files. It returns false when
// the report is exhausted or an error occurred; check Err afterwards.
func (g *Generator) Next() bool {
	if g.err != nil || g.pos >= len(g.refs) {
		return false
	}
	end := g.pos + g.fileNum
	if end > len(g.refs) {
		end = len(g.refs)
	}
	batch, err := g.queryBatch(g.refs[g.pos:end])
	if err != nil {
		g.err = err
		return false
	}
	g.pos = end
	g.batch = batch
	return true
}

// Batch returns the rows materialized by the last successful Next call.
func (g *Generator) Batch() []Row { return g.batch }

// Err returns the first error hit during iteration.
func (g *Generator) Err() error { return g.err }

func (g *Generator) queryBatch(refs []string) ([]Row, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(refs)), ",")
	// Numeric columns come back as VARCHAR so a malformed cell surfaces as
	// a null after coercion, not a scan error that kills the whole batch.
	query := fmt.Sprintf(`SELECT "ProteinName", "PeptideSequence",
		CAST("%s" AS VARCHAR), CAST("%s" AS VARCHAR),
		CAST("Intensity" AS VARCHAR), "Reference", CAST("Run" AS VARCHAR)
		FROM msstats WHERE "Reference" IN (%s)`,
		g.chargeCol, g.channelCol, placeholders)

	args := make([]any, len(refs))
	for i, r := range refs {
		args[i] = r
	}
	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query msstats batch: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var protein, peptide, reference string
		var charge, channel, intensity, run sql.NullString
		if err := rows.Scan(&protein, &peptide, &charge, &channel, &intensity, &reference, &run); err != nil {
			return nil, fmt.Errorf("scan msstats row: %w", err)
		}
		r := TransformRow(protein, peptide, charge.String, channel.String,
			intensity.String, reference, run.String)
		if !g.isobaric {
			// Label-free reports carry an IsotopeLabelType column (usually
			// "L"); the canonical channel value for label-free data is LFQ.
			r.Channel = "LFQ"
		}
		s, ok := g.design.Sample(r.ReferenceFileName, r.Channel)
		if !ok {
			return nil, fmt.Errorf("reference file %s (channel %q) not in experimental design",
				r.ReferenceFileName, r.Channel)
		}
		r.SampleAccession = s.SampleAccession
		r.Condition = s.Condition
		r.Fraction = s.Fraction
		r.BiologicalReplicate = s.BiologicalReplicate
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read msstats batch: %w", err)
	}
	return out, nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// TransformRow normalizes one raw MSstats row: the reference loses its file
// extension and the peptidoform loses MSstats' flanking-residue dots
// (".PEPTIDE." -> "PEPTIDE").
func TransformRow(protein, peptide, charge, channel, intensity, reference, run string) Row {
	return Row{
		ProteinName:       protein,
		Peptidoform:       strings.Trim(peptide, "."),
		Charge:            charge,
		Channel:           channel,
		Intensity:         intensity,
		ReferenceFileName: sdrf.StripExtension(reference),
		Run:               run,
	}
}

// Close releases the database and deletes its backing file. Safe to call
// more than once.
func (g *Generator) Close() error {
	var err error
	if g.db != nil {
		err = g.db.Close()
		g.db = nil
	}
	if g.dbPath != "" {
		if rerr := os.Remove(g.dbPath); rerr != nil && !os.IsNotExist(rerr) && err == nil {
			err = rerr
		}
		g.dbPath = ""
	}
	return err
}
