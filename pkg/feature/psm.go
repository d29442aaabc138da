package feature

import (
	"fmt"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/bigbio/quantmsio-go/pkg/core"
	"github.com/bigbio/quantmsio-go/pkg/filter"
	"github.com/bigbio/quantmsio-go/pkg/mztab"
	"github.com/bigbio/quantmsio-go/pkg/tables"
	"github.com/bigbio/quantmsio-go/pkg/writer/parquet"
)

// PSMOptions configures a PSM conversion run.
type PSMOptions struct {
	MzTabPath    string
	OutputFolder string
	OutputPrefix string
	ChunkSize    int
	ProteinFile  string
}

// WritePSMToFile converts an mzTab PSM section to the canonical PSM parquet
// table, one output row per PSM row, streamed chunk by chunk.
func WritePSMToFile(opts PSMOptions) error {
	reader, err := mztab.Open(opts.MzTabPath)
	if err != nil {
		return err
	}
	pf, err := filter.Load(opts.ProteinFile)
	if err != nil {
		return err
	}
	prefix := opts.OutputPrefix
	if prefix == "" {
		prefix = stem(opts.MzTabPath)
	}

	path := filepath.Join(opts.OutputFolder, prefix+tables.PSMExt)
	w, err := parquet.NewWriter(path, tables.PSMSchema)
	if err != nil {
		return err
	}

	err = reader.StreamPSMChunks(opts.ChunkSize, pf, func(chunk []core.PSM) error {
		rec := tables.NewPSMRecord(memory.DefaultAllocator, chunk)
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
	fmt.Printf("Wrote %d PSMs to %s\n", w.Rows(), w.Path())
	return nil
}
