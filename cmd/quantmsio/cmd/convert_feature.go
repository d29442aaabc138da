package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigbio/quantmsio-go/pkg/feature"
)

var convertFeatureCmd = &cobra.Command{
	Use:   "convert-feature",
	Short: "Convert mzTab + MSstats + SDRF to a Feature parquet table",
	Long: `Convert a quantms run to the canonical Feature table: every MSstats
quantification row annotated with the best PSM evidence from mzTab and the
sample metadata from the SDRF design.

Examples:
  # Single output file
  quantmsio convert-feature --mztab run.mzTab --msstats run_msstats_in.csv \
    --sdrf design.sdrf.tsv -o out/

  # Partitioned by raw file and charge
  quantmsio convert-feature --mztab run.mzTab --msstats run_msstats_in.csv \
    --sdrf design.sdrf.tsv -o out/ --partitions reference_file_name,precursor_charge`,
	RunE: runConvertFeature,
}

func runConvertFeature(cmd *cobra.Command, args []string) error {
	for _, f := range []string{mzTabFile, msstatsFile, sdrfFile} {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %s", f)
		}
	}

	opts := feature.Options{
		MzTabPath:    mzTabFile,
		MSstatsPath:  msstatsFile,
		SDRFPath:     sdrfFile,
		OutputFolder: outputFolder,
		OutputPrefix: outputPrefix,
		FileNum:      fileNum,
		ChunkSize:    chunkSize,
		ProteinFile:  proteinFile,
		MaxMemory:    maxMemory,
		Threads:      threads,
	}

	fmt.Printf("Converting %s to Feature table...\n", mzTabFile)
	if len(partitions) > 0 {
		return feature.WriteFeaturesToFiles(cmd.Context(), opts, partitions)
	}
	return feature.WriteFeatureToFile(cmd.Context(), opts)
}
