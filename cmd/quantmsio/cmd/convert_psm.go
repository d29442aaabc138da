package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigbio/quantmsio-go/pkg/feature"
)

var convertPSMCmd = &cobra.Command{
	Use:   "convert-psm",
	Short: "Convert an mzTab PSM section to a PSM parquet table",
	Long: `Stream the PSM section of an mzTab file into the canonical PSM table,
one output row per PSM.

Example:
  quantmsio convert-psm --mztab run.mzTab -o out/`,
	RunE: runConvertPSM,
}

func runConvertPSM(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(mzTabFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", mzTabFile)
	}

	fmt.Printf("Converting %s to PSM table...\n", mzTabFile)
	return feature.WritePSMToFile(feature.PSMOptions{
		MzTabPath:    mzTabFile,
		OutputFolder: outputFolder,
		OutputPrefix: outputPrefix,
		ChunkSize:    chunkSize,
		ProteinFile:  proteinFile,
	})
}
