package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigbio/quantmsio-go/pkg/de"
)

var convertDECmd = &cobra.Command{
	Use:   "convert-de",
	Short: "Convert an MSstats group comparison to a differential parquet table",
	Long: `Convert MSstats group-comparison output to the canonical differential
expression table, optionally dropping comparisons above an FDR threshold.

Example:
  quantmsio convert-de --msstats comparisons.csv -o out/ --fdr-threshold 0.05`,
	RunE: runConvertDE,
}

func runConvertDE(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(deFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", deFile)
	}

	fmt.Printf("Converting %s to differential table...\n", deFile)
	_, err := de.Convert(cmd.Context(), de.Options{
		Path:         deFile,
		OutputFolder: outputFolder,
		OutputPrefix: outputPrefix,
		FDRThreshold: fdrThreshold,
		ProteinFile:  proteinFile,
	})
	return err
}
