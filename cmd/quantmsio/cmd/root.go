// Package cmd provides CLI command implementations
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Flags shared across convert commands
	mzTabFile    string
	msstatsFile  string
	sdrfFile     string
	outputFolder string
	outputPrefix string
	proteinFile  string
	fileNum      int
	chunkSize    int
	maxMemory    string
	threads      int
	partitions   []string

	// convert de flags
	deFile       string
	fdrThreshold float64
)

var rootCmd = &cobra.Command{
	Use:   "quantmsio",
	Short: "quantmsio - proteomics report conversion tool",
	Long: `quantmsio converts quantms pipeline outputs (mzTab, MSstats, SDRF) to
quantms.io parquet tables.

Streaming, memory-bounded conversion with support for:
- Feature tables merging identification, quantification and design metadata
- PSM tables extracted from mzTab
- Differential expression tables from MSstats group comparisons
- Partitioned output by experimental design columns`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(convertFeatureCmd)
	rootCmd.AddCommand(convertPSMCmd)
	rootCmd.AddCommand(convertDECmd)

	convertFeatureCmd.Flags().StringVar(&mzTabFile, "mztab", "", "mzTab identification file (required)")
	convertFeatureCmd.Flags().StringVar(&msstatsFile, "msstats", "", "MSstats quantification CSV (required)")
	convertFeatureCmd.Flags().StringVar(&sdrfFile, "sdrf", "", "SDRF experimental design TSV (required)")
	convertFeatureCmd.Flags().StringVarP(&outputFolder, "output-folder", "o", "", "Output directory (required)")
	convertFeatureCmd.Flags().StringVar(&outputPrefix, "output-prefix", "", "Output file prefix (default: mzTab file stem)")
	convertFeatureCmd.Flags().StringVar(&proteinFile, "protein-file", "", "Newline-delimited protein accession allow-list")
	convertFeatureCmd.Flags().IntVar(&fileNum, "file-num", 10, "Reference files per quantification batch")
	convertFeatureCmd.Flags().IntVar(&chunkSize, "chunk-size", 2000000, "PSM rows per indexing chunk")
	convertFeatureCmd.Flags().StringVar(&maxMemory, "duckdb-max-memory", "16GB", "Memory limit for the embedded database")
	convertFeatureCmd.Flags().IntVar(&threads, "duckdb-threads", 4, "Thread count for the embedded database")
	convertFeatureCmd.Flags().StringSliceVar(&partitions, "partitions", nil,
		"Partition output by these columns (e.g. reference_file_name,precursor_charge)")
	convertFeatureCmd.MarkFlagRequired("mztab")
	convertFeatureCmd.MarkFlagRequired("msstats")
	convertFeatureCmd.MarkFlagRequired("sdrf")
	convertFeatureCmd.MarkFlagRequired("output-folder")

	convertPSMCmd.Flags().StringVar(&mzTabFile, "mztab", "", "mzTab identification file (required)")
	convertPSMCmd.Flags().StringVarP(&outputFolder, "output-folder", "o", "", "Output directory (required)")
	convertPSMCmd.Flags().StringVar(&outputPrefix, "output-prefix", "", "Output file prefix (default: mzTab file stem)")
	convertPSMCmd.Flags().StringVar(&proteinFile, "protein-file", "", "Newline-delimited protein accession allow-list")
	convertPSMCmd.Flags().IntVar(&chunkSize, "chunk-size", 2000000, "PSM rows per output chunk")
	convertPSMCmd.MarkFlagRequired("mztab")
	convertPSMCmd.MarkFlagRequired("output-folder")

	convertDECmd.Flags().StringVar(&deFile, "msstats", "", "MSstats group comparison CSV (required)")
	convertDECmd.Flags().StringVarP(&outputFolder, "output-folder", "o", "", "Output directory (required)")
	convertDECmd.Flags().StringVar(&outputPrefix, "output-prefix", "", "Output file prefix (default: input file stem)")
	convertDECmd.Flags().StringVar(&proteinFile, "protein-file", "", "Newline-delimited protein accession allow-list")
	convertDECmd.Flags().Float64Var(&fdrThreshold, "fdr-threshold", 0, "Drop comparisons with adjusted p-value above this (0 = keep all)")
	convertDECmd.MarkFlagRequired("msstats")
	convertDECmd.MarkFlagRequired("output-folder")
}
