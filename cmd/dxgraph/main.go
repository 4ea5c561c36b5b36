// dxgraph runs the diagnostic workflow over one case.
//
// Usage:
//
//	dxgraph run --config dxgraph.yaml --features HP:0001166,HP:0000098 [--image face.png]
//	dxgraph resume <checkpoint-id> --config dxgraph.yaml
//	dxgraph history <run-id> --config dxgraph.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "dxgraph",
	Short: "Rare-disease differential diagnosis as a bounded-retry workflow graph",
	Long: `dxgraph combines a phenotype-ranked lookup, an image matcher and a
language model into a ranked differential, gathers literature evidence for
each candidate, and revisits the case up to three times when every candidate
is rejected.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dxgraph.yaml", "Path to the YAML configuration")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
