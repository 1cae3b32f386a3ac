package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gocontext",
	Short: "Incremental code ingestion and indexing",
	Long: `gocontext scans directory trees, parses supported languages into symbols,
edges, references and imports, and keeps a vector index of the content in step
with the document store. Re-ingesting a root only touches files whose content
hash changed.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("GOCONTEXT_CONFIG"), "path to YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
