package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information - will be set at build time
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tablekit",
		Short: "Declarative table-to-REST-API server",
		Long: `Tablekit turns declarative table definitions into a validated,
cacheable REST query API: filters, joins, computed columns, tenant
isolation, and capability metadata for auto-built UIs.`,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
