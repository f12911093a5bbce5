// Package cmd provides the CLI commands for fluxgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fluxgate",
	Short: "fluxgate - per-client GCRA rate limiting gateway",
	Long: `fluxgate admits or rejects HTTP requests per client using the
Generic Cell Rate Algorithm.

Clients are identified by API key when keys are configured, otherwise by
remote IP. Idle clients are swept from memory in the background.

Commands:
  serve       Start the HTTP server
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override observability.log_level")
}
