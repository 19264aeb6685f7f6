// Command pulse runs the external synchronization and escalation core:
// incremental commit sync from GitHub, issue status sync from Jira, and
// the risk escalation sweep, either one-shot or as a scheduled service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	flagConfig    string
	flagDB        string
	flagLogFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "pulse",
		Short:         "External synchronization and escalation core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(
		newSyncCmd(),
		newEscalateCmd(),
		newServeCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
