// Package commands implements the meshboardctl CLI surface.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverAddr is the daemon admin endpoint (host:port).
	serverAddr string

	// outputFormat controls command output (table or json).
	outputFormat string

	// httpClient is shared by all commands.
	httpClient = &http.Client{Timeout: 5 * time.Second}
)

// rootCmd is the top-level cobra command for meshboardctl.
var rootCmd = &cobra.Command{
	Use:   "meshboardctl",
	Short: "CLI client for the meshboard daemon",
	Long:  "meshboardctl reads the meshboard daemon's local admin endpoint (health, status, metrics).",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:9144",
		"meshboard admin endpoint (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
