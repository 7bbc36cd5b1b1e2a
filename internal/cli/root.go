// Package cli implements the holdfast command line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
	"github.com/holdfast-net/holdfast/internal/config"
	"github.com/holdfast-net/holdfast/internal/logging"
)

var (
	// Version is set at build time
	Version = "0.1.0"

	// App state
	cfg    *config.Config
	cfgErr error

	runners = runner.NewBuilder(func() (*config.Config, error) {
		return cfg, cfgErr
	})
)

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "holdfast",
	Short: "Trustless federated chunk storage",
	Long: `Holdfast replicates encrypted chunks to anonymous holder nodes and
keeps them alive with storage-proof audits. No holder can read what it
stores, and no owner learns who stores it - possession of the chunk's
ownership proof is the only credential.`,
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// SetVersion sets the version string
func SetVersion(v string) {
	Version = v
	rootCmd.Version = v
}

func init() {
	cobra.OnInitialize(initLogging, initConfig)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func initLogging() {
	logging.InitDefault()
}

func initConfig() {
	cfg, cfgErr = config.Load("")
}
