package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
	"github.com/holdfast-net/holdfast/internal/config"
	"github.com/holdfast-net/holdfast/internal/keystore"
	"github.com/holdfast-net/holdfast/internal/logging"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize this node (generates keys and config)",
	Long: `Initialize a holdfast node.

This generates the node's secret key and Ed25519 identity and writes
the default configuration. The secret key never leaves this machine;
losing it means losing access to every chunk stored under it.`,
	Example: `  # Initialize with defaults (quorum of 3)
  holdfast init

  # Initialize with a custom quorum and bolt-backed store
  holdfast init --quorum 5 --store bolt`,
	RunE: runners.Uninitialized().Wrap(runInit),
}

func init() {
	f := initCmd.Flags()
	f.Int("quorum", 0, "Replica quorum for stored chunks")
	f.String("store", "", "Store backend: fs or bolt")
	f.Duration("audit-interval", 0, "Background audit cadence (0 disables)")

	rootCmd.AddCommand(initCmd)
}

func runInit(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	quorum := flags.Int("quorum")
	backend := flags.String("store")
	auditInterval := flags.Duration("audit-interval")
	if err := flags.Err(); err != nil {
		return err
	}

	if config.Exists("") {
		return fmt.Errorf("already initialized - remove %s to reinitialize", config.DefaultConfigDir())
	}

	newCfg := config.Default()
	if quorum > 0 {
		newCfg.Replication.QuorumN = quorum
	}
	if backend != "" {
		newCfg.StoreBackend = backend
	}
	if auditInterval > 0 {
		newCfg.Audit.Interval = auditInterval
	}
	if err := newCfg.Validate(); err != nil {
		return err
	}

	ks, err := keystore.Init(newCfg.KeystoreDir())
	if err != nil {
		return fmt.Errorf("failed to generate key material: %w", err)
	}
	logging.Info("generated node keys", logging.String("node_id", ks.NodeID()))

	if err := newCfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	logging.Info("configuration saved", logging.String("dir", newCfg.ConfigDir))

	fmt.Printf("Node ID: %s\n", ks.NodeID())
	fmt.Println("Initialization complete. Start the node with: holdfast serve")
	return nil
}
