package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show node identity, tracked chunks, and held records",
	RunE:  runners.Node().Wrap(runStatus),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	n, cleanup, err := ownerNode(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Node ID: %s\n", n.NodeID())
	fmt.Printf("Config:  %s\n", ctx.Config.ConfigDir)
	fmt.Printf("Store:   %s\n", ctx.Config.StoreBackend)
	fmt.Println()

	chunks := n.Chunks()
	fmt.Printf("Tracked chunks: %d\n", len(chunks))
	for _, c := range chunks {
		fmt.Printf("  %s  %-9s  replicas %d/%d\n", c.ChunkID, c.State, len(c.Replicas), c.QuorumN)
	}

	held, err := n.HeldRecords()
	if err != nil {
		return err
	}
	fmt.Printf("Held records:   %d\n", len(held))
	for _, id := range held {
		fmt.Printf("  %s\n", id)
	}
	return nil
}
