package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
)

var abandonCmd = &cobra.Command{
	Use:   "abandon <chunk-id>",
	Short: "Delete a chunk locally and ask holders to drop it",
	Long: `Abandon a chunk: delete the local envelope, mark the chunk abandoned
in the index, and publish a proof-gated delete request so holders can
drop their records. Holders are not obligated to comply; the chunk is
simply no longer the owner's concern.`,
	Args: cobra.ExactArgs(1),
	RunE: runners.Node().Wrap(runAbandon),
}

func init() {
	rootCmd.AddCommand(abandonCmd)
}

func runAbandon(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	n, cleanup, err := ownerNode(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := n.AbandonChunk(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("abandoned %s\n", args[0])
	return nil
}
