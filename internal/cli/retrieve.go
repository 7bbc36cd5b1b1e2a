package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <chunk-id>",
	Short: "Recover a chunk's plaintext",
	Long: `Recover a chunk by id. The local envelope copy is used when present;
otherwise the ownership proof is re-derived from the node key and the
federation is asked for the chunk.`,
	Example: `  holdfast retrieve 3a1f...c9 > secrets.tar
  holdfast retrieve 3a1f...c9 --output secrets.tar`,
	Args: cobra.ExactArgs(1),
	RunE: runners.Node().Wrap(runRetrieve),
}

func init() {
	retrieveCmd.Flags().StringP("output", "o", "", "Write plaintext to file instead of stdout")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	output := flags.String("output")
	if err := flags.Err(); err != nil {
		return err
	}

	n, cleanup, err := ownerNode(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	plaintext, err := n.RetrieveChunk(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if output != "" {
		if err := os.WriteFile(output, plaintext, 0600); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		return nil
	}
	_, err = os.Stdout.Write(plaintext)
	return err
}
