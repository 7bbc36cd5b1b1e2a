package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/audit"
	"github.com/holdfast-net/holdfast/internal/cli/runner"
)

var auditCmd = &cobra.Command{
	Use:   "audit [chunk-id]",
	Short: "Challenge holders to prove they still store chunks",
	Long: `Run one audit round. With a chunk id, audits that chunk; without,
audits every tracked chunk that is currently quorate or degraded.

Holders that fail or ignore the challenge are dropped from the replica
set, and under-quorum chunks are re-replicated to fresh holders.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runners.Node().Wrap(runAudit),
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func printResult(r *audit.Result) {
	fmt.Printf("%s  valid=%d invalid=%d state=%s", r.ChunkID, len(r.Valid), len(r.Invalid), r.State)
	if r.Healed {
		fmt.Print("  (healed)")
	}
	fmt.Println()
}

func runAudit(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	n, cleanup, err := ownerNode(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if len(args) == 1 {
		result, err := n.AuditChunk(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printResult(result)
		return nil
	}

	results := n.AuditAll(cmd.Context())
	if len(results) == 0 {
		fmt.Println("nothing to audit")
		return nil
	}
	for _, r := range results {
		printResult(r)
	}
	return nil
}
