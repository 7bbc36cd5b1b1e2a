package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
	"github.com/holdfast-net/holdfast/internal/node"
	"github.com/holdfast-net/holdfast/internal/replicate"
	"github.com/holdfast-net/holdfast/internal/transport"
)

var storeCmd = &cobra.Command{
	Use:   "store [file]",
	Short: "Encrypt a file and replicate it to the federation",
	Long: `Encrypt a file under the node key and replicate the resulting chunk
to quorum holders. Reads stdin when no file is given.

The chunk id printed on success is the only handle to the data; the
local envelope copy lets retrieval skip the network while it lasts.`,
	Example: `  holdfast store secrets.tar
  tar cz ~/documents | holdfast store --ttl 720h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runners.Node().Wrap(runStore),
}

func init() {
	storeCmd.Flags().Duration("ttl", 0, "Holder retention hint (0 = node default)")
	rootCmd.AddCommand(storeCmd)
}

// ownerNode builds a one-shot owner-role node over the in-process bus.
func ownerNode(ctx *runner.CommandContext) (*node.Node, func(), error) {
	ks, err := ctx.Keystore()
	if err != nil {
		return nil, nil, err
	}
	bus := transport.NewMemBus()
	n, err := node.New(node.Options{
		Config:   ctx.Config,
		Keystore: ks,
		Bus:      bus,
		Owner:    true,
	})
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	cleanup := func() {
		n.Close()
		bus.Close()
	}
	return n, cleanup, nil
}

func runStore(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	ttl := flags.Duration("ttl")
	if err := flags.Err(); err != nil {
		return err
	}

	var plaintext []byte
	var err error
	if len(args) == 1 {
		plaintext, err = os.ReadFile(args[0])
	} else {
		plaintext, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if len(plaintext) == 0 {
		return fmt.Errorf("refusing to store empty input")
	}

	n, cleanup, err := ownerNode(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	chunkID, err := n.StoreChunk(cmd.Context(), plaintext, ttl)
	if errors.Is(err, replicate.ErrUnderReplicated) {
		fmt.Printf("%s\n", chunkID)
		fmt.Fprintln(os.Stderr, "warning: quorum not reached; chunk stored locally, replication will be retried by audits")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", chunkID)
	return nil
}
