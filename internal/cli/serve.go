package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/holdfast-net/holdfast/internal/cli/runner"
	"github.com/holdfast-net/holdfast/internal/logging"
	"github.com/holdfast-net/holdfast/internal/node"
	"github.com/holdfast-net/holdfast/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the node (holder and/or owner roles)",
	Long: `Run the holdfast node until interrupted.

The node subscribes to the protocol topics and serves store, retrieve,
proof, and delete traffic. With the holder role it donates local disk
to the federation; with the owner role it answers ACKs and proofs for
its own chunks and, when an audit interval is configured, re-validates
them in the background.`,
	RunE: runners.Node().Wrap(runServe),
}

func init() {
	f := serveCmd.Flags()
	f.Bool("holder-only", false, "Serve storage for others but own no chunks")
	f.Bool("owner-only", false, "Track own chunks but donate no storage")

	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	holderOnly := flags.Bool("holder-only")
	ownerOnly := flags.Bool("owner-only")
	if err := flags.Err(); err != nil {
		return err
	}
	if holderOnly && ownerOnly {
		return fmt.Errorf("--holder-only and --owner-only are mutually exclusive")
	}

	ks, err := ctx.Keystore()
	if err != nil {
		return err
	}

	// In-process bus; a broker-backed transport.Bus plugs in here.
	bus := transport.NewMemBus()
	defer bus.Close()

	n, err := node.New(node.Options{
		Config:   ctx.Config,
		Keystore: ks,
		Bus:      bus,
		Owner:    !holderOnly,
		Holder:   !ownerOnly,
	})
	if err != nil {
		return err
	}

	fmt.Printf("holdfast node %s running (owner=%v holder=%v)\n", n.NodeID(), !holderOnly, !ownerOnly)
	fmt.Println("Press Ctrl+C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logging.Info("shutting down")
	return n.Close()
}
