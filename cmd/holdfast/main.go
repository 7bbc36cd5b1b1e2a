// Holdfast - trustless federated chunk storage
package main

import (
	"github.com/awnumar/memguard"

	"github.com/holdfast-net/holdfast/internal/cli"
	"github.com/holdfast-net/holdfast/internal/logging"
)

var version = "0.1.0"

func main() {
	// Wipe key enclaves on interrupt and at exit.
	memguard.CatchInterrupt()
	defer memguard.Purge()

	cli.SetVersion(version)
	cli.Execute()

	_ = logging.Sync()
}
