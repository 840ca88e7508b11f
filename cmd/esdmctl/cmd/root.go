// Package cmd implements the esdmctl command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"esdmd/internal/config"
	"esdmd/internal/rpc"
)

// Version information (set via ldflags during build)
var Version = "dev"

var (
	socketPath     string
	privSocketPath string
	statusDir      string
)

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   "esdmctl",
	Short: "Control and query the ESDM daemon",
	Long: `esdmctl talks to the esdmd daemon over its RPC sockets: it fetches
random bytes at the four seeding guarantee levels, inspects the entropy
accounting, and - through the privileged socket - feeds the auxiliary
pool and adjusts runtime tunables.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "esdmctl: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&socketPath, "socket",
		config.DefaultUnprivSocketPath, "path of the unprivileged RPC socket")
	RootCmd.PersistentFlags().StringVar(&privSocketPath, "priv-socket",
		config.DefaultPrivSocketPath, "path of the privileged RPC socket")
	RootCmd.PersistentFlags().StringVar(&statusDir, "status-dir",
		"/dev/shm", "directory of the shared status segment")
}

// dial connects to the unprivileged socket.
func dial() (*rpc.Client, error) {
	return rpc.Dial(socketPath)
}

// dialPriv connects to the privileged socket.
func dialPriv() (*rpc.Client, error) {
	return rpc.Dial(privSocketPath)
}
