package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"esdmd/internal/rpc"
	"esdmd/internal/status"
)

var statusLocal bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon status report",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusLocal {
			snap, err := status.Read(statusDir)
			if err != nil {
				return err
			}
			fmt.Printf("operational: %t\nfully seeded: %t\nsp80090c: %t\n"+
				"available entropy: %d bits\nDRNG generation: %d\n",
				snap.Operational, snap.FullySeeded, snap.SP80090C,
				snap.AvailEntropy, snap.Generation)
			return nil
		}

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		text, err := c.Status()
		if err != nil {
			return err
		}
		fmt.Print(text)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and daemon versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("esdmctl %s\n", Version)

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		v, err := c.Version()
		if err != nil {
			return err
		}
		fmt.Printf("esdmd %s\n", v)
		return nil
	},
}

var isFullySeededCmd = &cobra.Command{
	Use:   "is-fully-seeded",
	Short: "Report the seeding state flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		s, err := c.IsFullySeeded()
		if err != nil {
			return err
		}
		fmt.Printf("fully seeded: %t\nminimally seeded: %t\noperational: %t\n",
			s.FullySeeded, s.MinSeeded, s.Operational)
		return nil
	},
}

var entropyCmd = &cobra.Command{
	Use:   "entropy",
	Short: "Show the entropy accounting",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		type row struct {
			label  string
			method uint32
		}
		rows := []row{
			{"available entropy", rpc.MethodAvailEntropy},
			{"auxiliary pool entropy", rpc.MethodAvailEntropyAux},
			{"auxiliary pool size", rpc.MethodAvailPoolsizeAux},
			{"write wakeup threshold", rpc.MethodGetWriteWakeupBits},
			{"max seed age (s)", rpc.MethodGetReseedMaxTime},
		}
		for _, r := range rows {
			v, err := c.Value(r.method)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d\n", r.label, v)
		}
		return nil
	},
}

var waitReadyCmd = &cobra.Command{
	Use:   "wait-ready",
	Short: "Block until the daemon signals readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return status.WaitReady(cmd.Context(), statusDir)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusLocal, "local", false,
		"read the shared status segment instead of asking the daemon")
	RootCmd.AddCommand(statusCmd, versionCmd, isFullySeededCmd, entropyCmd, waitReadyCmd)
}
