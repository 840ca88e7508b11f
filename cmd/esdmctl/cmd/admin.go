package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"esdmd/internal/security"
)

var (
	seedFile string
	seedBits uint32
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert entropy into the auxiliary pool (privileged)",
	Long: `Insert data into the auxiliary pool, crediting the given number of
entropy bits. In SP800-90C operation, credit more than zero bits only
for data that originates from an SP800-90B entropy source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if seedFile == "-" || seedFile == "" {
			data, err = io.ReadAll(io.LimitReader(os.Stdin, 1<<16))
		} else {
			data, err = os.ReadFile(seedFile)
		}
		if err != nil {
			return err
		}
		defer security.Wipe(data)
		if len(data) == 0 {
			return fmt.Errorf("no seed data")
		}

		c, err := dialPriv()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.InsertAux(data, seedBits); err != nil {
			return err
		}
		fmt.Printf("inserted %d bytes, credited %d bits\n", len(data), seedBits)
		return nil
	},
}

var forceReseedCmd = &cobra.Command{
	Use:   "force-reseed",
	Short: "Latch a reseed on all DRNG instances (privileged)",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dialPriv()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.ForceReseed()
	},
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Adjust runtime tunables (privileged)",
}

var setWriteWakeupCmd = &cobra.Command{
	Use:   "write-wakeup-bits <bits>",
	Short: "Set the writer wakeup threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid value %q", args[0])
		}
		c, err := dialPriv()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.SetWriteWakeupBits(uint32(v))
	},
}

var setReseedMaxTimeCmd = &cobra.Command{
	Use:   "reseed-max-time <seconds>",
	Short: "Set the maximum DRNG seed age",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid value %q", args[0])
		}
		c, err := dialPriv()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.SetReseedMaxTime(uint32(v))
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "-", "seed data file, - for stdin")
	seedCmd.Flags().Uint32Var(&seedBits, "bits", 0, "entropy bits to credit")
	setCmd.AddCommand(setWriteWakeupCmd, setReseedMaxTimeCmd)
	RootCmd.AddCommand(seedCmd, forceReseedCmd, setCmd)
}
