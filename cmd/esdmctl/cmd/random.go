package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"esdmd/internal/rpc"
)

var (
	randomFull bool
	randomMin  bool
	randomPR   bool
	randomRaw  bool
)

var randomCmd = &cobra.Command{
	Use:   "random <bytes>",
	Short: "Fetch random bytes from the daemon",
	Long: `Fetch random bytes at one of the four seeding guarantee levels:
the default is best-effort; --min and --full wait for the respective
seeding level, --pr forces a fresh reseed per request and may return
fewer bytes than asked for (prediction resistance).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid byte count %q", args[0])
		}

		method := rpc.MethodGetRandomBytes
		switch {
		case randomPR:
			method = rpc.MethodGetRandomBytesPR
		case randomFull:
			method = rpc.MethodGetRandomBytesFull
		case randomMin:
			method = rpc.MethodGetRandomBytesMin
		}

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		out, err := c.GetRandomBytes(method, uint32(n))
		if err != nil {
			return err
		}

		if randomRaw {
			_, err = os.Stdout.Write(out)
			return err
		}
		fmt.Println(hex.EncodeToString(out))
		return nil
	},
}

func init() {
	randomCmd.Flags().BoolVar(&randomFull, "full", false, "require the fully seeded level")
	randomCmd.Flags().BoolVar(&randomMin, "min", false, "require the minimally seeded level")
	randomCmd.Flags().BoolVar(&randomPR, "pr", false, "prediction-resistant output")
	randomCmd.Flags().BoolVar(&randomRaw, "raw", false, "write raw bytes instead of hex")
	randomCmd.MarkFlagsMutuallyExclusive("full", "min", "pr")
	RootCmd.AddCommand(randomCmd)
}
