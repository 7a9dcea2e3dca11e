package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var linkUseLocalAddress bool

var linkCmd = &cobra.Command{
	Use:   "link <server-id> <peer-id>",
	Short: "Link two servers",
	Long: `Link two servers so that clients of one can reach the other. Both servers
must be offline, neither may be replicated, and they may not share a host.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := newClient().Link(cmd.Context(), args[0], args[1], linkUseLocalAddress)
		if err != nil {
			return fmt.Errorf("failed to link servers: %w", err)
		}
		return render(cmd, serverView{srv})
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <server-id> <peer-id>",
	Short: "Remove the link between two servers",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Unlink(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to unlink servers: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Servers %s and %s unlinked\n", args[0], args[1])
		return nil
	},
}

func init() {
	linkCmd.Flags().BoolVar(&linkUseLocalAddress, "use-local-address", false, "route over the peer's local address")
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(unlinkCmd)
}
