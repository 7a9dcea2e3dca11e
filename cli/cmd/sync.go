package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"vpnfleet/cli/pkg/client"
)

var (
	syncKeyHash string
	syncOutFile string
)

var syncCmd = &cobra.Command{
	Use:   "sync <org-id> <user-id> <server-id>",
	Short: "Resynchronize a key configuration",
	Long: `Send a signed key sync request using the configured sync token and secret.
The configuration is written to stdout, or to --out. Nothing is written when
--key-hash matches the configuration the manager currently holds.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, err := newClient().SyncKey(cmd.Context(), client.SyncRequest{
			OrgID:    args[0],
			UserID:   args[1],
			ServerID: args[2],
			KeyHash:  syncKeyHash,
		})
		if err != nil {
			return fmt.Errorf("key sync failed: %w", err)
		}
		if conf == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "Key configuration is up to date")
			return nil
		}

		if syncOutFile == "" {
			_, err = io.WriteString(cmd.OutOrStdout(), conf)
			return err
		}
		if err := os.WriteFile(syncOutFile, []byte(conf), 0600); err != nil {
			return fmt.Errorf("failed to write %s: %w", syncOutFile, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Key configuration written to %s\n", syncOutFile)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&syncKeyHash, "key-hash", "", "hash of the configuration already held")
	syncCmd.Flags().StringVar(&syncOutFile, "out", "", "write the configuration to this file")
	rootCmd.AddCommand(syncCmd)
}
