package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"vpnfleet/cli/pkg/client"
)

type keyLinkView struct {
	*client.KeyLink
	endpoint string
}

func (v keyLinkView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Key ID:   %s\nShort ID: %s\nArchive:  %s%s\nPage:     %s%s\nConfigs:  %s%s\n",
		v.KeyID, v.ShortID,
		v.endpoint, v.KeyURL,
		v.endpoint, v.ViewURL,
		v.endpoint, v.URIURL)
	return err
}

var keylinkCmd = &cobra.Command{
	Use:   "keylink",
	Short: "Issue and revoke key links",
}

var keylinkCreateCmd = &cobra.Command{
	Use:   "create <org-id> <user-id>",
	Short: "Issue a key link for a user",
	Long:  "Issue a bearer link that lets a user download their key configuration without logging in.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		link, err := newClient().CreateKeyLink(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to create key link: %w", err)
		}
		return render(cmd, keyLinkView{KeyLink: link, endpoint: GetConfig().Manager.Endpoint})
	},
}

var keylinkRevokeCmd = &cobra.Command{
	Use:   "revoke <short-id>",
	Short: "Revoke a key link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().RevokeKeyLink(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("failed to revoke key link: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Key link %s revoked\n", args[0])
		return nil
	},
}

func init() {
	keylinkCmd.AddCommand(keylinkCreateCmd)
	keylinkCmd.AddCommand(keylinkRevokeCmd)
	rootCmd.AddCommand(keylinkCmd)
}
