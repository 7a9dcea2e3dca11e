package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vpnfleet/manager/pkg/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
	tokenSave    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin token",
	Long: `Mint an admin JWT locally from the manager's shared secret (auth.jwt_secret
or FLEET_AUTH_JWT_SECRET). With --save the token is stored in the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("no JWT secret configured")
		}

		token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, tokenTTL).GenerateToken(tokenSubject)
		if err != nil {
			return fmt.Errorf("failed to mint token: %w", err)
		}

		if !tokenSave {
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		}
		cfg.Auth.Token = token
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token for %s saved, valid for %s\n", tokenSubject, tokenTTL)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "store the token in the config file")
	rootCmd.AddCommand(tokenCmd)
}
