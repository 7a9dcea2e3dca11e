package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vpnfleet/cli/pkg/client"
	"vpnfleet/cli/pkg/config"
	"vpnfleet/cli/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "VPN fleet operator and client CLI",
	Long: `A command-line interface for the VPN fleet manager. Operators use it to
start, stop and link servers and to issue key links; VPN clients use it to
resynchronize their key configuration with a signed request.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fleetctl/config.yaml)")
	rootCmd.PersistentFlags().String("endpoint", "", "manager URL")
	rootCmd.PersistentFlags().String("token", "", "admin JWT for authentication")
	output.AddFormatFlag(rootCmd)

	viper.BindPFlag("manager.endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("auth.token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func GetConfig() *config.Config {
	return cfg
}

func newClient() *client.Client {
	return client.New(GetConfig())
}

// render prints v in the format selected by --output.
func render(cmd *cobra.Command, v any) error {
	format, err := output.GetFormatFromCmd(cmd)
	if err != nil {
		return err
	}
	f := output.New(format)
	f.SetWriter(cmd.OutOrStdout())
	return f.Output(v)
}
