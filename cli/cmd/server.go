package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"vpnfleet/cli/pkg/output"
	"vpnfleet/core/domain"
)

type serverView struct {
	*domain.Server
}

func (v serverView) RenderText(w io.Writer) error {
	return output.Table(w, serverHeader, [][]string{serverRow(v.Server)})
}

type serverListView []*domain.Server

func (v serverListView) RenderText(w io.Writer) error {
	rows := make([][]string, 0, len(v))
	for _, s := range v {
		rows = append(rows, serverRow(s))
	}
	return output.Table(w, serverHeader, rows)
}

var serverHeader = []string{"ID", "NAME", "STATUS", "NETWORK", "INTERFACE", "PORT", "LINKS"}

func serverRow(s *domain.Server) []string {
	links := make([]string, 0, len(s.Links))
	for _, e := range s.Links {
		links = append(links, e.ServerID)
	}
	return []string{
		s.ID, s.Name, string(s.Status), s.Network, s.Interface,
		strconv.Itoa(s.Port) + "/" + string(s.Protocol),
		strings.Join(links, ","),
	}
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Server management commands",
	Long:  "Commands for listing, starting and stopping VPN servers",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		servers, err := newClient().ListServers(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list servers: %w", err)
		}
		return render(cmd, serverListView(servers))
	},
}

var serverStartCmd = &cobra.Command{
	Use:   "start <server-id>",
	Short: "Start a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := newClient().StartServer(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return render(cmd, serverView{srv})
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop <server-id>",
	Short: "Stop a server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := newClient().StopServer(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return render(cmd, serverView{srv})
	},
}

func init() {
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStopCmd)
	rootCmd.AddCommand(serverCmd)
}
