package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/session"
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Test the gateway connection",
	Long: `Connect to the gateway, wait for the handshake and print the session
details.

Examples:
  ibsession connect
  ibsession connect --sim`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Connected to %s:%d (%s)\n", cfg.Gateway.Host, cfg.Port(), cfg.Gateway.Mode)
		fmt.Fprintf(out, "  Client ID:     %d\n", s.ClientID())
		fmt.Fprintf(out, "  Next order ID: %d\n", s.NextOrderID())
		fmt.Fprintf(out, "  Accounts:      %s\n", strings.Join(s.ManagedAccounts(), ", "))
		return nil
	})
}
