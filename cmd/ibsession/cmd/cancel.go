package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/session"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <ORDER_ID>",
	Short: "Cancel an open order",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
	orderID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || orderID <= 0 {
		return fmt.Errorf("invalid order id %q", args[0])
	}
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		if err := s.CancelOrder(ctx, orderID); err != nil {
			return fmt.Errorf("cancel %d: %w", orderID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Cancel sent for order %d\n", orderID)
		return nil
	})
}
