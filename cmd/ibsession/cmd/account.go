package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/session"
	"github.com/rustyeddy/ibsession/state"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account summary and positions",
	Args:  cobra.NoArgs,
	RunE:  runAccount,
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List open orders",
	Args:  cobra.NoArgs,
	RunE:  runOrders,
}

var accountGroup string

func init() {
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(ordersCmd)

	accountCmd.Flags().StringVar(&accountGroup, "group", "All", "account group")
}

func runAccount(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		values, err := s.AccountSummary(ctx, accountGroup, broker.DefaultAccountTags)
		if err != nil {
			return fmt.Errorf("account summary: %w", err)
		}
		positions, err := s.Positions(ctx)
		if err != nil {
			return fmt.Errorf("positions: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Account summary")
		for _, v := range values {
			fmt.Fprintf(out, "  %-12s %-32s %16s %s\n", v.Account, v.Tag, v.Value, v.Currency)
		}

		fmt.Fprintf(out, "\nPositions (%d)\n", len(positions))
		for _, p := range positions {
			fmt.Fprintf(out, "  %-12s %-16s %10.0f @ %.2f\n", p.Account, p.Instrument, p.Quantity, p.AvgCost)
		}
		return nil
	})
}

func runOrders(cmd *cobra.Command, args []string) error {
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		open, err := s.OpenOrders(ctx)
		if err != nil {
			return fmt.Errorf("open orders: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(open) == 0 {
			fmt.Fprintln(out, "No open orders")
			return nil
		}
		for _, o := range open {
			fmt.Fprintf(out, "%6d  %-16s %-12s %s\n", o.OrderID, o.Instrument, o.Status, o.Order)
		}
		return nil
	})
}

// accountTag reads one numeric summary value.
func accountTag(values []state.AccountValue, tag string) (float64, bool) {
	for _, v := range values {
		if v.Tag != tag {
			continue
		}
		x, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return 0, false
		}
		return x, true
	}
	return 0, false
}
