package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/indicators"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/session"
)

var quoteCmd = &cobra.Command{
	Use:   "quote <SYMBOL>",
	Short: "Snapshot quote with volatility",
	Long: `Print a snapshot quote and the ATR of recent daily bars.

Examples:
  ibsession quote AAPL
  ibsession quote BHP --exchange ASX`,
	Args: cobra.ExactArgs(1),
	RunE: runQuote,
}

var streamCmd = &cobra.Command{
	Use:   "stream <SYMBOL>",
	Short: "Print live ticks until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runStream,
}

var historyCmd = &cobra.Command{
	Use:   "history <SYMBOL>",
	Short: "Historical bars with a volatility summary",
	Long: `Fetch historical bars and summarise their volatility.

Examples:
  ibsession history AAPL
  ibsession history AAPL --duration "1 M" --bar-size "1 day"`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var history broker.HistoryParams

func init() {
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(historyCmd)

	def := broker.DefaultHistory()
	historyCmd.Flags().StringVar(&history.Duration, "duration", def.Duration, "lookback, e.g. \"5 D\", \"1 M\"")
	historyCmd.Flags().StringVar(&history.BarSize, "bar-size", def.BarSize, "bar size, e.g. \"1 day\", \"1 hour\"")
	historyCmd.Flags().StringVar(&history.WhatToShow, "what", def.WhatToShow, "TRADES or MIDPOINT")
	historyCmd.Flags().StringVar(&history.EndDateTime, "end", "", "end date time; empty means now")
	historyCmd.Flags().BoolVar(&history.UseRTH, "rth", def.UseRTH, "regular trading hours only")
}

func runQuote(cmd *cobra.Command, args []string) error {
	inst := instrument(args[0])
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		snap, err := s.Snapshot(ctx, inst)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", inst, err)
		}
		out := cmd.OutOrStdout()
		printSnapshot(out, inst, snap)

		res, err := s.HistoricalBars(ctx, inst, broker.DefaultHistory())
		if err != nil {
			log.WithComponent("cli").WithError(err).Warn("volatility unavailable")
			return nil
		}
		v := res.Volatility
		fmt.Fprintf(out, "  ATR(%d):  %.2f (%.2f%% of price, %d bars)\n",
			v.Period, v.ATR, v.ATRPercent(snap.Reference()), v.Bars)
		return nil
	})
}

func printSnapshot(out io.Writer, inst market.Instrument, p market.PriceSnapshot) {
	fmt.Fprintf(out, "%s\n", inst)
	fmt.Fprintf(out, "  Bid/Ask: %.2f / %.2f (spread %.2f)\n", p.Bid, p.Ask, p.Spread())
	fmt.Fprintf(out, "  Last:    %.2f x %.0f\n", p.Last, p.LastSize)
	fmt.Fprintf(out, "  Range:   %.2f - %.2f\n", p.Low, p.High)
	fmt.Fprintf(out, "  Close:   %.2f (%+.2f%%)\n", p.Close, p.ChangePct())
	fmt.Fprintf(out, "  Volume:  %.0f\n", p.Volume)
}

func runStream(cmd *cobra.Command, args []string) error {
	inst := instrument(args[0])
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		st, err := s.MarketData(ctx, inst)
		if err != nil {
			return fmt.Errorf("stream %s: %w", inst, err)
		}
		defer st.Cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Streaming %s (ctrl-c to stop)\n", inst)
		for {
			select {
			case <-ctx.Done():
				if n := st.Dropped(); n > 0 {
					fmt.Fprintf(out, "%d ticks dropped\n", n)
				}
				return nil
			case ev, ok := <-st.C():
				if !ok {
					return st.Err()
				}
				switch e := ev.(type) {
				case broker.TickPrice:
					fmt.Fprintf(out, "%-6s %.2f\n", e.Field, e.Price)
				case broker.TickSize:
					fmt.Fprintf(out, "%-6s %.0f\n", e.Field, e.Size)
				}
			}
		}
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	inst := instrument(args[0])
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		res, err := s.HistoricalBars(ctx, inst, history)
		if err != nil {
			return fmt.Errorf("history %s: %w", inst, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s %s bars over %s\n", inst, history.BarSize, history.Duration)
		fmt.Fprintf(out, "%-20s %10s %10s %10s %10s %12s %8s\n", "DATE", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME", "ATR")
		fmt.Fprintln(out, strings.Repeat("-", 86))
		atr := indicators.NewRollingATR(cfg.Risk.ATRPeriod)
		for _, b := range res.Series.Bars {
			atr.Update(b)
			fmt.Fprintf(out, "%-20s %10.2f %10.2f %10.2f %10.2f %12.0f %8.2f\n",
				b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, atr.Value())
		}

		v := res.Volatility
		fmt.Fprintf(out, "\nATR(%d): %.2f  StdDev: %.2f  Range: %.2f\n", v.Period, v.ATR, v.StdDev, v.Range)
		if chg, ok := res.Series.Change(); ok {
			fmt.Fprintf(out, "Change: %+.2f%%\n", chg)
		}
		return nil
	})
}
