package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/orders"
	"github.com/rustyeddy/ibsession/risk"
)

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Position size calculator",
	Long: `Size a position so that hitting the stop loses a fixed share of the
account, and print the R-multiple target ladder.

The stop is either given directly or derived from a percentage, an ATR
multiple or a fixed dollar amount per share.

Examples:
  ibsession size --account 100000 --entry 50 --stop 48
  ibsession size --account 100000 --entry 50 --atr 1.2 --risk 0.5
  ibsession size --account 50000 --entry 30 --stop-pct 3 --side SELL`,
	Args: cobra.NoArgs,
	RunE: runSize,
}

type stopFlags struct {
	stop       float64
	stopPct    float64
	atr        float64
	multiplier float64
	dollar     float64
}

func (f *stopFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.stop, "stop", 0, "stop price")
	cmd.Flags().Float64Var(&f.stopPct, "stop-pct", 0, "stop distance in percent of entry")
	cmd.Flags().Float64Var(&f.atr, "atr", 0, "ATR to place the stop from")
	cmd.Flags().Float64Var(&f.multiplier, "atr-mult", 0, "ATR multiple (default from config)")
	cmd.Flags().Float64Var(&f.dollar, "stop-dollar", 0, "stop distance in dollars per share")
}

// resolve returns the stop price, or zero when no stop was asked for.
func (f *stopFlags) resolve(entry float64, action orders.Action) (float64, error) {
	switch {
	case f.stop > 0:
		return f.stop, nil
	case f.stopPct > 0:
		return risk.StopFromPercent(entry, f.stopPct, action)
	case f.atr > 0:
		mult := f.multiplier
		if mult <= 0 {
			mult = cfg.Risk.ATRMultiplier
		}
		return risk.StopFromATR(entry, f.atr, mult, action)
	case f.dollar > 0:
		return risk.StopFromDollar(entry, f.dollar, action)
	}
	return 0, nil
}

var (
	sizeAccount float64
	sizeEntry   float64
	sizeRisk    float64
	sizeSide    string
	sizeStops   stopFlags
)

func init() {
	rootCmd.AddCommand(sizeCmd)

	sizeCmd.Flags().Float64Var(&sizeAccount, "account", 0, "account value (required)")
	sizeCmd.Flags().Float64Var(&sizeEntry, "entry", 0, "entry price (required)")
	sizeCmd.Flags().Float64Var(&sizeRisk, "risk", 0, "risk per trade in percent (default from config)")
	sizeCmd.Flags().StringVar(&sizeSide, "side", "BUY", "BUY or SELL")
	sizeStops.register(sizeCmd)
	sizeCmd.MarkFlagRequired("account")
	sizeCmd.MarkFlagRequired("entry")
}

func runSize(cmd *cobra.Command, args []string) error {
	action, err := orders.ParseAction(sizeSide)
	if err != nil {
		return err
	}
	stop, err := sizeStops.resolve(sizeEntry, action)
	if err != nil {
		return err
	}
	if stop == 0 {
		return fmt.Errorf("a stop is required: --stop, --stop-pct, --atr or --stop-dollar")
	}

	pct := sizeRisk
	if pct <= 0 {
		pct = cfg.Risk.RiskPercent
	}
	res, err := risk.Calculate(risk.Inputs{
		AccountValue: sizeAccount,
		RiskPct:      pct,
		EntryPrice:   sizeEntry,
		StopPrice:    stop,
		RMultiples:   cfg.Risk.RMultiples,
	})
	if err != nil {
		return err
	}

	printSizing(cmd.OutOrStdout(), action, sizeEntry, stop, pct, res)
	return nil
}

func printSizing(out io.Writer, action orders.Action, entry, stop, pct float64, res risk.Result) {
	fmt.Fprintf(out, "%s %d shares @ %.2f, stop %.2f\n", action, res.Shares, entry, stop)
	fmt.Fprintf(out, "  Risk:           %.2f%% = $%.2f\n", pct, res.RiskAmount)
	fmt.Fprintf(out, "  Risk per share: $%.2f\n", res.RiskPerShare)
	fmt.Fprintf(out, "  Max loss:       $%.2f\n", res.MaxLoss)
	fmt.Fprintf(out, "  Position:       $%.2f (%.1f%% of account)\n", res.PositionValue, res.PositionPct)
	fmt.Fprintln(out, "  Targets:")
	for _, t := range res.Targets {
		fmt.Fprintf(out, "    %gR  %10.2f  +$%.2f\n", t.R, t.Price, t.Profit)
	}
}
