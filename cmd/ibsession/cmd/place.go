package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/ibsession/journal"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
	"github.com/rustyeddy/ibsession/risk"
	"github.com/rustyeddy/ibsession/session"
	"github.com/rustyeddy/ibsession/state"
)

var placeCmd = &cobra.Command{
	Use:   "place <SYMBOL>",
	Short: "Place an order or bracket",
	Long: `Compose an order plan, check it against the risk policy, submit it and
wait for the gateway to acknowledge each order.

Order types: mkt, lmt, stp, stplmt, trail, bracket.

When --qty is omitted the position is sized from the account's net
liquidation value, --risk and the stop. A bracket without --target aims
for --target-r risk units.

Examples:
  ibsession place AAPL --type lmt --qty 10 --limit 189.50
  ibsession place AAPL --type bracket --limit 190 --stop 185 --target 200
  ibsession place BHP --exchange ASX --type bracket --atr 0.8 --risk 0.5
  ibsession place MSFT --type trail --qty 20 --side SELL --trail-pct 2`,
	Args: cobra.ExactArgs(1),
	RunE: runPlace,
}

var (
	placeType        string
	placeSide        string
	placeQty         int64
	placeLimit       float64
	placeTrigger     float64
	placeTarget      float64
	placeTargetR     float64
	placeTrailAmount float64
	placeTrailPct    float64
	placeRisk        float64
	placeForce       bool
	placeWait        time.Duration
	placeNote        string
	placeStops       stopFlags
)

var placeTypes = map[string]int{
	"mkt":     1,
	"lmt":     1,
	"stp":     1,
	"stplmt":  1,
	"trail":   1,
	"bracket": 3,
}

func init() {
	rootCmd.AddCommand(placeCmd)

	f := placeCmd.Flags()
	f.StringVarP(&placeType, "type", "t", "mkt", "order type: mkt, lmt, stp, stplmt, trail, bracket")
	f.StringVar(&placeSide, "side", "BUY", "BUY or SELL")
	f.Int64VarP(&placeQty, "qty", "q", 0, "shares; zero sizes from --risk and the stop")
	f.Float64Var(&placeLimit, "limit", 0, "limit price (lmt, stplmt, bracket entry)")
	f.Float64Var(&placeTrigger, "trigger", 0, "stop trigger price (stp, stplmt)")
	f.Float64Var(&placeTarget, "target", 0, "bracket take-profit price")
	f.Float64Var(&placeTargetR, "target-r", 2, "bracket target in risk units when --target is omitted")
	f.Float64Var(&placeTrailAmount, "trail-amount", 0, "trailing distance in price")
	f.Float64Var(&placeTrailPct, "trail-pct", 0, "trailing distance in percent")
	f.Float64Var(&placeRisk, "risk", 0, "risk per trade in percent (default from config)")
	f.BoolVar(&placeForce, "force", false, "submit even when the risk policy objects")
	f.DurationVar(&placeWait, "wait", 5*time.Second, "how long to wait for each order's acknowledgement")
	f.StringVar(&placeNote, "note", "", "free-form journal note")
	placeStops.register(placeCmd)
}

func policy() risk.Policy {
	return risk.Policy{
		DefaultRiskPct:   cfg.Risk.RiskPercent,
		MaxRiskPct:       cfg.Risk.MaxRiskPercent,
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MaxPositionPct:   cfg.Risk.MaxPositionPct,
		MinRR:            cfg.Risk.MinRR,
	}
}

func runPlace(cmd *cobra.Command, args []string) error {
	inst := instrument(args[0])
	kind := strings.ToLower(placeType)
	nodes, ok := placeTypes[kind]
	if !ok {
		return fmt.Errorf("unknown order type %q", placeType)
	}
	action, err := orders.ParseAction(placeSide)
	if err != nil {
		return err
	}
	tif, err := orders.ParseTIF(cfg.Orders.TimeInForce)
	if err != nil {
		return err
	}

	j, err := journal.Open(cfg.Journal.Type, cfg.Journal.PlansFile, cfg.Journal.StatusFile, cfg.Journal.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer j.Close()

	out := cmd.OutOrStdout()
	return withSession(cmd, func(ctx context.Context, s *session.Session) error {
		acct, err := accountSnapshot(ctx, s)
		if err != nil {
			return err
		}

		ref, err := referencePrice(ctx, s, inst, kind)
		if err != nil {
			return err
		}
		stop, err := placeStops.resolve(ref, action)
		if err != nil {
			return err
		}

		qty := placeQty
		if qty == 0 {
			if stop == 0 {
				return fmt.Errorf("--qty or a stop to size from is required")
			}
			pct := placeRisk
			if pct <= 0 {
				pct = cfg.Risk.RiskPercent
			}
			if qty, err = risk.PositionSize(acct.NetLiquidation, pct, ref, stop); err != nil {
				return err
			}
			fmt.Fprintf(out, "Sized %d shares at %.2f%% risk of $%.2f\n", qty, pct, acct.NetLiquidation)
		}

		target := placeTarget
		if kind == "bracket" && target == 0 && stop > 0 {
			if target, err = risk.RMultipleTarget(ref, stop, placeTargetR); err != nil {
				return err
			}
		}

		base, err := s.ReserveOrderIDs(nodes)
		if err != nil {
			return err
		}
		plan, err := compose(orders.NewComposer(tif), kind, base, action, qty, ref, stop, target)
		if err != nil {
			return err
		}

		d := risk.Evaluate(policy(), risk.TradeIntent{
			Instrument: inst,
			Action:     action,
			Shares:     qty,
			Entry:      ref,
			Stop:       stop,
			Target:     target,
		}, acct)
		printDecision(out, d)
		if !d.Allowed && !placeForce {
			return fmt.Errorf("risk policy rejected the order (use --force to override)")
		}

		for _, n := range plan.Nodes {
			fmt.Fprintf(out, "  %s\n", n)
		}

		ticket, err := s.Submit(ctx, inst, plan)
		if err != nil {
			var se *session.SubmitError
			if errors.As(err, &se) && len(se.Sent) > 0 {
				fmt.Fprintf(out, "! orders %v were sent before order %d failed\n", se.Sent, se.Failed)
			}
			return err
		}

		rec := journal.NewPlanRecord(ticket.Ref, inst, plan, ticket.Submitted)
		rec.RiskAmount = d.PlannedRisk
		rec.Note = placeNote
		if err := j.RecordPlan(rec); err != nil {
			log.WithComponent("journal").WithError(err).Warn("record plan failed")
		}
		fmt.Fprintf(out, "✓ Submitted %s as %v\n", ticket.Ref, ticket.IDs())

		for _, id := range ticket.IDs() {
			st, err := ticket.WaitFor(ctx, id, placeWait, "Submitted", "PreSubmitted")
			if errors.Is(err, session.ErrRequestTimeout) {
				fmt.Fprintf(out, "  %d: no acknowledgement within %s\n", id, placeWait)
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "  %d: %s filled %.0f remaining %.0f\n", id, st.Status, st.Filled, st.Remaining)
			if err := j.RecordStatus(statusRecord(ticket.Ref, st)); err != nil {
				log.WithComponent("journal").WithError(err).Warn("record status failed")
			}
		}
		return nil
	})
}

func accountSnapshot(ctx context.Context, s *session.Session) (risk.AccountSnapshot, error) {
	values, err := s.AccountSummary(ctx, "All", "NetLiquidation,BuyingPower")
	if err != nil {
		return risk.AccountSnapshot{}, fmt.Errorf("account summary: %w", err)
	}
	positions, err := s.Positions(ctx)
	if err != nil {
		return risk.AccountSnapshot{}, fmt.Errorf("positions: %w", err)
	}

	acct := risk.AccountSnapshot{OpenPositions: len(positions)}
	acct.NetLiquidation, _ = accountTag(values, "NetLiquidation")
	acct.BuyingPower, _ = accountTag(values, "BuyingPower")
	return acct, nil
}

// referencePrice is the price the order is expected to fill near: the
// limit or trigger when one is given, the market otherwise.
func referencePrice(ctx context.Context, s *session.Session, inst market.Instrument, kind string) (float64, error) {
	switch {
	case (kind == "lmt" || kind == "bracket") && placeLimit > 0:
		return placeLimit, nil
	case (kind == "stp" || kind == "stplmt") && placeTrigger > 0:
		return placeTrigger, nil
	}
	snap, err := s.Snapshot(ctx, inst)
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", inst, err)
	}
	return snap.Reference(), nil
}

func compose(c orders.Composer, kind string, base int64, action orders.Action, qty int64, ref, stop, target float64) (orders.Plan, error) {
	switch kind {
	case "lmt":
		return c.Limit(base, action, qty, placeLimit)
	case "stp":
		return c.Stop(base, action, qty, placeTrigger)
	case "stplmt":
		return c.StopLimit(base, action, qty, placeTrigger, placeLimit)
	case "trail":
		t := orders.TrailAmount(placeTrailAmount)
		if placeTrailPct > 0 {
			t = orders.TrailPercent(placeTrailPct)
		}
		return c.TrailingStop(base, action, qty, t)
	case "bracket":
		return c.Bracket(base, orders.BracketSpec{
			Action:         action,
			Quantity:       qty,
			EntryPrice:     placeLimit,
			StopPrice:      stop,
			TargetPrice:    target,
			ReferencePrice: ref,
		})
	}
	return c.Market(base, action, qty)
}

func printDecision(out io.Writer, d risk.Decision) {
	fmt.Fprintf(out, "Risk: $%.2f (%.2f%%)  R:R %.2f  Position $%.2f\n",
		d.PlannedRisk, d.PlannedRiskPct, d.PlannedRR, d.PositionValue)
	for _, v := range d.Violations {
		fmt.Fprintf(out, "  ✗ %s: %s\n", v.Code, v.Msg)
	}
}

func statusRecord(ref string, st state.OrderStatus) journal.StatusRecord {
	at := st.Updated
	if at.IsZero() {
		at = time.Now()
	}
	return journal.StatusRecord{
		Ref:          ref,
		OrderID:      st.OrderID,
		ParentID:     st.ParentID,
		Status:       st.Status,
		Filled:       st.Filled,
		Remaining:    st.Remaining,
		AvgFillPrice: st.AvgFillPrice,
		Time:         at,
	}
}
