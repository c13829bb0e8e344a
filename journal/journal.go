// Package journal records submitted order plans and the statuses their
// orders report, to CSV files or SQLite.
package journal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
)

// PlanRecord is one submitted plan.
type PlanRecord struct {
	Ref        string
	Time       time.Time
	Symbol     string
	Exchange   string
	Currency   string
	Action     string
	Quantity   int64
	OrderType  string
	OrderIDs   []int64
	EntryPrice float64
	StopPrice  float64
	Target     float64
	RiskAmount float64
	Note       string
}

// StatusRecord is one order status report.
type StatusRecord struct {
	Ref          string
	OrderID      int64
	ParentID     int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
	Time         time.Time
}

type Journal interface {
	RecordPlan(PlanRecord) error
	RecordStatus(StatusRecord) error
	Close() error
}

// NewPlanRecord summarises plan. Entry, stop and target are read from the
// nodes: the root's limit or stop price, the first STP child and the first
// LMT child.
func NewPlanRecord(ref string, inst market.Instrument, plan orders.Plan, at time.Time) PlanRecord {
	root := plan.Root()
	rec := PlanRecord{
		Ref:       ref,
		Time:      at,
		Symbol:    inst.Symbol,
		Exchange:  inst.Exchange,
		Currency:  inst.Currency,
		Action:    string(root.Action),
		Quantity:  root.Quantity,
		OrderType: string(root.Type),
		OrderIDs:  plan.IDs(),
	}
	switch root.Type {
	case orders.TypeLimit, orders.TypeStopLimit:
		rec.EntryPrice = root.LimitPrice
	case orders.TypeStop:
		rec.EntryPrice = root.AuxPrice
	}
	for i, n := range plan.Nodes {
		switch {
		case i == 0:
		case n.Type == orders.TypeStop && rec.StopPrice == 0:
			rec.StopPrice = n.AuxPrice
		case n.Type == orders.TypeLimit && rec.Target == 0:
			rec.Target = n.LimitPrice
		}
	}
	return rec
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordPlan(PlanRecord) error     { return nil }
func (Nop) RecordStatus(StatusRecord) error { return nil }
func (Nop) Close() error                    { return nil }

// Open builds the journal named by kind: "", "none", "csv" or "sqlite".
func Open(kind, plansPath, statusPath, dbPath string) (Journal, error) {
	switch kind {
	case "", "none":
		return Nop{}, nil
	case "csv":
		return NewCSV(plansPath, statusPath)
	case "sqlite":
		return NewSQLite(dbPath)
	}
	return nil, fmt.Errorf("unknown journal type %q", kind)
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, " ")
}

func splitIDs(s string) ([]int64, error) {
	fields := strings.Fields(s)
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("order id %q: %w", f, err)
		}
		out = append(out, id)
	}
	return out, nil
}
