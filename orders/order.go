// Package orders builds order plans: single orders and linked multi-leg
// trees whose parent linkage and transmit flags are correct by
// construction.
package orders

import (
	"fmt"
	"math"
	"strings"
)

type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// ParseAction accepts BUY/SELL in any case plus the long/short aliases.
func ParseAction(s string) (Action, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG", "B":
		return Buy, nil
	case "SELL", "SHORT", "S":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown action %q (want BUY|SELL)", s)
}

// Opposite returns the closing side.
func (a Action) Opposite() Action {
	if a == Buy {
		return Sell
	}
	return Buy
}

func (a Action) Valid() bool { return a == Buy || a == Sell }

type OrderType string

const (
	TypeMarket    OrderType = "MKT"
	TypeLimit     OrderType = "LMT"
	TypeStop      OrderType = "STP"
	TypeStopLimit OrderType = "STP LMT"
	TypeTrail     OrderType = "TRAIL"
)

type TimeInForce string

const (
	Day TimeInForce = "DAY"
	GTC TimeInForce = "GTC"
)

// ParseTIF returns Day for an empty string.
func ParseTIF(s string) (TimeInForce, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "DAY":
		return Day, nil
	case "GTC":
		return GTC, nil
	}
	return "", fmt.Errorf("unknown time in force %q (want DAY|GTC)", s)
}

// Order is one node of a plan. ParentID is zero for a root. AuxPrice holds
// the stop trigger for STP/STP LMT and the trail amount for TRAIL.
type Order struct {
	ID              int64       `json:"order_id"`
	ParentID        int64       `json:"parent_id,omitempty"`
	Action          Action      `json:"action"`
	Quantity        int64       `json:"quantity"`
	Type            OrderType   `json:"order_type"`
	LimitPrice      float64     `json:"limit_price,omitempty"`
	AuxPrice        float64     `json:"aux_price,omitempty"`
	TrailingPercent float64     `json:"trailing_percent,omitempty"`
	TIF             TimeInForce `json:"tif"`
	Transmit        bool        `json:"transmit"`
	OCAGroup        string      `json:"oca_group,omitempty"`
}

func (o Order) String() string {
	s := fmt.Sprintf("#%d %s %d %s", o.ID, o.Action, o.Quantity, o.Type)
	switch o.Type {
	case TypeLimit:
		s += fmt.Sprintf(" @ %.2f", o.LimitPrice)
	case TypeStop:
		s += fmt.Sprintf(" stop %.2f", o.AuxPrice)
	case TypeStopLimit:
		s += fmt.Sprintf(" stop %.2f limit %.2f", o.AuxPrice, o.LimitPrice)
	case TypeTrail:
		if o.TrailingPercent > 0 {
			s += fmt.Sprintf(" trail %.2f%%", o.TrailingPercent)
		} else {
			s += fmt.Sprintf(" trail %.2f", o.AuxPrice)
		}
	}
	if o.ParentID != 0 {
		s += fmt.Sprintf(" parent #%d", o.ParentID)
	}
	return s
}

func finite(xs ...float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func (o Order) validate() error {
	if o.ID <= 0 {
		return planErr("order id must be positive, got %d", o.ID)
	}
	if !o.Action.Valid() {
		return planErr("order #%d: unknown action %q", o.ID, o.Action)
	}
	if o.Quantity <= 0 {
		return planErr("order #%d: quantity must be positive, got %d", o.ID, o.Quantity)
	}
	if !finite(o.LimitPrice, o.AuxPrice, o.TrailingPercent) {
		return planErr("order #%d: prices must be finite", o.ID)
	}
	switch o.Type {
	case TypeMarket:
	case TypeLimit:
		if o.LimitPrice <= 0 {
			return planErr("order #%d: limit price must be positive", o.ID)
		}
	case TypeStop:
		if o.AuxPrice <= 0 {
			return planErr("order #%d: stop price must be positive", o.ID)
		}
	case TypeStopLimit:
		if o.AuxPrice <= 0 || o.LimitPrice <= 0 {
			return planErr("order #%d: stop and limit prices must be positive", o.ID)
		}
	case TypeTrail:
		if (o.AuxPrice > 0) == (o.TrailingPercent > 0) {
			return planErr("order #%d: trailing stop needs exactly one of amount or percent", o.ID)
		}
		if o.AuxPrice < 0 || o.TrailingPercent < 0 || o.TrailingPercent >= 100 {
			return planErr("order #%d: invalid trail", o.ID)
		}
	default:
		return planErr("order #%d: unknown order type %q", o.ID, o.Type)
	}
	return nil
}
