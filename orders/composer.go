package orders

import "fmt"

// Composer builds plans with a shared time in force. The zero value uses DAY.
type Composer struct {
	TIF TimeInForce
}

func NewComposer(tif TimeInForce) Composer {
	return Composer{TIF: tif}
}

func (c Composer) tif() TimeInForce {
	if c.TIF == "" {
		return Day
	}
	return c.TIF
}

func (c Composer) single(o Order) (Plan, error) {
	o.TIF = c.tif()
	o.Transmit = true
	p := Plan{Nodes: []Order{o}}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (c Composer) Market(id int64, action Action, qty int64) (Plan, error) {
	return c.single(Order{ID: id, Action: action, Quantity: qty, Type: TypeMarket})
}

func (c Composer) Limit(id int64, action Action, qty int64, limit float64) (Plan, error) {
	return c.single(Order{ID: id, Action: action, Quantity: qty, Type: TypeLimit, LimitPrice: limit})
}

func (c Composer) Stop(id int64, action Action, qty int64, stop float64) (Plan, error) {
	return c.single(Order{ID: id, Action: action, Quantity: qty, Type: TypeStop, AuxPrice: stop})
}

// StopLimit triggers at stop and then works as a limit order at limit.
func (c Composer) StopLimit(id int64, action Action, qty int64, stop, limit float64) (Plan, error) {
	return c.single(Order{ID: id, Action: action, Quantity: qty, Type: TypeStopLimit, AuxPrice: stop, LimitPrice: limit})
}

// Trail is either a fixed price distance or a percentage.
type Trail struct {
	Amount  float64
	Percent float64
}

func TrailAmount(x float64) Trail  { return Trail{Amount: x} }
func TrailPercent(p float64) Trail { return Trail{Percent: p} }

func (c Composer) TrailingStop(id int64, action Action, qty int64, t Trail) (Plan, error) {
	return c.single(Order{
		ID:              id,
		Action:          action,
		Quantity:        qty,
		Type:            TypeTrail,
		AuxPrice:        t.Amount,
		TrailingPercent: t.Percent,
	})
}

// BracketSpec describes an entry with protective stop and profit target.
// EntryPrice zero means a market entry. ReferencePrice is the current
// price the operator sized against; it is only used to check the stop and
// target sides when the entry is at market and is never copied into the
// orders.
type BracketSpec struct {
	Action         Action
	Quantity       int64
	EntryPrice     float64
	StopPrice      float64
	TargetPrice    float64
	ReferencePrice float64
}

// Bracket builds a three-node plan using ids baseID, baseID+1, baseID+2:
// entry (root), stop-loss, take-profit. Only the take-profit transmits so
// the gateway never activates a partly submitted bracket.
func (c Composer) Bracket(baseID int64, s BracketSpec) (Plan, error) {
	if !s.Action.Valid() {
		return Plan{}, planErr("unknown action %q", s.Action)
	}
	if !finite(s.EntryPrice, s.StopPrice, s.TargetPrice, s.ReferencePrice) {
		return Plan{}, planErr("bracket prices must be finite")
	}
	if s.EntryPrice < 0 || s.ReferencePrice < 0 {
		return Plan{}, planErr("entry and reference prices must not be negative")
	}
	if s.StopPrice <= 0 || s.TargetPrice <= 0 {
		return Plan{}, planErr("stop and target prices must be positive")
	}
	if err := checkSides(s); err != nil {
		return Plan{}, err
	}

	tif := c.tif()
	exit := s.Action.Opposite()
	oca := fmt.Sprintf("bracket-%d", baseID)

	entry := Order{
		ID:       baseID,
		Action:   s.Action,
		Quantity: s.Quantity,
		Type:     TypeMarket,
		TIF:      tif,
	}
	if s.EntryPrice > 0 {
		entry.Type = TypeLimit
		entry.LimitPrice = s.EntryPrice
	}

	stop := Order{
		ID:       baseID + 1,
		ParentID: baseID,
		Action:   exit,
		Quantity: s.Quantity,
		Type:     TypeStop,
		AuxPrice: s.StopPrice,
		TIF:      tif,
		OCAGroup: oca,
	}

	target := Order{
		ID:         baseID + 2,
		ParentID:   baseID,
		Action:     exit,
		Quantity:   s.Quantity,
		Type:       TypeLimit,
		LimitPrice: s.TargetPrice,
		TIF:        tif,
		Transmit:   true,
		OCAGroup:   oca,
	}

	p := Plan{Nodes: []Order{entry, stop, target}}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func checkSides(s BracketSpec) error {
	anchor := s.EntryPrice
	if anchor == 0 {
		anchor = s.ReferencePrice
	}

	long := s.Action == Buy
	if anchor == 0 {
		if long && s.StopPrice >= s.TargetPrice {
			return planErr("long bracket stop %.2f must be below target %.2f", s.StopPrice, s.TargetPrice)
		}
		if !long && s.StopPrice <= s.TargetPrice {
			return planErr("short bracket stop %.2f must be above target %.2f", s.StopPrice, s.TargetPrice)
		}
		return nil
	}

	if long && !(s.StopPrice < anchor && anchor < s.TargetPrice) {
		return planErr("long bracket needs stop %.2f < entry %.2f < target %.2f", s.StopPrice, anchor, s.TargetPrice)
	}
	if !long && !(s.TargetPrice < anchor && anchor < s.StopPrice) {
		return planErr("short bracket needs target %.2f < entry %.2f < stop %.2f", s.TargetPrice, anchor, s.StopPrice)
	}
	return nil
}
