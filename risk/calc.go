package risk

// Inputs for a full sizing summary. RiskPct is a percentage.
type Inputs struct {
	AccountValue float64
	RiskPct      float64
	EntryPrice   float64
	StopPrice    float64
	RMultiples   []float64
}

type Result struct {
	Shares        int64
	RiskPerShare  float64
	RiskAmount    float64
	PositionValue float64
	PositionPct   float64
	MaxLoss       float64
	Targets       []Target
}

// Calculate sizes a position and lays out its R ladder.
func Calculate(in Inputs) (Result, error) {
	shares, err := PositionSize(in.AccountValue, in.RiskPct, in.EntryPrice, in.StopPrice)
	if err != nil {
		return Result{}, err
	}
	targets, err := Targets(in.EntryPrice, in.StopPrice, shares, in.RMultiples...)
	if err != nil {
		return Result{}, err
	}

	perShare := abs(in.EntryPrice - in.StopPrice)
	value := float64(shares) * in.EntryPrice
	return Result{
		Shares:        shares,
		RiskPerShare:  perShare,
		RiskAmount:    in.AccountValue * in.RiskPct / 100,
		PositionValue: value,
		PositionPct:   value / in.AccountValue * 100,
		MaxLoss:       PlannedRisk(shares, in.EntryPrice, in.StopPrice),
		Targets:       targets,
	}, nil
}
