package sim

import (
	"time"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/market"
)

// Demo returns a gateway seeded with a paper account, a handful of US and
// ASX quotes and a week of daily bars for each, for running the CLI
// without a live gateway.
func Demo() *Gateway {
	g := New()
	g.SetNextOrderID(1000)

	acct := "DU1234567"
	for _, v := range [][2]string{
		{"AccountType", "INDIVIDUAL"},
		{"NetLiquidation", "100000.00"},
		{"TotalCashValue", "85000.00"},
		{"SettledCash", "85000.00"},
		{"AccruedCash", "12.50"},
		{"BuyingPower", "340000.00"},
		{"EquityWithLoanValue", "100000.00"},
		{"PreviousDayEquityWithLoanValue", "99250.00"},
		{"GrossPositionValue", "15000.00"},
	} {
		g.SetAccountValue(acct, v[0], v[1], "USD")
	}

	seed := []struct {
		inst  market.Instrument
		last  float64
		step  float64
		shift float64
	}{
		{market.Stock("AAPL"), 190.00, 1.20, 0.8},
		{market.Stock("MSFT"), 410.00, 2.50, 1.5},
		{market.Stock("SPY"), 520.00, 1.80, 0.6},
		{market.ASXStock("BHP"), 45.00, 0.35, 0.2},
		{market.ASXStock("CBA"), 118.00, 0.90, 0.4},
	}

	day := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	rows := make([]market.Instrument, 0, len(seed))
	for _, s := range seed {
		g.SetQuote(market.PriceSnapshot{
			Symbol: s.inst.Symbol,
			Bid:    s.last - 0.01,
			Ask:    s.last + 0.01,
			Last:   s.last,
			High:   s.last + s.step,
			Low:    s.last - s.step,
			Close:  s.last - s.shift,
			Volume: 1_000_000,
		})

		bars := make([]market.Bar, 5)
		for i := range bars {
			c := s.last - s.shift*float64(len(bars)-1-i)
			t := day.AddDate(0, 0, i)
			bars[i] = market.Bar{
				Date:   t.Format("20060102"),
				Time:   t,
				Open:   c - s.step/2,
				High:   c + s.step,
				Low:    c - s.step,
				Close:  c,
				Volume: 900_000 + float64(i)*50_000,
			}
		}
		g.SetBars(s.inst.Symbol, bars)
		rows = append(rows, s.inst)
	}
	g.SetScan(rows...)

	g.SetPosition(broker.Position{
		Account:    acct,
		Instrument: market.Stock("AAPL"),
		Quantity:   50,
		AvgCost:    182.40,
	})
	return g
}
