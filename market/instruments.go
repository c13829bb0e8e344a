package market

import "fmt"

// Exchange and currency defaults for the two markets the operator trades.
const (
	SecTypeStock = "STK"

	ExchangeSmart = "SMART"
	ExchangeASX   = "ASX"

	CurrencyUSD = "USD"
	CurrencyAUD = "AUD"
)

// Instrument identifies a tradable contract. No contract id resolution is
// done locally; the gateway resolves the tuple.
type Instrument struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	SecType  string `json:"sec_type" yaml:"sec_type"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Currency string `json:"currency" yaml:"currency"`
}

// Stock returns a US stock routed through SMART.
func Stock(symbol string) Instrument {
	return Instrument{
		Symbol:   symbol,
		SecType:  SecTypeStock,
		Exchange: ExchangeSmart,
		Currency: CurrencyUSD,
	}
}

// ASXStock returns a stock listed on the Australian Securities Exchange.
func ASXStock(symbol string) Instrument {
	return Instrument{
		Symbol:   symbol,
		SecType:  SecTypeStock,
		Exchange: ExchangeASX,
		Currency: CurrencyAUD,
	}
}

// StockOn picks the market by exchange name. Anything that is not ASX is
// treated as a US listing.
func StockOn(exchange, symbol string) Instrument {
	if exchange == ExchangeASX {
		return ASXStock(symbol)
	}
	return Stock(symbol)
}

func (i Instrument) Validate() error {
	if i.Symbol == "" {
		return fmt.Errorf("instrument: symbol is required")
	}
	if i.SecType == "" || i.Exchange == "" || i.Currency == "" {
		return fmt.Errorf("instrument %s: sec type, exchange and currency are required", i.Symbol)
	}
	return nil
}

func (i Instrument) String() string {
	return fmt.Sprintf("%s:%s@%s(%s)", i.SecType, i.Symbol, i.Exchange, i.Currency)
}
