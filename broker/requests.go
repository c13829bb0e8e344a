package broker

import (
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
)

// Request is an outbound instruction. Op names the instruction for logs
// and wire framing.
type Request interface {
	Op() string
}

// Market data types accepted by ReqMarketDataType.
const (
	MarketDataLive          = 1
	MarketDataFrozen        = 2
	MarketDataDelayed       = 3
	MarketDataDelayedFrozen = 4
)

type ReqMarketDataType struct {
	Type int `json:"market_data_type"`
}

type ReqMarketData struct {
	ID         int64             `json:"id"`
	Instrument market.Instrument `json:"instrument"`
	Snapshot   bool              `json:"snapshot"`
}

type CancelMarketData struct {
	ID int64 `json:"id"`
}

// HistoryParams mirror the gateway's historical data query.
type HistoryParams struct {
	EndDateTime string `json:"end_date_time"` // empty means now
	Duration    string `json:"duration"`      // "5 D", "1 W", "1 M"
	BarSize     string `json:"bar_size"`      // "1 day", "1 hour"
	WhatToShow  string `json:"what_to_show"`  // TRADES, MIDPOINT
	UseRTH      bool   `json:"use_rth"`
}

// DefaultHistory is five daily trade bars, enough for a short ATR.
func DefaultHistory() HistoryParams {
	return HistoryParams{Duration: "5 D", BarSize: "1 day", WhatToShow: "TRADES", UseRTH: true}
}

type ReqHistoricalData struct {
	ID         int64             `json:"id"`
	Instrument market.Instrument `json:"instrument"`
	Params     HistoryParams     `json:"params"`
}

type CancelHistoricalData struct {
	ID int64 `json:"id"`
}

// DefaultAccountTags is the summary tag list the operator menu asks for.
const DefaultAccountTags = "AccountType,NetLiquidation,TotalCashValue,SettledCash,AccruedCash,BuyingPower," +
	"EquityWithLoanValue,PreviousDayEquityWithLoanValue,GrossPositionValue"

type ReqAccountSummary struct {
	ID    int64  `json:"id"`
	Group string `json:"group"`
	Tags  string `json:"tags"`
}

type CancelAccountSummary struct {
	ID int64 `json:"id"`
}

type ReqPositions struct {
	ID int64 `json:"id"`
}

type CancelPositions struct {
	ID int64 `json:"id"`
}

type ReqOpenOrders struct {
	ID int64 `json:"id"`
}

// ScanParams is a market scanner subscription.
type ScanParams struct {
	Instrument   string `json:"instrument"`    // STK
	LocationCode string `json:"location_code"` // STK.US.MAJOR, STK.HK.ASX
	ScanCode     string `json:"scan_code"`     // TOP_PERC_GAIN, HOT_BY_VOLUME
	Rows         int    `json:"rows"`
}

type ReqScanner struct {
	ID     int64      `json:"id"`
	Params ScanParams `json:"params"`
}

type CancelScanner struct {
	ID int64 `json:"id"`
}

type PlaceOrder struct {
	Instrument market.Instrument `json:"instrument"`
	Order      orders.Order      `json:"order"`
}

type CancelOrder struct {
	OrderID int64 `json:"order_id"`
}

func (ReqMarketDataType) Op() string    { return "reqMarketDataType" }
func (ReqMarketData) Op() string        { return "reqMktData" }
func (CancelMarketData) Op() string     { return "cancelMktData" }
func (ReqHistoricalData) Op() string    { return "reqHistoricalData" }
func (CancelHistoricalData) Op() string { return "cancelHistoricalData" }
func (ReqAccountSummary) Op() string    { return "reqAccountSummary" }
func (CancelAccountSummary) Op() string { return "cancelAccountSummary" }
func (ReqPositions) Op() string         { return "reqPositions" }
func (CancelPositions) Op() string      { return "cancelPositions" }
func (ReqOpenOrders) Op() string        { return "reqOpenOrders" }
func (ReqScanner) Op() string           { return "reqScannerSubscription" }
func (CancelScanner) Op() string        { return "cancelScannerSubscription" }
func (PlaceOrder) Op() string           { return "placeOrder" }
func (CancelOrder) Op() string          { return "cancelOrder" }
