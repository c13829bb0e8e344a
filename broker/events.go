package broker

import (
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
)

// Event is one inbound gateway message. Tagged events carry the request id
// they answer; order events carry an order id instead.
type Event interface {
	Kind() string
}

// Tagged is implemented by events that belong to a request id.
type Tagged interface {
	Event
	RequestID() int64
}

// NextValidID completes the handshake and seeds order ids.
type NextValidID struct {
	OrderID int64 `json:"order_id"`
}

type ManagedAccounts struct {
	Accounts []string `json:"accounts"`
}

type TickPrice struct {
	ReqID int64            `json:"id"`
	Field market.TickField `json:"field"`
	Price float64          `json:"price"`
}

type TickSize struct {
	ReqID int64            `json:"id"`
	Field market.TickField `json:"field"`
	Size  float64          `json:"size"`
}

type TickSnapshotEnd struct {
	ReqID int64 `json:"id"`
}

type HistoricalBar struct {
	ReqID int64      `json:"id"`
	Bar   market.Bar `json:"bar"`
}

type HistoricalEnd struct {
	ReqID int64  `json:"id"`
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type AccountSummary struct {
	ReqID    int64  `json:"id"`
	Account  string `json:"account"`
	Tag      string `json:"tag"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type AccountSummaryEnd struct {
	ReqID int64 `json:"id"`
}

// Position is untagged on the wire; the session attributes it to the
// outstanding positions request.
type Position struct {
	Account    string            `json:"account"`
	Instrument market.Instrument `json:"instrument"`
	Quantity   float64           `json:"quantity"`
	AvgCost    float64           `json:"avg_cost"`
}

type PositionEnd struct{}

type OpenOrder struct {
	OrderID    int64             `json:"order_id"`
	Instrument market.Instrument `json:"instrument"`
	Order      orders.Order      `json:"order"`
	Status     string            `json:"status"`
}

type OpenOrderEnd struct{}

type OrderStatus struct {
	OrderID       int64   `json:"order_id"`
	ParentID      int64   `json:"parent_id,omitempty"`
	Status        string  `json:"status"`
	Filled        float64 `json:"filled"`
	Remaining     float64 `json:"remaining"`
	AvgFillPrice  float64 `json:"avg_fill_price"`
	LastFillPrice float64 `json:"last_fill_price"`
	WhyHeld       string  `json:"why_held,omitempty"`
}

type ScannerData struct {
	ReqID      int64             `json:"id"`
	Rank       int               `json:"rank"`
	Instrument market.Instrument `json:"instrument"`
	Distance   string            `json:"distance,omitempty"`
}

type ScannerEnd struct {
	ReqID int64 `json:"id"`
}

// Error is a gateway error message. ID is -1 for connection-level notices
// and may be an order id for order rejections.
type Error struct {
	ID      int64  `json:"id"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	EvNextValidID       = "nextValidId"
	EvManagedAccounts   = "managedAccounts"
	EvTickPrice         = "tickPrice"
	EvTickSize          = "tickSize"
	EvTickSnapshotEnd   = "tickSnapshotEnd"
	EvHistoricalBar     = "historicalData"
	EvHistoricalEnd     = "historicalDataEnd"
	EvAccountSummary    = "accountSummary"
	EvAccountSummaryEnd = "accountSummaryEnd"
	EvPosition          = "position"
	EvPositionEnd       = "positionEnd"
	EvOpenOrder         = "openOrder"
	EvOpenOrderEnd      = "openOrderEnd"
	EvOrderStatus       = "orderStatus"
	EvScannerData       = "scannerData"
	EvScannerEnd        = "scannerDataEnd"
	EvError             = "error"
)

func (NextValidID) Kind() string       { return EvNextValidID }
func (ManagedAccounts) Kind() string   { return EvManagedAccounts }
func (TickPrice) Kind() string         { return EvTickPrice }
func (TickSize) Kind() string          { return EvTickSize }
func (TickSnapshotEnd) Kind() string   { return EvTickSnapshotEnd }
func (HistoricalBar) Kind() string     { return EvHistoricalBar }
func (HistoricalEnd) Kind() string     { return EvHistoricalEnd }
func (AccountSummary) Kind() string    { return EvAccountSummary }
func (AccountSummaryEnd) Kind() string { return EvAccountSummaryEnd }
func (Position) Kind() string          { return EvPosition }
func (PositionEnd) Kind() string       { return EvPositionEnd }
func (OpenOrder) Kind() string         { return EvOpenOrder }
func (OpenOrderEnd) Kind() string      { return EvOpenOrderEnd }
func (OrderStatus) Kind() string       { return EvOrderStatus }
func (ScannerData) Kind() string       { return EvScannerData }
func (ScannerEnd) Kind() string        { return EvScannerEnd }
func (Error) Kind() string             { return EvError }

func (e TickPrice) RequestID() int64         { return e.ReqID }
func (e TickSize) RequestID() int64          { return e.ReqID }
func (e TickSnapshotEnd) RequestID() int64   { return e.ReqID }
func (e HistoricalBar) RequestID() int64     { return e.ReqID }
func (e HistoricalEnd) RequestID() int64     { return e.ReqID }
func (e AccountSummary) RequestID() int64    { return e.ReqID }
func (e AccountSummaryEnd) RequestID() int64 { return e.ReqID }
func (e ScannerData) RequestID() int64       { return e.ReqID }
func (e ScannerEnd) RequestID() int64        { return e.ReqID }

// Terminal order statuses. Once an order reaches one of these the gateway
// sends nothing further for it.
var terminalStatuses = map[string]bool{
	"Filled":       true,
	"Cancelled":    true,
	"ApiCancelled": true,
	"Inactive":     true,
	"Rejected":     true,
}

// IsTerminalStatus reports whether an order status is final.
func IsTerminalStatus(s string) bool { return terminalStatuses[s] }
