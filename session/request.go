package session

import (
	"sync"
	"sync/atomic"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/indicators"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/orders"
	"github.com/rustyeddy/ibsession/state"
)

type Kind int

const (
	KindMarketData Kind = iota + 1
	KindSnapshot
	KindHistoricalBars
	KindAccountSummary
	KindPositions
	KindOpenOrders
	KindScanner
)

var kindNames = map[Kind]string{
	KindMarketData:     "market_data",
	KindSnapshot:       "snapshot",
	KindHistoricalBars: "historical_bars",
	KindAccountSummary: "account_summary",
	KindPositions:      "positions",
	KindOpenOrders:     "open_orders",
	KindScanner:        "scanner",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Streaming kinds never complete on their own.
func (k Kind) Streaming() bool { return k == KindMarketData }

func (k Kind) needsInstrument() bool {
	return k == KindMarketData || k == KindSnapshot || k == KindHistoricalBars
}

type Status int

const (
	StatusPending Status = iota
	StatusStreaming
	StatusCompleted
	StatusCancelled
	StatusTimedOut
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusStreaming:
		return "streaming"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

func (s Status) Terminal() bool { return s >= StatusCompleted }

// Params carries the kind-specific request inputs. Zero values pick the
// defaults: five daily bars, every account summary tag for group "All".
type Params struct {
	History broker.HistoryParams
	Scan    broker.ScanParams
	Group   string
	Tags    string
}

type OpenOrder struct {
	OrderID    int64
	Instrument market.Instrument
	Order      orders.Order
	Status     string
}

type ScanResult struct {
	Rank       int
	Instrument market.Instrument
	Distance   string
}

// Result is the payload accumulated for one request. Only the fields for
// the request's kind are populated.
type Result struct {
	ID         int64
	Kind       Kind
	Instrument market.Instrument

	Snapshot      market.PriceSnapshot
	Series        market.Series
	Volatility    indicators.Volatility
	AccountValues []state.AccountValue
	Positions     []state.Position
	OpenOrders    []OpenOrder
	Scan          []ScanResult

	// Notices are informational and warning messages the gateway attached
	// to this request.
	Notices []*broker.GatewayError
}

// record is the registry's view of one request. Fields other than done,
// once and dropped are guarded by the registry mutex.
type record struct {
	id     int64
	kind   Kind
	inst   market.Instrument
	status Status
	result Result
	err    error

	done chan struct{}
	once sync.Once

	stream  chan broker.Event
	dropped atomic.Int64
}

func newRecord(id int64, kind Kind, inst market.Instrument, buffer int) *record {
	r := &record{
		id:     id,
		kind:   kind,
		inst:   inst,
		status: StatusPending,
		result: Result{ID: id, Kind: kind, Instrument: inst},
		done:   make(chan struct{}),
	}
	if kind.Streaming() {
		r.status = StatusStreaming
		r.stream = make(chan broker.Event, buffer)
	}
	if kind == KindSnapshot {
		r.result.Snapshot.Symbol = inst.Symbol
	}
	if kind == KindHistoricalBars {
		r.result.Series.Instrument = inst
	}
	return r
}

// finish moves the record to a terminal status exactly once. Caller holds
// the registry mutex.
func (r *record) finish(status Status, err error) bool {
	won := false
	r.once.Do(func() {
		won = true
		r.status = status
		r.err = err
		if r.stream != nil {
			// Drop anything still buffered so a cancelled stream yields
			// nothing further.
			for {
				select {
				case <-r.stream:
					continue
				default:
				}
				break
			}
			close(r.stream)
		}
		close(r.done)
	})
	return won
}

// deliver hands a streaming event to the consumer without blocking.
// Caller holds the registry mutex.
func (r *record) deliver(ev broker.Event) {
	select {
	case r.stream <- ev:
	default:
		r.dropped.Add(1)
	}
}

func (r *record) outcome() (Result, error) {
	<-r.done
	return r.result, r.err
}
