// Package state holds the latest market and account view of one session.
// Reads are concurrent and return copies; a single Writer, owned by the
// session's dispatch path, applies updates.
package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/ibsession/indicators"
	"github.com/rustyeddy/ibsession/market"
)

type AccountValue struct {
	Account  string
	Tag      string
	Value    string
	Currency string
}

type Position struct {
	Account    string
	Instrument market.Instrument
	Quantity   float64
	AvgCost    float64
}

type OrderStatus struct {
	OrderID       int64
	ParentID      int64
	Status        string
	Filled        float64
	Remaining     float64
	AvgFillPrice  float64
	LastFillPrice float64
	WhyHeld       string
	Updated       time.Time
}

type Store struct {
	mu sync.RWMutex

	prices     map[string]market.PriceSnapshot
	positions  map[string]map[string]Position
	values     map[string]map[string]AccountValue
	orders     map[int64]OrderStatus
	volatility map[string]indicators.Volatility

	now func() time.Time
}

// Writer is the only way to mutate a Store.
type Writer struct {
	s *Store
}

// New returns an empty store and its writer.
func New() (*Store, *Writer) {
	s := &Store{
		prices:     make(map[string]market.PriceSnapshot),
		positions:  make(map[string]map[string]Position),
		values:     make(map[string]map[string]AccountValue),
		orders:     make(map[int64]OrderStatus),
		volatility: make(map[string]indicators.Volatility),
		now:        time.Now,
	}
	return s, &Writer{s: s}
}

// ---- readers ---------------------------------------------------------

func (s *Store) LatestPrice(symbol string) (market.PriceSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// LatestPositions returns the account's positions keyed by symbol.
func (s *Store) LatestPositions(account string) map[string]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Position, len(s.positions[account]))
	for k, v := range s.positions[account] {
		out[k] = v
	}
	return out
}

// AccountValues returns the account's summary values keyed by tag.
func (s *Store) AccountValues(account string) map[string]AccountValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]AccountValue, len(s.values[account]))
	for k, v := range s.values[account] {
		out[k] = v
	}
	return out
}

func (s *Store) AccountValue(account, tag string) (AccountValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[account][tag]
	return v, ok
}

// Accounts lists every account with values or positions, sorted.
func (s *Store) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]bool{}
	for a := range s.values {
		seen[a] = true
	}
	for a := range s.positions {
		seen[a] = true
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

func (s *Store) OrderStatus(orderID int64) (OrderStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	return o, ok
}

func (s *Store) Volatility(symbol string) (indicators.Volatility, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.volatility[symbol]
	return v, ok
}

// ---- writer ----------------------------------------------------------

// ApplyPrice overwrites one price field. Unknown fields are ignored.
func (w *Writer) ApplyPrice(symbol string, field market.TickField, price float64) bool {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[symbol]
	if !p.SetPrice(field, price) {
		return false
	}
	p.Symbol = symbol
	p.Updated = s.now()
	s.prices[symbol] = p
	return true
}

func (w *Writer) ApplySize(symbol string, field market.TickField, size float64) bool {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[symbol]
	if !p.SetSize(field, size) {
		return false
	}
	p.Symbol = symbol
	p.Updated = s.now()
	s.prices[symbol] = p
	return true
}

// ReplacePositions swaps in a completed refresh. Accounts absent from the
// refresh are cleared.
func (w *Writer) ReplacePositions(positions []Position) {
	next := make(map[string]map[string]Position)
	for _, p := range positions {
		if next[p.Account] == nil {
			next[p.Account] = make(map[string]Position)
		}
		next[p.Account][p.Instrument.Symbol] = p
	}
	w.s.mu.Lock()
	w.s.positions = next
	w.s.mu.Unlock()
}

// ReplaceAccountValues swaps in a completed summary. Accounts absent from
// the summary are cleared.
func (w *Writer) ReplaceAccountValues(values []AccountValue) {
	next := make(map[string]map[string]AccountValue)
	for _, v := range values {
		if next[v.Account] == nil {
			next[v.Account] = make(map[string]AccountValue)
		}
		next[v.Account][v.Tag] = v
	}
	w.s.mu.Lock()
	w.s.values = next
	w.s.mu.Unlock()
}

func (w *Writer) ApplyOrderStatus(o OrderStatus) {
	s := w.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Updated.IsZero() {
		o.Updated = s.now()
	}
	s.orders[o.OrderID] = o
}

func (w *Writer) SetVolatility(symbol string, v indicators.Volatility) {
	w.s.mu.Lock()
	w.s.volatility[symbol] = v
	w.s.mu.Unlock()
}
