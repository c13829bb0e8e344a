package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/indicators"
	"github.com/rustyeddy/ibsession/logger"
	"github.com/rustyeddy/ibsession/market"
	"github.com/rustyeddy/ibsession/state"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultStreamBuffer   = 256
)

// RequestIDBase is where request ids start. Gateway errors carry either a
// request id or an order id in one field, and order ids count up from the
// gateway's next valid id, so request ids live far above them.
const RequestIDBase int64 = 1 << 30

// ErrorSink receives gateway errors that belong to no live request or
// order: connection notices, farm status, late errors for expired ids.
type ErrorSink func(*broker.GatewayError)

// LogSink logs each error at the level matching its tier.
func LogSink(log *logger.Entry) ErrorSink {
	return func(e *broker.GatewayError) {
		entry := log.WithFields(logger.Fields{"id": e.ID, "code": e.Code, "tier": e.Tier().String()})
		switch e.Tier() {
		case broker.TierInfo:
			entry.Info(e.Message)
		case broker.TierWarning:
			entry.Warn(e.Message)
		default:
			entry.Error(e.Message)
		}
	}
}

type RegistryConfig struct {
	Timeout      time.Duration
	ATRPeriod    int
	StreamBuffer int
	ErrorSink    ErrorSink
	Logger       *logger.Entry
}

// Registry correlates inbound events with the request that caused them.
// Dispatch must be called from a single goroutine in arrival order; every
// other method is safe for concurrent use.
type Registry struct {
	link    broker.Link
	w       *state.Writer
	log     *logger.Entry
	sink    ErrorSink
	timeout time.Duration
	period  int
	buffer  int

	// ctx bounds the cancel instructions sent from the dispatch path.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	nextID  int64
	records map[int64]*record
	orders  map[int64]*OrderTicket
	closed  error

	// Position and open order replies are untagged; at most one request of
	// each kind is outstanding and owns them.
	positionsID  int64
	openOrdersID int64
}

func NewRegistry(link broker.Link, w *state.Writer, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default().WithComponent("registry")
	}
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = LogSink(cfg.Logger)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = DefaultStreamBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		link:    link,
		w:       w,
		log:     cfg.Logger,
		sink:    cfg.ErrorSink,
		timeout: cfg.Timeout,
		period:  cfg.ATRPeriod,
		buffer:  cfg.StreamBuffer,
		ctx:     ctx,
		cancel:  cancel,
		nextID:  RequestIDBase,
		records: make(map[int64]*record),
		orders:  make(map[int64]*OrderTicket),
	}
}

// Submit registers a request and sends it. The id is allocated and the
// record stored before the send so a fast reply always finds it.
func (r *Registry) Submit(ctx context.Context, kind Kind, inst market.Instrument, p Params) (*Handle, error) {
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("submit: unknown request kind %d", kind)
	}
	if kind.needsInstrument() {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("submit %s: %w", kind, err)
		}
	}

	r.mu.Lock()
	if r.closed != nil {
		err := r.closed
		r.mu.Unlock()
		return nil, err
	}
	switch {
	case kind == KindPositions && r.positionsID != 0:
		busy := r.positionsID
		r.mu.Unlock()
		return nil, fmt.Errorf("submit positions: request %d: %w", busy, ErrInFlight)
	case kind == KindOpenOrders && r.openOrdersID != 0:
		busy := r.openOrdersID
		r.mu.Unlock()
		return nil, fmt.Errorf("submit open orders: request %d: %w", busy, ErrInFlight)
	}
	r.nextID++
	id := r.nextID
	rec := newRecord(id, kind, inst, r.buffer)
	r.records[id] = rec
	switch kind {
	case KindPositions:
		r.positionsID = id
	case KindOpenOrders:
		r.openOrdersID = id
	}
	r.mu.Unlock()

	log := r.log.WithFields(logger.Fields{"req_id": id, "kind": kind.String()})
	if inst.Symbol != "" {
		log = log.WithField("symbol", inst.Symbol)
	}

	if err := r.link.Send(ctx, buildRequest(id, kind, inst, p)); err != nil {
		r.mu.Lock()
		r.removeLocked(rec)
		rec.finish(StatusFailed, err)
		r.mu.Unlock()
		log.WithError(err).Warn("request send failed")
		return nil, fmt.Errorf("submit %s: %w", kind, err)
	}
	log.Debug("request submitted")
	return &Handle{reg: r, rec: rec}, nil
}

func buildRequest(id int64, kind Kind, inst market.Instrument, p Params) broker.Request {
	switch kind {
	case KindMarketData:
		return broker.ReqMarketData{ID: id, Instrument: inst}
	case KindSnapshot:
		return broker.ReqMarketData{ID: id, Instrument: inst, Snapshot: true}
	case KindHistoricalBars:
		h := p.History
		d := broker.DefaultHistory()
		if h == (broker.HistoryParams{}) {
			h = d
		}
		if h.Duration == "" {
			h.Duration = d.Duration
		}
		if h.BarSize == "" {
			h.BarSize = d.BarSize
		}
		if h.WhatToShow == "" {
			h.WhatToShow = d.WhatToShow
		}
		return broker.ReqHistoricalData{ID: id, Instrument: inst, Params: h}
	case KindAccountSummary:
		group, tags := p.Group, p.Tags
		if group == "" {
			group = "All"
		}
		if tags == "" {
			tags = broker.DefaultAccountTags
		}
		return broker.ReqAccountSummary{ID: id, Group: group, Tags: tags}
	case KindPositions:
		return broker.ReqPositions{ID: id}
	case KindOpenOrders:
		return broker.ReqOpenOrders{ID: id}
	default:
		s := p.Scan
		if s.Instrument == "" {
			s.Instrument = "STK"
		}
		if s.LocationCode == "" {
			s.LocationCode = "STK.US.MAJOR"
		}
		if s.ScanCode == "" {
			s.ScanCode = "TOP_PERC_GAIN"
		}
		return broker.ReqScanner{ID: id, Params: s}
	}
}

// cancelRequest is the instruction that stops the gateway answering id.
func cancelRequest(kind Kind, id int64) broker.Request {
	switch kind {
	case KindMarketData, KindSnapshot:
		return broker.CancelMarketData{ID: id}
	case KindHistoricalBars:
		return broker.CancelHistoricalData{ID: id}
	case KindAccountSummary:
		return broker.CancelAccountSummary{ID: id}
	case KindPositions:
		return broker.CancelPositions{ID: id}
	case KindScanner:
		return broker.CancelScanner{ID: id}
	}
	return nil
}

func (r *Registry) sendCancel(kind Kind, id int64) {
	req := cancelRequest(kind, id)
	if req == nil {
		return
	}
	if err := r.link.Send(r.ctx, req); err != nil {
		r.log.WithError(err).WithFields(logger.Fields{"req_id": id, "op": req.Op()}).Debug("cancel not sent")
	}
}

// removeLocked unregisters rec. Caller holds r.mu.
func (r *Registry) removeLocked(rec *record) {
	delete(r.records, rec.id)
	if r.positionsID == rec.id {
		r.positionsID = 0
	}
	if r.openOrdersID == rec.id {
		r.openOrdersID = 0
	}
}

// expire ends a request from the caller side and tells the gateway to stop.
// It is a no-op if the request already reached a terminal status.
func (r *Registry) expire(rec *record, status Status, err error) {
	r.mu.Lock()
	won := false
	if _, live := r.records[rec.id]; live {
		r.removeLocked(rec)
		won = rec.finish(status, err)
	}
	r.mu.Unlock()
	if won {
		r.log.WithFields(logger.Fields{"req_id": rec.id, "kind": rec.kind.String(), "status": status.String()}).Debug("request ended locally")
		r.sendCancel(rec.kind, rec.id)
	}
}

func (r *Registry) status(rec *record) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rec.status
}

// Pending is the number of registered requests.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// FailAll ends every live request and order ticket with err and refuses
// further submissions.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	if r.closed == nil {
		r.closed = err
	}
	recs := r.records
	tickets := r.orders
	r.records = make(map[int64]*record)
	r.orders = make(map[int64]*OrderTicket)
	r.positionsID, r.openOrdersID = 0, 0
	for _, rec := range recs {
		rec.finish(StatusFailed, err)
	}
	r.mu.Unlock()

	r.cancel()
	seen := make(map[*OrderTicket]bool)
	for _, t := range tickets {
		if !seen[t] {
			seen[t] = true
			t.fail(err)
		}
	}
}

// ---- order tracking ---------------------------------------------------

func (r *Registry) track(t *OrderTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed != nil {
		return r.closed
	}
	for _, id := range t.IDs() {
		if _, ok := r.records[id]; ok {
			return fmt.Errorf("order id %d collides with a live request id", id)
		}
	}
	for _, id := range t.IDs() {
		r.orders[id] = t
	}
	return nil
}

func (r *Registry) untrack(ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.orders, id)
	}
}

// Tracked reports whether the order id still awaits a terminal status.
func (r *Registry) Tracked(orderID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.orders[orderID]
	return ok
}

// ---- dispatch ---------------------------------------------------------

// lookupLocked returns the live record for id if it has the expected kind.
// Caller holds r.mu.
func (r *Registry) lookupLocked(id int64, ev broker.Event, kinds ...Kind) *record {
	rec, ok := r.records[id]
	if !ok {
		r.log.WithFields(logger.Fields{"req_id": id, "event": ev.Kind()}).Debug("event for unknown request dropped")
		return nil
	}
	for _, k := range kinds {
		if rec.kind == k {
			return rec
		}
	}
	r.log.WithFields(logger.Fields{"req_id": id, "event": ev.Kind(), "kind": rec.kind.String()}).Debug("event does not match request kind")
	return nil
}

// completeLocked finishes rec as Completed. Caller holds r.mu.
func (r *Registry) completeLocked(rec *record) bool {
	r.removeLocked(rec)
	return rec.finish(StatusCompleted, nil)
}

// Dispatch routes one inbound event. Events that match nothing are
// dropped; Dispatch never fails.
func (r *Registry) Dispatch(ev broker.Event) {
	switch e := ev.(type) {
	case broker.TickPrice:
		r.tick(e.ReqID, ev, func(rec *record) string {
			if rec.kind == KindSnapshot {
				rec.result.Snapshot.SetPrice(e.Field, e.Price)
			}
			return rec.inst.Symbol
		}, func(sym string) { r.w.ApplyPrice(sym, e.Field, e.Price) })

	case broker.TickSize:
		r.tick(e.ReqID, ev, func(rec *record) string {
			if rec.kind == KindSnapshot {
				rec.result.Snapshot.SetSize(e.Field, e.Size)
			}
			return rec.inst.Symbol
		}, func(sym string) { r.w.ApplySize(sym, e.Field, e.Size) })

	case broker.TickSnapshotEnd:
		r.mu.Lock()
		if rec := r.lookupLocked(e.ReqID, ev, KindSnapshot); rec != nil {
			rec.result.Snapshot.Updated = time.Now()
			r.completeLocked(rec)
		}
		r.mu.Unlock()

	case broker.HistoricalBar:
		r.mu.Lock()
		if rec := r.lookupLocked(e.ReqID, ev, KindHistoricalBars); rec != nil {
			rec.result.Series.Bars = append(rec.result.Series.Bars, e.Bar)
		}
		r.mu.Unlock()

	case broker.HistoricalEnd:
		r.historyEnd(e)

	case broker.AccountSummary:
		r.mu.Lock()
		if rec := r.lookupLocked(e.ReqID, ev, KindAccountSummary); rec != nil {
			rec.result.AccountValues = append(rec.result.AccountValues, state.AccountValue{
				Account: e.Account, Tag: e.Tag, Value: e.Value, Currency: e.Currency,
			})
		}
		r.mu.Unlock()

	case broker.AccountSummaryEnd:
		r.mu.Lock()
		rec := r.lookupLocked(e.ReqID, ev, KindAccountSummary)
		var values []state.AccountValue
		won := rec != nil && r.completeLocked(rec)
		if won {
			values = rec.result.AccountValues
		}
		r.mu.Unlock()
		if won {
			r.w.ReplaceAccountValues(values)
			r.sendCancel(KindAccountSummary, e.ReqID)
		}

	case broker.Position:
		r.mu.Lock()
		if rec := r.lookupLocked(r.positionsID, ev, KindPositions); rec != nil {
			rec.result.Positions = append(rec.result.Positions, state.Position{
				Account: e.Account, Instrument: e.Instrument, Quantity: e.Quantity, AvgCost: e.AvgCost,
			})
		}
		r.mu.Unlock()

	case broker.PositionEnd:
		r.mu.Lock()
		id := r.positionsID
		rec := r.lookupLocked(id, ev, KindPositions)
		var positions []state.Position
		won := rec != nil && r.completeLocked(rec)
		if won {
			positions = rec.result.Positions
		}
		r.mu.Unlock()
		if won {
			r.w.ReplacePositions(positions)
			r.sendCancel(KindPositions, id)
		}

	case broker.OpenOrder:
		r.mu.Lock()
		if rec := r.lookupLocked(r.openOrdersID, ev, KindOpenOrders); rec != nil {
			rec.result.OpenOrders = append(rec.result.OpenOrders, OpenOrder{
				OrderID: e.OrderID, Instrument: e.Instrument, Order: e.Order, Status: e.Status,
			})
		}
		r.mu.Unlock()

	case broker.OpenOrderEnd:
		r.mu.Lock()
		if rec := r.lookupLocked(r.openOrdersID, ev, KindOpenOrders); rec != nil {
			r.completeLocked(rec)
		}
		r.mu.Unlock()

	case broker.OrderStatus:
		r.orderStatus(e)

	case broker.ScannerData:
		r.mu.Lock()
		if rec := r.lookupLocked(e.ReqID, ev, KindScanner); rec != nil {
			rec.result.Scan = append(rec.result.Scan, ScanResult{
				Rank: e.Rank, Instrument: e.Instrument, Distance: e.Distance,
			})
		}
		r.mu.Unlock()

	case broker.ScannerEnd:
		r.mu.Lock()
		rec := r.lookupLocked(e.ReqID, ev, KindScanner)
		won := rec != nil && r.completeLocked(rec)
		r.mu.Unlock()
		if won {
			r.sendCancel(KindScanner, e.ReqID)
		}

	case broker.Error:
		r.gatewayError(e)

	default:
		r.log.WithField("event", ev.Kind()).Debug("event ignored by registry")
	}
}

// tick applies a price or size tick to a snapshot or live stream. The
// store write happens outside the registry lock.
func (r *Registry) tick(id int64, ev broker.Event, apply func(*record) string, store func(string)) {
	r.mu.Lock()
	rec := r.lookupLocked(id, ev, KindMarketData, KindSnapshot)
	sym := ""
	if rec != nil {
		sym = apply(rec)
		if rec.kind == KindMarketData {
			rec.deliver(ev)
		}
	}
	r.mu.Unlock()
	if sym != "" {
		store(sym)
	}
}

func (r *Registry) historyEnd(e broker.HistoricalEnd) {
	r.mu.Lock()
	rec := r.lookupLocked(e.ReqID, e, KindHistoricalBars)
	if rec == nil {
		r.mu.Unlock()
		return
	}
	vol, ok := indicators.Analyze(rec.result.Series, r.period)
	if ok {
		rec.result.Volatility = vol
	}
	sym := rec.inst.Symbol
	won := r.completeLocked(rec)
	r.mu.Unlock()

	if won && ok {
		r.w.SetVolatility(sym, vol)
	}
}

func (r *Registry) orderStatus(e broker.OrderStatus) {
	st := state.OrderStatus{
		OrderID:       e.OrderID,
		ParentID:      e.ParentID,
		Status:        e.Status,
		Filled:        e.Filled,
		Remaining:     e.Remaining,
		AvgFillPrice:  e.AvgFillPrice,
		LastFillPrice: e.LastFillPrice,
		WhyHeld:       e.WhyHeld,
		Updated:       time.Now(),
	}
	r.w.ApplyOrderStatus(st)

	r.mu.Lock()
	t := r.orders[e.OrderID]
	if t != nil && broker.IsTerminalStatus(e.Status) {
		delete(r.orders, e.OrderID)
	}
	r.mu.Unlock()

	if t != nil {
		t.update(st)
	}
	r.log.WithFields(logger.Fields{
		"order_id": e.OrderID,
		"status":   e.Status,
		"filled":   e.Filled,
	}).Debug("order status")
}

// gatewayError attaches an error to its order or request. An error tier
// code for a tracked order rejects that order; for a request it fails the
// request. Lower tiers ride along as request notices. Anything unowned
// goes to the sink.
func (r *Registry) gatewayError(e broker.Error) {
	ge := e.AsGatewayError()

	r.mu.Lock()
	if t := r.orders[e.ID]; t != nil && e.ID > 0 && ge.IsFailure() {
		delete(r.orders, e.ID)
		r.mu.Unlock()

		st := state.OrderStatus{OrderID: e.ID, Status: "Rejected", WhyHeld: ge.Message, Updated: time.Now()}
		if n, ok := t.Plan.Node(e.ID); ok {
			st.ParentID = n.ParentID
			st.Remaining = float64(n.Quantity)
		}
		r.w.ApplyOrderStatus(st)
		t.reject(st, ge)
		r.log.WithFields(logger.Fields{"order_id": e.ID, "code": e.Code}).Warn(e.Message)
		return
	}

	if rec, ok := r.records[e.ID]; ok && e.ID > 0 {
		if ge.IsFailure() {
			r.removeLocked(rec)
			rec.finish(StatusFailed, ge)
		} else {
			rec.result.Notices = append(rec.result.Notices, ge)
			if rec.kind == KindMarketData {
				rec.deliver(e)
			}
		}
		r.mu.Unlock()
		r.log.WithFields(logger.Fields{"req_id": e.ID, "code": e.Code, "tier": ge.Tier().String()}).Debug(e.Message)
		return
	}
	r.mu.Unlock()

	r.sink(ge)
}
