// Package session connects to the gateway and turns its single ordered
// event stream into per-request results, live streams and order tickets.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/logger"
)

const DefaultHandshakeTimeout = 5 * time.Second

// Manager opens sessions and tracks the live ones so they can all be
// closed together.
type Manager struct {
	newLink          func() broker.Link
	pool             *ClientIDPool
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	log              *logger.Log
	marketDataType   int
	sink             ErrorSink
	atrPeriod        int

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

type ManagerOption func(*Manager)

func WithPool(p *ClientIDPool) ManagerOption {
	return func(m *Manager) { m.pool = p }
}

func WithHandshakeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.handshakeTimeout = d }
}

func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.requestTimeout = d }
}

func WithLogger(l *logger.Log) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithMarketDataType is sent once when a session becomes ready. Zero
// leaves the gateway default.
func WithMarketDataType(t int) ManagerOption {
	return func(m *Manager) { m.marketDataType = t }
}

func WithErrorSink(sink ErrorSink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

// WithATRPeriod sets the period used for the volatility summary of every
// historical series.
func WithATRPeriod(p int) ManagerOption {
	return func(m *Manager) { m.atrPeriod = p }
}

// NewManager builds a manager. newLink is called once per Connect.
func NewManager(newLink func() broker.Link, opts ...ManagerOption) *Manager {
	m := &Manager{
		newLink:          newLink,
		pool:             DefaultPool(),
		handshakeTimeout: DefaultHandshakeTimeout,
		requestTimeout:   DefaultRequestTimeout,
		sessions:         make(map[*Session]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = logger.Default()
	}
	if m.sink == nil {
		m.sink = LogSink(m.log.WithComponent("gateway"))
	}
	return m
}

type connectOptions struct {
	clientID    int
	hasClientID bool
}

type ConnectOption func(*connectOptions)

// WithClientID asks for a specific client id instead of a random one.
func WithClientID(id int) ConnectOption {
	return func(o *connectOptions) {
		o.clientID = id
		o.hasClientID = true
	}
}

// Connect opens a session and waits for the gateway's first order id.
// Transport failures come back as *broker.ConnectionError without retry.
func (m *Manager) Connect(ctx context.Context, host string, port int, opts ...ConnectOption) (*Session, error) {
	var co connectOptions
	for _, o := range opts {
		o(&co)
	}

	clientID := co.clientID
	if co.hasClientID {
		if err := m.pool.AcquireID(clientID); err != nil {
			return nil, err
		}
	} else {
		id, err := m.pool.Acquire()
		if err != nil {
			return nil, err
		}
		clientID = id
	}

	link := m.newLink()
	s := newSession(m, link, host, port, clientID)
	s.log.Debug("connecting")

	if err := link.Connect(ctx, host, port, clientID); err != nil {
		m.pool.Release(clientID)
		var ce *broker.ConnectionError
		if !errors.As(err, &ce) {
			err = &broker.ConnectionError{Host: host, Port: port, Err: err}
		}
		s.log.WithError(err).Warn("connect failed")
		return nil, err
	}

	s.mu.Lock()
	s.state = AwaitingID
	s.mu.Unlock()
	m.add(s)
	go s.read(link.Events())

	timer := time.NewTimer(m.handshakeTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-timer.C:
		err := fmt.Errorf("connect %s:%d client %d after %s: %w", host, port, clientID, m.handshakeTimeout, ErrHandshakeTimeout)
		s.teardown(err)
		<-s.readerDone
		return nil, err
	case <-ctx.Done():
		err := fmt.Errorf("connect %s:%d: %w: %v", host, port, ErrCancelled, ctx.Err())
		s.teardown(err)
		<-s.readerDone
		return nil, err
	case <-s.done:
		return nil, fmt.Errorf("connect %s:%d: %w", host, port, s.Err())
	}

	if m.marketDataType > 0 {
		if err := link.Send(ctx, broker.ReqMarketDataType{Type: m.marketDataType}); err != nil {
			s.log.WithError(err).Warn("market data type not set")
		}
	}
	return s, nil
}

// WithSession connects, runs fn and disconnects on every exit path,
// including a panic in fn.
func (m *Manager) WithSession(ctx context.Context, host string, port int, fn func(*Session) error, opts ...ConnectOption) error {
	s, err := m.Connect(ctx, host, port, opts...)
	if err != nil {
		return err
	}
	defer s.Disconnect()
	return fn(s)
}

// Sessions is the number of live sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close disconnects every live session.
func (m *Manager) Close() error {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("client %d: %w", s.ClientID(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
}
