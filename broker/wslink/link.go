// Package wslink is a broker.Link over a websocket bridge to the gateway.
// Every frame is one JSON object whose "type" field names the request op or
// event kind; the remaining fields are the request or event body.
package wslink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/ibsession/broker"
	"github.com/rustyeddy/ibsession/logger"
)

// The gateway disconnects clients that exceed 50 messages per second.
const (
	DefaultRateLimit    = 45
	DefaultPingInterval = 20 * time.Second
	DefaultPath         = "/v1/api/ws"
	eventBuffer         = 1024
)

var ErrNotConnected = errors.New("websocket link not connected")

type Option func(*Link)

func WithPath(p string) Option { return func(l *Link) { l.path = p } }

// WithRateLimit paces outbound frames to rps with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(l *Link) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			l.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

func WithPingInterval(d time.Duration) Option { return func(l *Link) { l.ping = d } }

func WithLogger(log *logger.Log) Option { return func(l *Link) { l.log = log } }

type Link struct {
	path    string
	ping    time.Duration
	limiter *rate.Limiter
	log     *logger.Log
	dialer  *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	events  chan broker.Event
	done    chan struct{}
	closing *sync.Once

	// writeMu serialises data frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

var _ broker.Link = (*Link)(nil)

func New(opts ...Option) *Link {
	l := &Link{
		path:    DefaultPath,
		ping:    DefaultPingInterval,
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		log:     logger.Default(),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

type startAPI struct {
	Type     string `json:"type"`
	ClientID int    `json:"client_id"`
}

func (l *Link) Connect(ctx context.Context, host string, port int, clientID int) error {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     l.path,
		RawQuery: url.Values{"clientId": {strconv.Itoa(clientID)}}.Encode(),
	}
	log := l.log.WithComponent("wslink").WithFields(logger.Fields{"url": u.String(), "client_id": clientID})

	conn, _, err := l.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.WithError(err).Warn("websocket dial failed")
		return &broker.ConnectionError{Host: host, Port: port, Err: err}
	}
	if err := conn.WriteJSON(startAPI{Type: "startApi", ClientID: clientID}); err != nil {
		conn.Close()
		return &broker.ConnectionError{Host: host, Port: port, Err: err}
	}

	l.mu.Lock()
	l.conn = conn
	l.events = make(chan broker.Event, eventBuffer)
	l.done = make(chan struct{})
	l.closing = &sync.Once{}
	events, done := l.events, l.done
	l.mu.Unlock()

	go l.readLoop(conn, events, done)
	if l.ping > 0 {
		go l.pingLoop(conn, done)
	}
	log.Info("websocket link connected")
	return nil
}

func (l *Link) Disconnect() error {
	l.mu.Lock()
	conn, done, closing := l.conn, l.done, l.closing
	l.mu.Unlock()
	if conn == nil {
		return nil
	}

	var err error
	closing.Do(func() {
		close(done)
		l.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		err = conn.Close()
	})
	return err
}

func (l *Link) Events() <-chan broker.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

func (l *Link) Send(ctx context.Context, req broker.Request) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := Encode(req)
	if err != nil {
		return err
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send %s: %w", req.Op(), err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", req.Op(), err)
	}
	return nil
}

// readLoop is the only sender on events and closes it when the socket
// fails, which the session treats as a lost connection.
func (l *Link) readLoop(conn *websocket.Conn, events chan broker.Event, done chan struct{}) {
	defer close(events)
	log := l.log.WithComponent("wslink")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
				log.WithError(err).Warn("websocket read error")
			}
			return
		}
		ev, err := Decode(msg)
		if err != nil {
			log.WithError(err).Debug("dropping undecodable frame")
			continue
		}
		select {
		case events <- ev:
		case <-done:
			return
		}
	}
}

func (l *Link) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(l.ping)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(l.ping / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				l.log.WithComponent("wslink").WithError(err).Debug("ping failed")
			}
		}
	}
}

// Encode frames a request as its JSON body plus a "type" field.
func Encode(req broker.Request) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Op(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Op(), err)
	}
	op, _ := json.Marshal(req.Op())
	fields["type"] = op
	return json.Marshal(fields)
}
