package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/ibsession/broker"
)

// Handle is the caller's reference to one submitted request.
type Handle struct {
	reg *Registry
	rec *record
}

func (h *Handle) ID() int64      { return h.rec.id }
func (h *Handle) Kind() Kind     { return h.rec.kind }
func (h *Handle) Status() Status { return h.reg.status(h.rec) }

// Await blocks until a one-shot request completes. A zero timeout uses the
// registry default. On timeout the request is unregistered, marked
// TimedOut and any later events for it are dropped.
func (h *Handle) Await(ctx context.Context, timeout time.Duration) (Result, error) {
	if h.rec.kind.Streaming() {
		return Result{}, fmt.Errorf("await %s: %w", h.rec.kind, ErrWrongKind)
	}
	if timeout <= 0 {
		timeout = h.reg.timeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.rec.done:
	case <-timer.C:
		h.reg.expire(h.rec, StatusTimedOut, fmt.Errorf("%s request %d after %s: %w", h.rec.kind, h.rec.id, timeout, ErrRequestTimeout))
	case <-ctx.Done():
		h.reg.expire(h.rec, StatusCancelled, fmt.Errorf("%s request %d: %w: %v", h.rec.kind, h.rec.id, ErrCancelled, ctx.Err()))
	}
	return h.rec.outcome()
}

// Stream returns the live view of a streaming request.
func (h *Handle) Stream() (*Stream, error) {
	if !h.rec.kind.Streaming() {
		return nil, fmt.Errorf("stream %s: %w", h.rec.kind, ErrWrongKind)
	}
	return &Stream{h: h}, nil
}

// Stream is an unbounded sequence of tick events for one subscription.
// Delivery never blocks the dispatcher: when the buffer is full the event
// is dropped and counted.
type Stream struct {
	h *Handle
}

func (s *Stream) ID() int64 { return s.h.rec.id }

// C yields TickPrice, TickSize and non-fatal Error events. It is closed
// when the stream is cancelled or fails.
func (s *Stream) C() <-chan broker.Event { return s.h.rec.stream }

// Cancel ends the subscription locally and tells the gateway to stop. It
// does not wait for the gateway; nothing further is delivered on C.
func (s *Stream) Cancel() {
	s.h.reg.expire(s.h.rec, StatusCancelled, ErrCancelled)
}

func (s *Stream) Done() <-chan struct{} { return s.h.rec.done }

// Dropped counts events discarded because the consumer fell behind.
func (s *Stream) Dropped() int64 { return s.h.rec.dropped.Load() }

// Err is nil while the stream is live, then the reason it ended.
func (s *Stream) Err() error {
	select {
	case <-s.h.rec.done:
		return s.h.rec.err
	default:
		return nil
	}
}

func (s *Stream) Status() Status { return s.h.Status() }
