package fanout

import (
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// EventKind distinguishes bar events from the terminal error event.
type EventKind int

const (
	EventBar EventKind = iota
	EventError
)

// Event is one item delivered to a consumer.
type Event struct {
	Kind     EventKind
	Ticker   string
	Interval model.Interval
	Bar      model.Bar

	// Missed counts bars dropped for this consumer since its previous
	// delivered event because its queue was full.
	Missed int

	// Restart is set on the first bar after the upstream was restarted
	// with a new interval. Consumers holding per-interval state should
	// reset it.
	Restart bool

	// Err is set on EventError; it is an *model.UpstreamError or ErrClosed.
	Err error
}

// Subscription is one consumer's handle. Drain Events until it is closed,
// then check Err.
type Subscription struct {
	ID     string
	Ticker string

	f  *Fanout
	ch chan Event

	// guarded by f.mu
	up       *upstream
	interval model.Interval
	err      error
	closed   bool

	// delivery state, written by the owning upstream's worker under the
	// read lock or by holders of the write lock
	lastTS  time.Time
	missed  int
	restart bool
}

// Events returns the delivery channel. It is closed when the subscription
// ends; a terminal error is delivered first when the queue has room.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Interval returns the interval currently delivered.
func (s *Subscription) Interval() model.Interval {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	return s.interval
}

// Err returns the terminal error, or nil after a plain unsubscribe.
func (s *Subscription) Err() error {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	return s.err
}

// Close unsubscribes.
func (s *Subscription) Close() { s.f.Unsubscribe(s) }

// deliverLocked enqueues ev without blocking. Bars not newer than the
// last one seen are skipped. It reports whether ev was dropped.
func (s *Subscription) deliverLocked(ev Event) (dropped bool) {
	if s.closed || !ev.Bar.TS.After(s.lastTS) {
		return false
	}
	s.lastTS = ev.Bar.TS
	ev.Missed = s.missed
	ev.Restart = s.restart
	select {
	case s.ch <- ev:
		s.missed = 0
		s.restart = false
		return false
	default:
		s.missed++
		return true
	}
}

// terminateLocked ends the subscription. A non-nil err is recorded and
// offered to the consumer as a final event.
func (s *Subscription) terminateLocked(err error) {
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	s.up = nil
	if err != nil {
		select {
		case s.ch <- Event{Kind: EventError, Ticker: s.Ticker, Interval: s.interval, Err: err}:
		default:
		}
	}
	close(s.ch)
	s.f.subscribersChanged(-1)
}
