package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/id"
	"github.com/Raziel0714/daisyStockAnalysis/internal/indicator"
	"github.com/Raziel0714/daisyStockAnalysis/internal/logger"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/fanout"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// ErrSessionClosed is returned by Next after Close.
var ErrSessionClosed = errors.New("session closed")

// LiveQuery opens a live session.
type LiveQuery struct {
	Ticker   string
	Interval model.Interval
	Strategy strategy.Config
	// Warmup is the history replayed into the session before live bars.
	// Zero skips warm-up.
	Warmup time.Duration
}

// Session owns one pipeline and one strategy for a live subscription.
// The strategy state carries across bars, so a breakout on one bar and its
// retest on a later bar are seen as one sequence. Next is not safe for
// concurrent use; Close may be called from any goroutine.
type Session struct {
	ID       string
	Ticker   string
	interval model.Interval

	svc   *Service
	sub   *fanout.Subscription
	pipe  *indicator.Pipeline
	strat strategy.Strategy
	cols  []string
	log   *slog.Logger

	lastTS    time.Time
	closeOnce sync.Once
	closed    chan struct{}
}

// OpenSession validates q, subscribes to the fanout and warms the session
// with recent history. The subscription is taken first so no bar falls
// between warm-up and live delivery.
func (s *Service) OpenSession(ctx context.Context, q LiveQuery) (*Session, error) {
	if s.fan == nil {
		return nil, fmt.Errorf("open session: %w", model.ErrUnsupported)
	}
	if err := validateCommon(q.Ticker, q.Interval, q.Strategy); err != nil {
		return nil, err
	}
	strat, err := strategy.New(q.Strategy)
	if err != nil {
		return nil, err
	}
	pipe, err := indicator.New(q.Strategy.Requests()...)
	if err != nil {
		return nil, err
	}

	sub, err := s.fan.Subscribe(ctx, q.Ticker, q.Interval)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:       id.New(),
		Ticker:   q.Ticker,
		interval: q.Interval,
		svc:      s,
		sub:      sub,
		pipe:     pipe,
		strat:    strat,
		cols:     pipe.Columns(),
		closed:   make(chan struct{}),
	}
	sess.log = logger.With(ctx, s.log).With("session_id", sess.ID, "ticker", q.Ticker)

	if q.Warmup > 0 && s.src != nil {
		if err := sess.warm(ctx, q.Warmup); err != nil {
			sub.Close()
			return nil, err
		}
	}

	if s.Hooks.OnSession != nil {
		s.Hooks.OnSession(1)
	}
	sess.log.Info("session opened", "interval", q.Interval.String(), "strategy", strat.Name(), "warm_bars_until", sess.lastTS)
	return sess, nil
}

func (ss *Session) warm(ctx context.Context, lookback time.Duration) error {
	series, err := ss.svc.src.FetchRecent(ctx, ss.Ticker, lookback, ss.interval)
	if errors.Is(err, model.ErrUnsupported) {
		ss.log.Warn("no history for warm-up, starting cold")
		return nil
	}
	if err != nil {
		return fmt.Errorf("warm-up %s: %w", ss.Ticker, err)
	}
	for i := 0; i < series.Len(); i++ {
		b := series.At(i)
		ss.strat.Step(ss.pipe.Next(b))
		ss.lastTS = b.TS
	}
	return nil
}

// Interval returns the interval the session currently tracks.
func (ss *Session) Interval() model.Interval { return ss.interval }

// Columns returns the indicator columns of each row.
func (ss *Session) Columns() []string { return ss.cols }

// Next blocks for the next live bar and returns its update. A lost
// upstream is returned as *model.UpstreamError; the session is over after
// any error.
func (ss *Session) Next(ctx context.Context) (Update, error) {
	for {
		select {
		case <-ctx.Done():
			return Update{}, ctx.Err()
		case <-ss.closed:
			return Update{}, ErrSessionClosed
		case ev, ok := <-ss.sub.Events():
			if !ok {
				if err := ss.sub.Err(); err != nil {
					return Update{}, err
				}
				return Update{}, ErrSessionClosed
			}
			if ev.Kind == fanout.EventError {
				return Update{}, ev.Err
			}
			if ev.Restart {
				ss.pipe.Reset()
				ss.strat.Reset()
				ss.lastTS = time.Time{}
				ss.interval = ev.Interval
				ss.log.Info("session reset for new interval", "interval", ev.Interval.String())
			}
			if !ev.Bar.TS.After(ss.lastTS) {
				continue
			}
			return ss.step(ev), nil
		}
	}
}

func (ss *Session) step(ev fanout.Event) Update {
	row := ss.pipe.Next(ev.Bar)
	e := ss.strat.Step(row)
	ss.lastTS = ev.Bar.TS

	u := Update{
		Ticker:   ss.Ticker,
		Interval: ss.interval,
		Row:      Row{IndicatorRow: row, Event: e},
		Missed:   ev.Missed,
		Restart:  ev.Restart,
		columns:  ss.cols,
	}
	if sig, ok := strategy.LastSignal(ss.strat.Name(), ss.Ticker, []model.IndicatorRow{row}, []strategy.Event{e}); ok {
		u.Signal = &sig
		ss.log.Info("signal", "action", string(sig.Action), "price", sig.Price, "ts", sig.TS)
		if ss.svc.Hooks.OnSignal != nil {
			ss.svc.Hooks.OnSignal(sig)
		}
	}
	return u
}

// Close ends the session and its subscription. Idempotent.
func (ss *Session) Close() {
	ss.closeOnce.Do(func() {
		close(ss.closed)
		ss.sub.Close()
		if ss.svc.Hooks.OnSession != nil {
			ss.svc.Hooks.OnSession(-1)
		}
		ss.log.Info("session closed")
	})
}
