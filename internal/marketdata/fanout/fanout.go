// Package fanout shares one live upstream stream per ticker between any
// number of independently paced consumers.
//
// A single mutex guards the upstream map and every consumer set, so
// creating, tearing down, attaching and detaching never interleave. Slow
// network work (dialing, stopping) happens outside the lock while the
// ticker is marked busy; other callers for that ticker wait for the busy
// mark to clear.
package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/breaker"
	"github.com/Raziel0714/daisyStockAnalysis/internal/id"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

var (
	// ErrClosed is returned by Subscribe after Close, and is the terminal
	// error of subscriptions still open at Close.
	ErrClosed = errors.New("fanout closed")

	errStreamEnded = errors.New("live stream ended")
)

// Config tunes a Fanout.
type Config struct {
	// BufferSize is the per-consumer queue length.
	BufferSize int
	// StopTimeout bounds the wait for an upstream to confirm its stop.
	StopTimeout time.Duration
	// BreakerFailures consecutive open failures for a ticker trip its
	// breaker for BreakerCoolDown.
	BreakerFailures int
	BreakerCoolDown time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 2 * time.Second
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerCoolDown <= 0 {
		c.BreakerCoolDown = 30 * time.Second
	}
	return c
}

// Hooks observe fanout activity. They run synchronously, some with the
// fanout lock held, and must not call back into the Fanout.
type Hooks struct {
	OnOpen        func(ticker string, interval model.Interval)
	OnClose       func(ticker string)
	OnError       func(ticker string, err error)
	OnDrop        func(ticker, subID string)
	OnSubscribers func(delta int)
	OnBreaker     func(ticker string, state breaker.State)
}

// Fanout owns at most one upstream per ticker. Subscribing with a
// different interval restarts the ticker's upstream for every consumer.
type Fanout struct {
	src      model.LiveSource
	cfg      Config
	log      *slog.Logger
	breakers *breaker.Group

	// Hooks must be set before the first Subscribe.
	Hooks Hooks

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	upstreams map[string]*upstream
	busy      map[string]chan struct{}
	closed    bool
}

type upstream struct {
	id        string
	ticker    string
	interval  model.Interval
	openedAt  time.Time
	consumers map[*Subscription]struct{}
	detached  bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	stopFn   model.StopFunc
	cancel   context.CancelFunc
}

// shutdown signals the worker and releases the provider connection. Idempotent.
func (u *upstream) shutdown() {
	u.stopOnce.Do(func() {
		close(u.quit)
		if u.stopFn != nil {
			u.stopFn()
		}
		u.cancel()
	})
}

// New creates a Fanout over src.
func New(src model.LiveSource, cfg Config, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fanout{
		src:       src,
		cfg:       cfg,
		log:       log.With(slog.String("component", "fanout")),
		breakers:  breaker.NewGroup(cfg.BreakerFailures, cfg.BreakerCoolDown),
		ctx:       ctx,
		cancel:    cancel,
		upstreams: make(map[string]*upstream),
		busy:      make(map[string]chan struct{}),
	}
	f.breakers.OnStateChange = func(ticker string, _, to breaker.State) {
		if f.Hooks.OnBreaker != nil {
			f.Hooks.OnBreaker(ticker, to)
		}
	}
	return f
}

// Subscribe registers a consumer for ticker at interval. It opens the
// upstream if none exists and restarts it if it is bound to another
// interval. ctx only bounds the wait for a concurrent open or teardown of
// the same ticker; the subscription itself lives until Unsubscribe.
func (f *Fanout) Subscribe(ctx context.Context, ticker string, interval model.Interval) (*Subscription, error) {
	if ticker == "" {
		return nil, &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return nil, err
	}

	s := &Subscription{
		ID:       id.New(),
		Ticker:   ticker,
		f:        f,
		ch:       make(chan Event, f.cfg.BufferSize),
		interval: interval,
	}
	var carried []*Subscription

	f.mu.Lock()
	for {
		if f.closed {
			f.abandonLocked(carried, ErrClosed)
			f.mu.Unlock()
			return nil, ErrClosed
		}

		if wait, ok := f.busy[ticker]; ok {
			f.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				f.mu.Lock()
				f.abandonLocked(carried, ctx.Err())
				f.mu.Unlock()
				return nil, ctx.Err()
			}
			f.mu.Lock()
			continue
		}

		u := f.upstreams[ticker]
		if u != nil && u.interval != interval {
			f.log.Info("restarting upstream for new interval",
				slog.String("ticker", ticker),
				slog.String("from", u.interval.String()),
				slog.String("to", interval.String()),
				slog.Int("consumers", len(u.consumers)))
			for c := range u.consumers {
				c.up = nil
				carried = append(carried, c)
			}
			u.consumers = nil
			release := f.retireLocked(u)
			f.mu.Unlock()
			f.finishRetire(u, release, true)
			f.mu.Lock()
			continue
		}

		if u == nil {
			release := f.markBusyLocked(ticker)
			f.mu.Unlock()
			nu, events, err := f.open(ticker, interval)
			f.mu.Lock()
			f.clearBusyLocked(ticker, release)
			if err != nil {
				f.abandonLocked(carried, err)
				f.mu.Unlock()
				return nil, err
			}
			if f.closed {
				f.abandonLocked(carried, ErrClosed)
				f.mu.Unlock()
				nu.shutdown()
				return nil, ErrClosed
			}
			f.upstreams[ticker] = nu
			go f.pump(nu, events)
			u = nu
		}

		for _, c := range carried {
			if c.closed {
				continue
			}
			c.up = u
			c.interval = interval
			c.lastTS = time.Time{}
			c.restart = true
			u.consumers[c] = struct{}{}
		}
		s.up = u
		u.consumers[s] = struct{}{}
		f.subscribersChanged(1)
		break
	}
	f.mu.Unlock()

	f.log.Debug("subscribed", slog.String("ticker", ticker), slog.String("interval", interval.String()), slog.String("sub_id", s.ID))
	return s, nil
}

// Unsubscribe removes s. When s was the last consumer of its upstream the
// upstream is stopped, waiting up to StopTimeout for confirmation.
// Calling it more than once is harmless.
func (f *Fanout) Unsubscribe(s *Subscription) {
	f.mu.Lock()
	if s.closed {
		f.mu.Unlock()
		return
	}
	u := s.up
	s.terminateLocked(nil)
	if u == nil {
		f.mu.Unlock()
		return
	}
	delete(u.consumers, s)
	if len(u.consumers) > 0 || u.detached {
		f.mu.Unlock()
		return
	}
	release := f.retireLocked(u)
	f.mu.Unlock()

	f.log.Info("last consumer left, stopping upstream", slog.String("ticker", u.ticker), slog.String("upstream_id", u.id))
	f.finishRetire(u, release, true)
}

// Close terminates every subscription with ErrClosed and stops every
// upstream. Subscribe fails afterwards.
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	type retiring struct {
		u       *upstream
		release chan struct{}
	}
	var all []retiring
	for _, u := range f.upstreams {
		for s := range u.consumers {
			s.terminateLocked(ErrClosed)
		}
		u.consumers = nil
		all = append(all, retiring{u, f.retireLocked(u)})
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, r := range all {
		wg.Add(1)
		go func(r retiring) {
			defer wg.Done()
			f.finishRetire(r.u, r.release, true)
		}(r)
	}
	wg.Wait()
	f.cancel()
}

// UpstreamStat describes one live upstream.
type UpstreamStat struct {
	ID        string         `json:"id"`
	Ticker    string         `json:"ticker"`
	Interval  model.Interval `json:"interval"`
	Consumers int            `json:"consumers"`
	OpenedAt  time.Time      `json:"opened_at"`
}

// Stats lists the live upstreams.
func (f *Fanout) Stats() []UpstreamStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]UpstreamStat, 0, len(f.upstreams))
	for _, u := range f.upstreams {
		out = append(out, UpstreamStat{
			ID: u.id, Ticker: u.ticker, Interval: u.interval,
			Consumers: len(u.consumers), OpenedAt: u.openedAt,
		})
	}
	return out
}

// open dials the provider through the ticker's breaker. Called without the lock.
func (f *Fanout) open(ticker string, interval model.Interval) (*upstream, <-chan model.BarEvent, error) {
	ctx, cancel := context.WithCancel(f.ctx)
	var (
		events <-chan model.BarEvent
		stop   model.StopFunc
	)
	err := f.breakers.Execute(ticker, func() error {
		var err error
		events, stop, err = f.src.OpenLiveStream(ctx, ticker, interval)
		return err
	})
	if err != nil {
		cancel()
		f.log.Warn("open upstream failed", slog.String("ticker", ticker), slog.String("interval", interval.String()), slog.Any("err", err))
		if f.Hooks.OnError != nil {
			f.Hooks.OnError(ticker, err)
		}
		return nil, nil, &model.UpstreamError{Ticker: ticker, Interval: interval, Err: err}
	}

	u := &upstream{
		id:        id.New(),
		ticker:    ticker,
		interval:  interval,
		openedAt:  time.Now(),
		consumers: make(map[*Subscription]struct{}),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		stopFn:    stop,
		cancel:    cancel,
	}
	f.log.Info("upstream opened", slog.String("ticker", ticker), slog.String("interval", interval.String()), slog.String("upstream_id", u.id))
	if f.Hooks.OnOpen != nil {
		f.Hooks.OnOpen(ticker, interval)
	}
	return u, events, nil
}

// pump is the dedicated worker of one upstream.
func (f *Fanout) pump(u *upstream, events <-chan model.BarEvent) {
	defer close(u.done)
	for {
		select {
		case <-u.quit:
			return
		case ev, ok := <-events:
			if !ok {
				f.fail(u, errStreamEnded)
				return
			}
			if ev.Err != nil {
				f.fail(u, ev.Err)
				return
			}
			f.broadcast(u, ev.Bar)
		}
	}
}

// broadcast delivers bar to every consumer of u without blocking.
// Consumers of u are only delivered to by u's worker, so their delivery
// state is safe to update under the read lock.
func (f *Fanout) broadcast(u *upstream, bar model.Bar) {
	if err := bar.Validate(); err != nil {
		f.log.Warn("dropping invalid bar", slog.String("ticker", u.ticker), slog.Any("err", err))
		return
	}
	bar.TS = bar.TS.UTC()
	ev := Event{Kind: EventBar, Ticker: u.ticker, Interval: u.interval, Bar: bar}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if u.detached {
		return
	}
	for s := range u.consumers {
		if s.deliverLocked(ev) && f.Hooks.OnDrop != nil {
			f.Hooks.OnDrop(u.ticker, s.ID)
		}
	}
}

// fail reports err to every consumer of u as a terminal event and tears u
// down. Runs on u's worker.
func (f *Fanout) fail(u *upstream, err error) {
	f.mu.Lock()
	if u.detached {
		f.mu.Unlock()
		return
	}
	uerr := &model.UpstreamError{Ticker: u.ticker, Interval: u.interval, Err: err}
	for s := range u.consumers {
		s.terminateLocked(uerr)
	}
	u.consumers = nil
	release := f.retireLocked(u)
	f.mu.Unlock()

	f.log.Error("upstream failed", slog.String("ticker", u.ticker), slog.String("upstream_id", u.id), slog.Any("err", err))
	if f.Hooks.OnError != nil {
		f.Hooks.OnError(u.ticker, err)
	}
	f.finishRetire(u, release, false)
}

// retireLocked detaches u from the map and marks its ticker busy until
// finishRetire completes.
func (f *Fanout) retireLocked(u *upstream) chan struct{} {
	if f.upstreams[u.ticker] == u {
		delete(f.upstreams, u.ticker)
	}
	u.detached = true
	return f.markBusyLocked(u.ticker)
}

// finishRetire stops u and, when waitWorker is set, waits for its worker
// to exit, all within StopTimeout. Called without the lock.
func (f *Fanout) finishRetire(u *upstream, release chan struct{}, waitWorker bool) {
	stopped := make(chan struct{})
	go func() {
		u.shutdown()
		close(stopped)
	}()

	deadline := time.NewTimer(f.cfg.StopTimeout)
	defer deadline.Stop()
	ok := waitOrTimeout(stopped, deadline.C)
	if ok && waitWorker {
		ok = waitOrTimeout(u.done, deadline.C)
	}
	if !ok {
		f.log.Warn("upstream stop not confirmed in time",
			slog.String("ticker", u.ticker), slog.String("upstream_id", u.id), slog.Duration("timeout", f.cfg.StopTimeout))
	}

	f.mu.Lock()
	f.clearBusyLocked(u.ticker, release)
	f.mu.Unlock()

	if f.Hooks.OnClose != nil {
		f.Hooks.OnClose(u.ticker)
	}
}

func waitOrTimeout(ch <-chan struct{}, timeout <-chan time.Time) bool {
	select {
	case <-ch:
		return true
	case <-timeout:
		return false
	}
}

func (f *Fanout) markBusyLocked(ticker string) chan struct{} {
	ch := make(chan struct{})
	f.busy[ticker] = ch
	return ch
}

func (f *Fanout) clearBusyLocked(ticker string, ch chan struct{}) {
	if f.busy[ticker] == ch {
		delete(f.busy, ticker)
	}
	close(ch)
}

// abandonLocked terminates consumers that were carried across a restart
// that did not complete.
func (f *Fanout) abandonLocked(carried []*Subscription, err error) {
	for _, c := range carried {
		if !c.closed {
			c.terminateLocked(err)
		}
	}
}

func (f *Fanout) subscribersChanged(delta int) {
	if f.Hooks.OnSubscribers != nil {
		f.Hooks.OnSubscribers(delta)
	}
}
