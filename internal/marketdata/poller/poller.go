// Package poller turns any history source into a live source by polling
// recent bars on a cron schedule and emitting the finished ones it has not
// emitted before.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Config tunes a Poller.
type Config struct {
	// Every is the poll period.
	Every time.Duration
	// Lookback is the window requested on each poll. Zero picks
	// max(2d, 100 bars).
	Lookback time.Duration
	// MaxFailures consecutive failed polls end the stream.
	MaxFailures int
	BufferSize  int
}

func (c Config) withDefaults() Config {
	if c.Every <= 0 {
		c.Every = 30 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	return c
}

// Poller implements model.LiveSource over a model.HistorySource.
type Poller struct {
	src model.HistorySource
	cfg Config
	log *slog.Logger
	now func() time.Time
}

var _ model.LiveSource = (*Poller)(nil)

// New creates a poller.
func New(src model.HistorySource, cfg Config, log *slog.Logger) *Poller {
	return &Poller{
		src: src,
		cfg: cfg.withDefaults(),
		log: log.With("component", "poller"),
		now: time.Now,
	}
}

// every is a fixed-delay cron schedule. cron.Every rounds to whole
// seconds, which is too coarse for short test periods.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// OpenLiveStream implements model.LiveSource. The first poll runs
// immediately and emits only the newest finished bar.
func (p *Poller) OpenLiveStream(ctx context.Context, ticker string, interval model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	if ticker == "" {
		return nil, nil, &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return nil, nil, err
	}

	lookback := p.cfg.Lookback
	if lookback <= 0 {
		lookback = 100 * interval.Duration()
		if lookback < 48*time.Hour {
			lookback = 48 * time.Hour
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan model.BarEvent, p.cfg.BufferSize)
	done := make(chan struct{})

	j := &job{
		p:        p,
		ctx:      ctx,
		cancel:   cancel,
		out:      out,
		ticker:   ticker,
		interval: interval,
		lookback: lookback,
	}

	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	cr.Schedule(every(p.cfg.Every), j)
	cr.Start()

	go func() {
		defer close(done)
		j.Run()
		<-ctx.Done()
		<-cr.Stop().Done()
		j.mu.Lock()
		close(out)
		j.closed = true
		j.mu.Unlock()
	}()

	p.log.Info("polling started", "ticker", ticker, "interval", interval.String(), "every", p.cfg.Every)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	return out, stop, nil
}

type job struct {
	p        *Poller
	ctx      context.Context
	cancel   context.CancelFunc
	out      chan model.BarEvent
	ticker   string
	interval model.Interval
	lookback time.Duration

	mu       sync.Mutex
	closed   bool
	last     time.Time
	started  bool
	failures int
}

// Run performs one poll. It implements cron.Job.
func (j *job) Run() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed || j.ctx.Err() != nil {
		return
	}

	series, err := j.p.src.FetchRecent(j.ctx, j.ticker, j.lookback, j.interval)
	if err != nil {
		if j.ctx.Err() != nil {
			return
		}
		j.failures++
		j.p.log.Warn("poll failed", "ticker", j.ticker, "interval", j.interval.String(), "failures", j.failures, "err", err)
		if j.failures >= j.p.cfg.MaxFailures {
			j.send(model.BarEvent{Err: fmt.Errorf("poll %s: %d consecutive failures: %w", j.ticker, j.failures, err)})
			j.cancel()
		}
		return
	}
	j.failures = 0

	now := j.p.now()
	var fresh []model.Bar
	for i := 0; i < series.Len(); i++ {
		b := series.At(i)
		if j.started && !b.TS.After(j.last) {
			continue
		}
		// The newest bucket is still forming until its end has passed.
		if b.TS.Add(j.interval.Duration()).After(now) {
			continue
		}
		fresh = append(fresh, b)
	}
	if !j.started {
		if len(fresh) == 0 {
			return
		}
		fresh = fresh[len(fresh)-1:]
		j.started = true
	}

	for _, b := range fresh {
		if !j.send(model.BarEvent{Bar: b}) {
			return
		}
		j.last = b.TS
	}
}

func (j *job) send(ev model.BarEvent) bool {
	select {
	case j.out <- ev:
		return true
	case <-j.ctx.Done():
		return false
	}
}
