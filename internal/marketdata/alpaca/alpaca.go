// Package alpaca adapts the Alpaca market data API to the bar source ports.
// History comes from the REST bars endpoint; live bars come from the
// stocks stream, which publishes minute bars that are resampled to the
// requested interval.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata/stream"

	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/resample"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Config holds Alpaca credentials and feed selection.
type Config struct {
	APIKey    string
	APISecret string
	// Feed is "iex" (free) or "sip".
	Feed string
	// BufferSize is the live bar queue length.
	BufferSize int
}

// barStream is the part of stream.StocksClient the live feed uses.
type barStream interface {
	Connect(ctx context.Context) error
	Terminated() <-chan error
}

type dialFunc func(feed amd.Feed, key, secret, symbol string, handler func(stream.Bar)) barStream

type barsFunc func(symbol string, req amd.GetBarsRequest) ([]amd.Bar, error)

// Client implements model.MarketDataSource.
type Client struct {
	cfg  Config
	feed amd.Feed
	log  *slog.Logger

	bars barsFunc
	dial dialFunc
	now  func() time.Time
}

var _ model.MarketDataSource = (*Client)(nil)

// New creates a client backed by the Alpaca REST and stream APIs.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Feed == "" {
		cfg.Feed = amd.IEX
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	rest := amd.NewClient(amd.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Feed:      cfg.Feed,
	})
	return &Client{
		cfg:  cfg,
		feed: cfg.Feed,
		log:  log.With("component", "alpaca"),
		bars: rest.GetBars,
		dial: dialStocks,
		now:  time.Now,
	}
}

func dialStocks(feed amd.Feed, key, secret, symbol string, handler func(stream.Bar)) barStream {
	return stream.NewStocksClient(feed,
		stream.WithCredentials(key, secret),
		stream.WithBars(handler, symbol),
	)
}

// FetchHistory implements model.HistorySource.
func (c *Client) FetchHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) (*model.BarSeries, error) {
	if err := marketdata.ValidateRange(ticker, start, end, interval); err != nil {
		return nil, err
	}
	tf, base, resampled := timeFrame(interval)

	type result struct {
		bars []amd.Bar
		err  error
	}
	// GetBars takes no context; run it aside so cancellation returns promptly.
	done := make(chan result, 1)
	go func() {
		bars, err := c.bars(ticker, amd.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      c.feed,
		})
		done <- result{bars, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return nil, fmt.Errorf("alpaca bars %s %s: %w", ticker, interval, res.err)
	}

	out := make([]model.Bar, 0, len(res.bars))
	for _, b := range res.bars {
		if b.Timestamp.Before(start) || !b.Timestamp.Before(end) {
			continue
		}
		out = append(out, fromREST(b))
	}

	if resampled {
		raw, _ := model.NewBarSeries(ticker, base, out)
		return resample.Series(raw, interval), nil
	}
	series, dropped := model.NewBarSeries(ticker, interval, out)
	if dropped > 0 {
		c.log.Warn("dropped invalid bars", "ticker", ticker, "interval", interval.String(), "count", dropped)
	}
	return series, nil
}

// FetchRecent implements model.HistorySource.
func (c *Client) FetchRecent(ctx context.Context, ticker string, lookback time.Duration, interval model.Interval) (*model.BarSeries, error) {
	return marketdata.RecentFromHistory(ctx, c, c.now(), ticker, lookback, interval)
}

// OpenLiveStream implements model.LiveSource. Each call owns one stream
// connection; sharing across consumers is the fanout's job.
func (c *Client) OpenLiveStream(ctx context.Context, ticker string, interval model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	if ticker == "" {
		return nil, nil, &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	raw := make(chan stream.Bar, c.cfg.BufferSize)
	handler := func(b stream.Bar) {
		select {
		case raw <- b:
		default:
			c.log.Warn("live bar dropped, queue full", "ticker", ticker)
		}
	}

	sc := c.dial(c.feed, c.cfg.APIKey, c.cfg.APISecret, ticker, handler)
	if err := sc.Connect(ctx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("alpaca stream connect %s: %w", ticker, err)
	}
	c.log.Info("live stream connected", "ticker", ticker, "interval", interval.String(), "feed", c.feed)

	out := make(chan model.BarEvent, c.cfg.BufferSize)
	done := make(chan struct{})
	go c.pump(ctx, sc, raw, out, done, ticker, interval)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	return out, stop, nil
}

func (c *Client) pump(ctx context.Context, sc barStream, raw <-chan stream.Bar, out chan<- model.BarEvent, done chan<- struct{}, ticker string, interval model.Interval) {
	defer close(done)
	defer close(out)

	var r *resample.Resampler
	if interval != model.MustInterval("1m") {
		r = resample.New(interval)
	}

	send := func(ev model.BarEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-sc.Terminated():
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = fmt.Errorf("stream terminated")
			}
			send(model.BarEvent{Err: fmt.Errorf("alpaca stream %s: %w", ticker, err)})
			return
		case sb := <-raw:
			b := fromStream(sb)
			if r == nil {
				if !send(model.BarEvent{Bar: b}) {
					return
				}
				continue
			}
			if fin, ok := r.Push(b); ok {
				if !send(model.BarEvent{Bar: fin}) {
					return
				}
			}
		}
	}
}

// timeFrame maps an interval to an Alpaca timeframe. Intervals Alpaca
// cannot serve directly are fetched at the base unit and resampled.
func timeFrame(iv model.Interval) (tf amd.TimeFrame, base model.Interval, resampled bool) {
	switch iv.Unit {
	case model.Minute:
		if iv.Count < 60 {
			return amd.NewTimeFrame(iv.Count, amd.Min), iv, false
		}
		return amd.NewTimeFrame(1, amd.Min), model.Interval{Count: 1, Unit: model.Minute}, true
	case model.Hour:
		if iv.Count < 24 {
			return amd.NewTimeFrame(iv.Count, amd.Hour), iv, false
		}
		return amd.NewTimeFrame(1, amd.Hour), model.Interval{Count: 1, Unit: model.Hour}, true
	case model.Day:
		if iv.Count == 1 {
			return amd.NewTimeFrame(1, amd.Day), iv, false
		}
		return amd.NewTimeFrame(1, amd.Day), model.Interval{Count: 1, Unit: model.Day}, true
	default:
		if iv.Count == 1 {
			return amd.NewTimeFrame(1, amd.Week), iv, false
		}
		return amd.NewTimeFrame(1, amd.Week), model.Interval{Count: 1, Unit: model.Week}, true
	}
}

func fromREST(b amd.Bar) model.Bar {
	return model.Bar{
		TS:     b.Timestamp.UTC(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: float64(b.Volume),
	}
}

func fromStream(b stream.Bar) model.Bar {
	return model.Bar{
		TS:     b.Timestamp.UTC(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: float64(b.Volume),
	}
}
