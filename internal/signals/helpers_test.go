package signals

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

var (
	t0    = time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	oneM  = model.MustInterval("1m")
)

// breakoutCloses breaks above 10, retests within 1% and confirms on the
// last bar.
var breakoutCloses = []float64{10, 10, 10, 11, 10.05, 11.2}

func testStrategy() strategy.Config {
	cfg := strategy.DefaultConfig()
	cfg.BreakRetest = strategy.Params{Lookback: 3, Tolerance: 0.01, ConfirmationBars: 1}
	return cfg
}

func flatBar(i int, c float64) model.Bar {
	return model.Bar{TS: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 100}
}

func barsOf(closes []float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = flatBar(i, c)
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Fake history
// ────────────────────────────────────────────────────────────

type fakeHistory struct {
	mu      sync.Mutex
	bars    []model.Bar
	err     error
	lastEnd time.Time
	calls   int
}

func (f *fakeHistory) set(bars []model.Bar) {
	f.mu.Lock()
	f.bars = bars
	f.mu.Unlock()
}

func (f *fakeHistory) FetchHistory(_ context.Context, ticker string, start, end time.Time, iv model.Interval) (*model.BarSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastEnd = end
	if f.err != nil {
		return nil, f.err
	}
	var in []model.Bar
	for _, b := range f.bars {
		if !b.TS.Before(start) && b.TS.Before(end) {
			in = append(in, b)
		}
	}
	s, _ := model.NewBarSeries(ticker, iv, in)
	return s, nil
}

func (f *fakeHistory) FetchRecent(_ context.Context, ticker string, _ time.Duration, iv model.Interval) (*model.BarSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s, _ := model.NewBarSeries(ticker, iv, f.bars)
	return s, nil
}

// ────────────────────────────────────────────────────────────
// Fake live source
// ────────────────────────────────────────────────────────────

type fakeLive struct {
	mu      sync.Mutex
	streams []chan model.BarEvent
}

func (f *fakeLive) OpenLiveStream(context.Context, string, model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan model.BarEvent, 16)
	f.streams = append(f.streams, ch)
	return ch, func() {}, nil
}

func (f *fakeLive) stream(i int) chan model.BarEvent {
	for deadline := time.Now().Add(time.Second); time.Now().Before(deadline); time.Sleep(5 * time.Millisecond) {
		f.mu.Lock()
		if i < len(f.streams) {
			ch := f.streams[i]
			f.mu.Unlock()
			return ch
		}
		f.mu.Unlock()
	}
	panic("stream never opened")
}
