package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

var t0 = time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC)

// ──────────────────────────────────────────────────────────────
// Fake history
// ──────────────────────────────────────────────────────────────

type fakeHistory struct {
	mu    sync.Mutex
	bars  []model.Bar
	err   error
	calls int
}

func (f *fakeHistory) FetchHistory(context.Context, string, time.Time, time.Time, model.Interval) (*model.BarSeries, error) {
	return nil, errors.New("not used")
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

func (f *fakeHistory) add(b model.Bar) {
	f.mu.Lock()
	f.bars = append(f.bars, b)
	f.mu.Unlock()
}

func bar(min int, c float64) model.Bar {
	return model.Bar{TS: t0.Add(time.Duration(min) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
}

func newPoller(src model.HistorySource, now time.Time) *Poller {
	p := New(src, Config{Every: 20 * time.Millisecond, MaxFailures: 3}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.now = func() time.Time { return now }
	return p
}

func recv(t *testing.T, ch <-chan model.BarEvent) model.BarEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.BarEvent{}
}

// ──────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────

func TestPoller_FirstPollEmitsNewestFinishedBar(t *testing.T) {
	h := &fakeHistory{bars: []model.Bar{bar(0, 1), bar(1, 2), bar(2, 3), bar(3, 4)}}
	// 13:33:30: the 13:33 bucket is still forming.
	p := newPoller(h, t0.Add(3*time.Minute+30*time.Second))

	events, stop, err := p.OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	ev := recv(t, events)
	if ev.Err != nil || ev.Bar.Close != 3 {
		t.Fatalf("first event %+v, want close 3", ev)
	}
}

func TestPoller_EmitsOnlyNewBarsInOrder(t *testing.T) {
	h := &fakeHistory{bars: []model.Bar{bar(0, 1), bar(1, 2)}}
	p := newPoller(h, t0.Add(time.Hour))

	events, stop, err := p.OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if ev := recv(t, events); ev.Bar.Close != 2 {
		t.Fatalf("got %+v", ev)
	}
	h.add(bar(2, 3))
	h.add(bar(3, 4))
	if ev := recv(t, events); ev.Bar.Close != 3 {
		t.Fatalf("got %+v, want close 3", ev)
	}
	if ev := recv(t, events); ev.Bar.Close != 4 {
		t.Fatalf("got %+v, want close 4", ev)
	}

	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPoller_TerminalAfterConsecutiveFailures(t *testing.T) {
	h := &fakeHistory{err: errors.New("rate limited")}
	p := newPoller(h, t0)

	events, stop, err := p.OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	ev := recv(t, events)
	if ev.Err == nil || !strings.Contains(ev.Err.Error(), "rate limited") {
		t.Fatalf("want terminal error, got %+v", ev)
	}
	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected channel to close after terminal error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}

	h.mu.Lock()
	calls := h.calls
	h.mu.Unlock()
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestPoller_StopClosesChannel(t *testing.T) {
	h := &fakeHistory{}
	p := newPoller(h, t0)

	events, stop, err := p.OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	if err != nil {
		t.Fatal(err)
	}
	stop()
	stop()
	for range events {
	}
}

func TestPoller_ContextCancelStops(t *testing.T) {
	h := &fakeHistory{}
	p := newPoller(h, t0)
	ctx, cancel := context.WithCancel(context.Background())

	events, stop, err := p.OpenLiveStream(ctx, "AAPL", model.MustInterval("1m"))
	if err != nil {
		t.Fatal(err)
	}
	defer stop()
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestPoller_RejectsBadArgs(t *testing.T) {
	p := newPoller(&fakeHistory{}, t0)
	if _, _, err := p.OpenLiveStream(context.Background(), "", model.MustInterval("1m")); !model.IsConfigurationError(err) {
		t.Fatalf("empty ticker: %v", err)
	}
	if _, _, err := p.OpenLiveStream(context.Background(), "AAPL", model.Interval{}); !model.IsConfigurationError(err) {
		t.Fatalf("zero interval: %v", err)
	}
}
