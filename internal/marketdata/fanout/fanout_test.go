package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/breaker"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// ────────────────────────────────────────────────────────────
// Fake live source
// ────────────────────────────────────────────────────────────

type fakeStream struct {
	ticker   string
	interval model.Interval
	ch       chan model.BarEvent
	stopped  chan struct{}
	once     sync.Once
	block    <-chan struct{}
}

func (s *fakeStream) stop() {
	if s.block != nil {
		<-s.block
	}
	s.once.Do(func() { close(s.stopped) })
}

func (s *fakeStream) isStopped() bool {
	select {
	case <-s.stopped:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	mu        sync.Mutex
	streams   []*fakeStream
	attempts  int
	failOpen  error
	blockStop chan struct{}
}

func (f *fakeSource) OpenLiveStream(_ context.Context, ticker string, iv model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failOpen != nil {
		return nil, nil, f.failOpen
	}
	s := &fakeStream{
		ticker: ticker, interval: iv,
		ch:      make(chan model.BarEvent, 16),
		stopped: make(chan struct{}),
		block:   f.blockStop,
	}
	f.streams = append(f.streams, s)
	return s.ch, s.stop, nil
}

func (f *fakeSource) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeSource) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var (
	oneMin  = model.MustInterval("1m")
	fiveMin = model.MustInterval("5m")
	t0      = time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC)
)

func barAt(i int) model.Bar {
	p := 100 + float64(i)
	return model.Bar{TS: t0.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: 10}
}

func newTestFanout(src *fakeSource, buf int) *Fanout {
	return New(src, Config{BufferSize: buf, StopTimeout: 500 * time.Millisecond}, nil)
}

func mustSubscribe(t *testing.T, f *Fanout, ticker string, iv model.Interval) *Subscription {
	t.Helper()
	s, err := f.Subscribe(context.Background(), ticker, iv)
	if err != nil {
		t.Fatalf("subscribe %s %s: %v", ticker, iv, err)
	}
	return s
}

func recv(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatalf("sub %s: channel closed", s.ID)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("sub %s: timed out waiting for event", s.ID)
	}
	return Event{}
}

func expectQuiet(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if ok {
			t.Fatalf("sub %s: unexpected event %+v", s.ID, ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func expectClosed(t *testing.T, s *Subscription) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("sub %s: channel not closed", s.ID)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Tests
// ────────────────────────────────────────────────────────────

func TestFanout_SharesOneUpstream(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s1 := mustSubscribe(t, f, "AAPL", oneMin)
	s2 := mustSubscribe(t, f, "AAPL", oneMin)
	if n := src.opens(); n != 1 {
		t.Fatalf("expected 1 upstream, got %d", n)
	}

	src.stream(0).ch <- model.BarEvent{Bar: barAt(1)}
	for _, s := range []*Subscription{s1, s2} {
		ev := recv(t, s)
		if ev.Kind != EventBar || ev.Bar.Close != 101 || ev.Ticker != "AAPL" {
			t.Errorf("sub %s: got %+v", s.ID, ev)
		}
	}

	stats := f.Stats()
	if len(stats) != 1 || stats[0].Consumers != 2 || stats[0].Interval != oneMin {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestFanout_UnsubscribeOneKeepsOther(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s1 := mustSubscribe(t, f, "AAPL", oneMin)
	s2 := mustSubscribe(t, f, "AAPL", oneMin)

	s1.Close()
	if evs := expectClosed(t, s1); len(evs) != 0 {
		t.Fatalf("plain unsubscribe should not emit events, got %+v", evs)
	}
	if s1.Err() != nil {
		t.Fatalf("plain unsubscribe Err=%v", s1.Err())
	}
	if src.stream(0).isStopped() {
		t.Fatal("upstream stopped while a consumer remains")
	}

	src.stream(0).ch <- model.BarEvent{Bar: barAt(1)}
	if ev := recv(t, s2); ev.Bar.Close != 101 {
		t.Fatalf("s2 got %+v", ev)
	}
	s1.Close() // second call is harmless
}

func TestFanout_LastUnsubscribeStopsUpstream(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s := mustSubscribe(t, f, "AAPL", oneMin)
	f.Unsubscribe(s)

	if !src.stream(0).isStopped() {
		t.Fatal("upstream not stopped after last unsubscribe returned")
	}
	if len(f.Stats()) != 0 {
		t.Fatalf("stats not empty: %+v", f.Stats())
	}

	mustSubscribe(t, f, "AAPL", oneMin)
	if n := src.opens(); n != 2 {
		t.Fatalf("resubscribe should open a fresh upstream, opens=%d", n)
	}
}

func TestFanout_StopIsBoundedByTimeout(t *testing.T) {
	src := &fakeSource{blockStop: make(chan struct{})}
	defer close(src.blockStop)
	f := New(src, Config{StopTimeout: 100 * time.Millisecond}, nil)

	s := mustSubscribe(t, f, "AAPL", oneMin)
	start := time.Now()
	f.Unsubscribe(s)
	if d := time.Since(start); d > time.Second {
		t.Fatalf("unsubscribe took %v with a hung stop", d)
	}
}

func TestFanout_SlowConsumerDoesNotBlockOthers(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 1)
	defer f.Close()

	slow := mustSubscribe(t, f, "AAPL", oneMin)
	fast := mustSubscribe(t, f, "AAPL", oneMin)

	for i := 1; i <= 5; i++ {
		src.stream(0).ch <- model.BarEvent{Bar: barAt(i)}
		if ev := recv(t, fast); !ev.Bar.TS.Equal(barAt(i).TS) || ev.Missed != 0 {
			t.Fatalf("fast consumer bar %d: %+v", i, ev)
		}
	}

	if ev := recv(t, slow); !ev.Bar.TS.Equal(barAt(1).TS) {
		t.Fatalf("slow consumer first bar: %+v", ev)
	}
	src.stream(0).ch <- model.BarEvent{Bar: barAt(6)}
	ev := recv(t, slow)
	if !ev.Bar.TS.Equal(barAt(6).TS) || ev.Missed != 4 {
		t.Fatalf("slow consumer after backlog: ts=%v missed=%d, want bar 6 missed 4", ev.Bar.TS, ev.Missed)
	}
	recv(t, fast)
}

func TestFanout_CollapsesDuplicatesAndStaleBars(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s := mustSubscribe(t, f, "AAPL", oneMin)
	invalid := barAt(4)
	invalid.Close = -1
	for _, b := range []model.Bar{barAt(2), barAt(2), barAt(1), invalid, barAt(3)} {
		src.stream(0).ch <- model.BarEvent{Bar: b}
	}

	if ev := recv(t, s); !ev.Bar.TS.Equal(barAt(2).TS) {
		t.Fatalf("first: %+v", ev)
	}
	if ev := recv(t, s); !ev.Bar.TS.Equal(barAt(3).TS) {
		t.Fatalf("second: %+v", ev)
	}
	expectQuiet(t, s)
}

func TestFanout_UpstreamErrorIsTerminal(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s1 := mustSubscribe(t, f, "AAPL", oneMin)
	s2 := mustSubscribe(t, f, "AAPL", oneMin)

	boom := errors.New("socket reset")
	src.stream(0).ch <- model.BarEvent{Err: boom}

	for _, s := range []*Subscription{s1, s2} {
		evs := expectClosed(t, s)
		if len(evs) != 1 || evs[0].Kind != EventError {
			t.Fatalf("sub %s: events %+v, want one error", s.ID, evs)
		}
		var uerr *model.UpstreamError
		if !errors.As(s.Err(), &uerr) || !errors.Is(s.Err(), boom) || uerr.Ticker != "AAPL" {
			t.Fatalf("sub %s: Err=%v", s.ID, s.Err())
		}
	}

	deadline := time.Now().Add(time.Second)
	for !src.stream(0).isStopped() {
		if time.Now().After(deadline) {
			t.Fatal("failed upstream was not stopped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mustSubscribe(t, f, "AAPL", oneMin)
	if n := src.opens(); n != 2 {
		t.Fatalf("resubscribe after error: opens=%d, want 2", n)
	}
}

func TestFanout_ClosedFeedIsTerminal(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s := mustSubscribe(t, f, "AAPL", oneMin)
	close(src.stream(0).ch)
	expectClosed(t, s)
	if !errors.Is(s.Err(), errStreamEnded) {
		t.Fatalf("Err=%v", s.Err())
	}
}

func TestFanout_IntervalSwitchRestartsUpstream(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)
	defer f.Close()

	s1 := mustSubscribe(t, f, "AAPL", oneMin)
	s2 := mustSubscribe(t, f, "AAPL", fiveMin)

	if n := src.opens(); n != 2 {
		t.Fatalf("opens=%d, want 2", n)
	}
	if !src.stream(0).isStopped() {
		t.Fatal("old upstream not stopped on interval switch")
	}
	if src.stream(1).interval != fiveMin {
		t.Fatalf("new upstream interval %v", src.stream(1).interval)
	}
	if s1.Interval() != fiveMin {
		t.Fatalf("existing consumer not moved: %v", s1.Interval())
	}

	src.stream(1).ch <- model.BarEvent{Bar: barAt(5)}
	ev1 := recv(t, s1)
	if !ev1.Restart || ev1.Interval != fiveMin {
		t.Fatalf("migrated consumer event %+v, want Restart on 5m", ev1)
	}
	ev2 := recv(t, s2)
	if ev2.Restart {
		t.Fatalf("new consumer should not see a restart: %+v", ev2)
	}

	stats := f.Stats()
	if len(stats) != 1 || stats[0].Consumers != 2 {
		t.Fatalf("stats=%+v", stats)
	}
}

func TestFanout_OpenFailureAndBreaker(t *testing.T) {
	down := errors.New("quota exceeded")
	src := &fakeSource{failOpen: down}
	f := New(src, Config{BreakerFailures: 2, BreakerCoolDown: time.Minute}, nil)
	defer f.Close()

	var states []breaker.State
	f.Hooks.OnBreaker = func(_ string, s breaker.State) { states = append(states, s) }

	for i := 0; i < 2; i++ {
		_, err := f.Subscribe(context.Background(), "AAPL", oneMin)
		var uerr *model.UpstreamError
		if !errors.As(err, &uerr) || !errors.Is(err, down) {
			t.Fatalf("attempt %d: err=%v", i, err)
		}
	}
	_, err := f.Subscribe(context.Background(), "AAPL", oneMin)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("third attempt: err=%v, want breaker open", err)
	}
	if src.attempts != 2 {
		t.Fatalf("source attempts=%d, want 2", src.attempts)
	}
	if len(states) != 1 || states[0] != breaker.StateOpen {
		t.Fatalf("breaker transitions %v", states)
	}
}

func TestFanout_RejectsBadArguments(t *testing.T) {
	f := newTestFanout(&fakeSource{}, 8)
	defer f.Close()
	if _, err := f.Subscribe(context.Background(), "", oneMin); !model.IsConfigurationError(err) {
		t.Fatalf("empty ticker: %v", err)
	}
	if _, err := f.Subscribe(context.Background(), "AAPL", model.Interval{}); !model.IsConfigurationError(err) {
		t.Fatalf("zero interval: %v", err)
	}
}

func TestFanout_CloseTerminatesEverything(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 8)

	a := mustSubscribe(t, f, "AAPL", oneMin)
	b := mustSubscribe(t, f, "MSFT", oneMin)
	f.Close()

	for _, s := range []*Subscription{a, b} {
		expectClosed(t, s)
		if !errors.Is(s.Err(), ErrClosed) {
			t.Fatalf("Err=%v", s.Err())
		}
	}
	for i := 0; i < src.opens(); i++ {
		if !src.stream(i).isStopped() {
			t.Fatalf("stream %d still running", i)
		}
	}
	if _, err := f.Subscribe(context.Background(), "AAPL", oneMin); !errors.Is(err, ErrClosed) {
		t.Fatalf("subscribe after close: %v", err)
	}
}

func TestFanout_ConcurrentSubscribeUnsubscribe(t *testing.T) {
	src := &fakeSource{}
	f := newTestFanout(src, 4)
	defer f.Close()

	var subs sync.WaitGroup
	total := 0
	var mu sync.Mutex
	f.Hooks.OnSubscribers = func(d int) {
		mu.Lock()
		total += d
		mu.Unlock()
	}

	for g := 0; g < 16; g++ {
		subs.Add(1)
		go func(g int) {
			defer subs.Done()
			ticker := []string{"AAPL", "MSFT"}[g%2]
			for i := 0; i < 25; i++ {
				s, err := f.Subscribe(context.Background(), ticker, oneMin)
				if err != nil {
					t.Errorf("subscribe: %v", err)
					return
				}
				s.Close()
			}
		}(g)
	}
	subs.Wait()

	if len(f.Stats()) != 0 {
		t.Fatalf("upstreams left after all consumers left: %+v", f.Stats())
	}
	for i := 0; i < src.opens(); i++ {
		if !src.stream(i).isStopped() {
			t.Fatalf("stream %d orphaned", i)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if total != 0 {
		t.Fatalf("subscriber gauge drifted to %d", total)
	}
}
