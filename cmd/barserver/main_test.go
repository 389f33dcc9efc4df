package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/wsfeed"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func minuteBar(ts time.Time, c float64) model.Bar {
	return model.Bar{TS: ts, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
}

// ──── generator ────

func TestGenerator_ProducesConsistentBars(t *testing.T) {
	start := time.Date(2026, 4, 1, 13, 30, 20, 0, time.UTC)
	g := newGenerator([]instrument{{Ticker: "AAPL", Price: 190}}, start, 1)

	prev := 190.0
	for i := 0; i < 200; i++ {
		b := g.step()["AAPL"]
		require.NoError(t, b.Validate())
		assert.Equal(t, start.Truncate(time.Minute).Add(time.Duration(i)*time.Minute), b.TS)
		assert.InDelta(t, round2(prev), b.Open, 1e-9)
		assert.GreaterOrEqual(t, b.High, math.Max(b.Open, b.Close))
		assert.LessOrEqual(t, b.Low, math.Min(b.Open, b.Close))
		prev = b.Close
	}
}

func TestParseInstruments(t *testing.T) {
	got := parseInstruments(" aapl:190, msft ,bad:x,", discard())
	assert.Equal(t, []instrument{{Ticker: "AAPL", Price: 190}, {Ticker: "MSFT", Price: 100}}, got)
}

func TestParseIntervals(t *testing.T) {
	got, err := parseIntervals("1m, 5m")
	require.NoError(t, err)
	assert.Equal(t, []model.Interval{model.MustInterval("1m"), model.MustInterval("5m")}, got)

	_, err = parseIntervals("1m,7x")
	assert.Error(t, err)
}

// ──── hub ────

func TestHub_ResamplesPerSubscriber(t *testing.T) {
	h := newHub([]string{"AAPL"}, discard())
	one := h.register("AAPL", model.MustInterval("1m"))
	five := h.register("AAPL", model.MustInterval("5m"))
	other := h.register("MSFT", model.MustInterval("1m"))

	start := time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		h.broadcast("AAPL", minuteBar(start.Add(time.Duration(i)*time.Minute), 100+float64(i)))
	}

	assert.Len(t, one.ch, 6)
	assert.Len(t, other.ch, 0)
	require.Len(t, five.ch, 1)

	var msg wsfeed.Message
	require.NoError(t, json.Unmarshal(<-five.ch, &msg))
	assert.Equal(t, wsfeed.TypeBar, msg.Type)
	assert.Equal(t, "5m", msg.Interval)
	require.NotNil(t, msg.Bar)
	assert.Equal(t, start, msg.Bar.TS)
	assert.Equal(t, 100.0, msg.Bar.Open)
	assert.Equal(t, 104.0, msg.Bar.Close)
	assert.Equal(t, 105.0, msg.Bar.High)
	assert.Equal(t, 99.0, msg.Bar.Low)
	assert.Equal(t, 50.0, msg.Bar.Volume)

	h.unregister(one)
	h.unregister(one)
	assert.Equal(t, 2, h.count())
}

// ──── websocket ────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func TestWSHandler_StreamsToFeedClient(t *testing.T) {
	h := newHub([]string{"AAPL"}, discard())
	srv := httptest.NewServer(wsHandler(h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, stop, err := wsfeed.New(wsURL(srv), discard()).OpenLiveStream(ctx, "aapl", model.MustInterval("1m"))
	require.NoError(t, err)
	defer stop()
	require.Eventually(t, func() bool { return h.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts := time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC)
	h.broadcast("AAPL", minuteBar(ts, 190))

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.Equal(t, 190.0, ev.Bar.Close)
		assert.True(t, ts.Equal(ev.Bar.TS))
	case <-ctx.Done():
		t.Fatal("no bar received")
	}

	stop()
	require.Eventually(t, func() bool { return h.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWSHandler_UnknownTicker(t *testing.T) {
	h := newHub([]string{"AAPL"}, discard())
	srv := httptest.NewServer(wsHandler(h))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, stop, err := wsfeed.New(wsURL(srv), discard()).OpenLiveStream(ctx, "ZZZZ", model.MustInterval("1m"))
	require.NoError(t, err)
	defer stop()

	select {
	case ev := <-events:
		require.Error(t, ev.Err)
		assert.Contains(t, ev.Err.Error(), "unknown ticker")
	case <-ctx.Done():
		t.Fatal("no error received")
	}
	assert.Equal(t, 0, h.count())
}
