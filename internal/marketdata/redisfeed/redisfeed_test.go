package redisfeed

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "bars:5m:AAPL", Channel("aapl", model.MustInterval("5m")))
	assert.Equal(t, "bars:1d:SPY", Channel("SPY", model.MustInterval("1d")))
}

func TestDecode(t *testing.T) {
	b, err := Decode(`{"ts":"2026-04-01T13:30:00Z","open":10,"high":11,"low":9,"close":10.5,"volume":42}`)
	require.NoError(t, err)
	assert.Equal(t, 10.5, b.Close)
	assert.Equal(t, 42.0, b.Volume)

	_, err = Decode(`{"open":10}`)
	assert.Error(t, err, "missing timestamp")

	_, err = Decode(`not json`)
	assert.Error(t, err)
}

// TestPublishSubscribe needs a live Redis; set REDIS_ADDR to run it.
func TestPublishSubscribe(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, Config{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	feed := NewFeed(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
	iv := model.MustInterval("1m")
	events, stop, err := feed.OpenLiveStream(ctx, "TEST", iv)
	require.NoError(t, err)
	defer stop()

	want := model.Bar{TS: time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC), Open: 1, High: 2, Low: 1, Close: 2, Volume: 5}
	n, err := NewPublisher(client).Publish(ctx, "TEST", iv, want)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	select {
	case ev := <-events:
		require.NoError(t, ev.Err)
		assert.True(t, ev.Bar.TS.Equal(want.TS))
		assert.Equal(t, want.Close, ev.Bar.Close)
	case <-ctx.Done():
		t.Fatal("no bar received")
	}
}
