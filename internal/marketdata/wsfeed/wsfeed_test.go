package wsfeed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

var t0 = time.Date(2026, 4, 1, 13, 30, 0, 0, time.UTC)

// barServer upgrades, records the subscribe frame and runs script.
func barServer(t *testing.T, script func(conn *websocket.Conn, sub Message)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub Message
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		script(conn, sub)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newFeed(url string) *Feed {
	return New(url, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func next(t *testing.T, ch <-chan model.BarEvent) model.BarEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	return model.BarEvent{}
}

func TestFeed_SubscribesAndFiltersBars(t *testing.T) {
	subs := make(chan Message, 1)
	url := barServer(t, func(conn *websocket.Conn, sub Message) {
		subs <- sub
		other := model.Bar{TS: t0, Open: 1, High: 1, Low: 1, Close: 1}
		mine := model.Bar{TS: t0, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 3}
		_ = conn.WriteJSON(Message{Type: TypeBar, Ticker: "MSFT", Interval: "1m", Bar: &other})
		_ = conn.WriteJSON(Message{Type: TypeBar, Ticker: "AAPL", Interval: "5m", Bar: &other})
		_ = conn.WriteJSON(Message{Type: TypeBar, Ticker: "AAPL", Interval: "1m", Bar: &mine})
		// Hold the connection until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	events, stop, err := newFeed(url).OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	require.NoError(t, err)
	defer stop()

	sub := <-subs
	assert.Equal(t, Message{Type: TypeSubscribe, Ticker: "AAPL", Interval: "1m"}, sub)

	ev := next(t, events)
	require.NoError(t, ev.Err)
	assert.Equal(t, 10.5, ev.Bar.Close)
	assert.True(t, ev.Bar.TS.Equal(t0))
}

func TestFeed_ServerErrorIsTerminal(t *testing.T) {
	url := barServer(t, func(conn *websocket.Conn, sub Message) {
		_ = conn.WriteJSON(Message{Type: TypeError, Error: "unknown ticker"})
		time.Sleep(100 * time.Millisecond)
	})

	events, stop, err := newFeed(url).OpenLiveStream(context.Background(), "ZZZZ", model.MustInterval("1m"))
	require.NoError(t, err)
	defer stop()

	ev := next(t, events)
	require.ErrorContains(t, ev.Err, "unknown ticker")
	_, open := <-events
	assert.False(t, open)
}

func TestFeed_DroppedConnectionIsTerminal(t *testing.T) {
	url := barServer(t, func(conn *websocket.Conn, sub Message) {})

	events, stop, err := newFeed(url).OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	require.NoError(t, err)
	defer stop()

	ev := next(t, events)
	require.Error(t, ev.Err)
}

func TestFeed_StopClosesQuietly(t *testing.T) {
	url := barServer(t, func(conn *websocket.Conn, sub Message) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	events, stop, err := newFeed(url).OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	require.NoError(t, err)
	stop()
	stop()

	for ev := range events {
		t.Fatalf("unexpected event after stop: %+v", ev)
	}
}

func TestFeed_DialFailure(t *testing.T) {
	_, _, err := newFeed("ws://127.0.0.1:1/ws").OpenLiveStream(context.Background(), "AAPL", model.MustInterval("1m"))
	require.Error(t, err)
}
