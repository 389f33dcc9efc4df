// Package wsfeed is a live bar source that reads from a websocket bar
// server (cmd/barserver or anything speaking the same JSON frames).
//
// Frames:
//
//	client → server  {"type":"subscribe","ticker":"AAPL","interval":"1m"}
//	server → client  {"type":"bar","ticker":"AAPL","interval":"1m","bar":{...}}
//	server → client  {"type":"error","error":"..."}
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Frame types.
const (
	TypeSubscribe = "subscribe"
	TypeBar       = "bar"
	TypeError     = "error"
)

// Message is one JSON frame in either direction.
type Message struct {
	Type     string     `json:"type"`
	Ticker   string     `json:"ticker,omitempty"`
	Interval string     `json:"interval,omitempty"`
	Bar      *model.Bar `json:"bar,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Feed implements model.LiveSource over one websocket per stream.
type Feed struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
	// ReadTimeout is extended on every frame and ping.
	ReadTimeout time.Duration
	BufferSize  int

	log *slog.Logger
}

var _ model.LiveSource = (*Feed)(nil)

// New creates a feed that dials url, e.g. ws://localhost:9001/ws.
func New(url string, log *slog.Logger) *Feed {
	return &Feed{
		URL:         url,
		Dialer:      websocket.DefaultDialer,
		ReadTimeout: 90 * time.Second,
		BufferSize:  64,
		log:         log.With("component", "wsfeed"),
	}
}

// OpenLiveStream implements model.LiveSource.
func (f *Feed) OpenLiveStream(ctx context.Context, ticker string, interval model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	if ticker == "" {
		return nil, nil, &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return nil, nil, err
	}

	conn, resp, err := f.Dialer.DialContext(ctx, f.URL, f.Header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("wsfeed dial %s: status %s: %w", f.URL, resp.Status, err)
		}
		return nil, nil, fmt.Errorf("wsfeed dial %s: %w", f.URL, err)
	}

	sub := Message{Type: TypeSubscribe, Ticker: ticker, Interval: interval.String()}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("wsfeed subscribe %s: %w", ticker, err)
	}

	conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan model.BarEvent, f.BufferSize)
	done := make(chan struct{})

	// Closing the conn is the only way to unblock ReadJSON.
	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()
	go f.readLoop(ctx, cancel, conn, out, done, ticker, interval)

	f.log.Info("subscribed", "url", f.URL, "ticker", ticker, "interval", interval.String())

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	return out, stop, nil
}

func (f *Feed) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out chan<- model.BarEvent, done chan<- struct{}, ticker string, interval model.Interval) {
	defer close(done)
	defer close(out)
	defer cancel()

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		select {
		case out <- model.BarEvent{Err: err}:
		case <-ctx.Done():
		}
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = errors.New("server closed the stream")
			}
			fail(fmt.Errorf("wsfeed read %s: %w", ticker, err))
			return
		}
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))

		switch msg.Type {
		case TypeBar:
			if msg.Bar == nil || !strings.EqualFold(msg.Ticker, ticker) {
				continue
			}
			if msg.Interval != "" && msg.Interval != interval.String() {
				continue
			}
			select {
			case out <- model.BarEvent{Bar: *msg.Bar}:
			case <-ctx.Done():
				return
			}
		case TypeError:
			fail(fmt.Errorf("wsfeed server error for %s: %s", ticker, msg.Error))
			return
		}
	}
}
