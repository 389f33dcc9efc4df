package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/resample"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/wsfeed"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// ─── Hub ──────────────────────────────────────────────────────────────────────

// subscriber is one websocket client streaming one ticker at one interval.
type subscriber struct {
	ticker   string
	interval model.Interval
	rs       *resample.Resampler // nil for 1m
	ch       chan []byte
}

type hub struct {
	mu      sync.Mutex
	clients map[*subscriber]struct{}
	tickers map[string]bool
	log     *slog.Logger
}

func newHub(tickers []string, log *slog.Logger) *hub {
	h := &hub{
		clients: make(map[*subscriber]struct{}),
		tickers: make(map[string]bool, len(tickers)),
		log:     log,
	}
	for _, t := range tickers {
		h.tickers[t] = true
	}
	return h
}

func (h *hub) register(ticker string, interval model.Interval) *subscriber {
	s := &subscriber{ticker: ticker, interval: interval, ch: make(chan []byte, 256)}
	if interval != baseInterval {
		s.rs = resample.New(interval)
	}
	h.mu.Lock()
	h.clients[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) unregister(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.clients[s]; ok {
		close(s.ch)
		delete(h.clients, s)
	}
	h.mu.Unlock()
}

// broadcast sends a finished 1m bar to every subscriber of ticker,
// resampled to the subscriber's interval.
func (h *hub) broadcast(ticker string, bar model.Bar) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.clients {
		if s.ticker != ticker {
			continue
		}
		out := bar
		if s.rs != nil {
			done, ok := s.rs.Push(bar)
			if !ok {
				continue
			}
			out = done
		}
		b, err := json.Marshal(wsfeed.Message{Type: wsfeed.TypeBar, Ticker: ticker, Interval: s.interval.String(), Bar: &out})
		if err != nil {
			continue
		}
		select {
		case s.ch <- b:
		default: // slow client, drop
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func writeError(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteJSON(wsfeed.Message{Type: wsfeed.TypeError, Error: msg})
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// The first frame must be a subscribe.
		conn.SetReadDeadline(time.Now().Add(10 * time.Second))
		var sub wsfeed.Message
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.SetReadDeadline(time.Time{})
		ticker := strings.ToUpper(sub.Ticker)
		if sub.Type != wsfeed.TypeSubscribe {
			writeError(conn, "expected subscribe")
			return
		}
		if !h.tickers[ticker] {
			writeError(conn, "unknown ticker "+sub.Ticker)
			return
		}
		interval, err := model.ParseInterval(sub.Interval)
		if err != nil {
			writeError(conn, err.Error())
			return
		}

		s := h.register(ticker, interval)
		log := h.log.With("remote", r.RemoteAddr, "ticker", ticker, "interval", interval.String())
		log.Info("client subscribed")
		defer log.Info("client disconnected")

		// Reader: only notices the client going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(s)
					return
				}
			}
		}()

		// Write pump: sends bar frames to this client.
		for msg := range s.ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(s)
				return
			}
		}
	}
}
