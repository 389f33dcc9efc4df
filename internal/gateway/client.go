package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// client streams one live session to a websocket peer.
type client struct {
	conn     *websocket.Conn
	sess     *signals.Session
	strategy string
	send     chan []byte
	log      *slog.Logger
}

func newClient(conn *websocket.Conn, sess *signals.Session, strategy string, log *slog.Logger) *client {
	return &client{
		conn:     conn,
		sess:     sess,
		strategy: strategy,
		send:     make(chan []byte, sendBuffer),
		log:      log,
	}
}

// run blocks until the peer goes away, the request ends or the session
// fails. The session is closed on return.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.sess.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump(cancel)
	}()
	go func() {
		defer wg.Done()
		c.readPump(cancel)
	}()

	c.log.Info("ws client connected", "ticker", c.sess.Ticker, "interval", c.sess.Interval().String())
	c.pump(ctx)
	close(c.send)
	wg.Wait()
	c.log.Info("ws client disconnected")
}

// pump moves session updates into the send queue.
func (c *client) pump(ctx context.Context) {
	ready := WSMessage{Type: MsgReady, Session: &SessionInfo{
		ID:       c.sess.ID,
		Ticker:   c.sess.Ticker,
		Interval: c.sess.Interval().String(),
		Strategy: c.strategy,
		Columns:  c.sess.Columns(),
	}}
	if !c.enqueue(ctx, ready) {
		return
	}
	for {
		u, err := c.sess.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, signals.ErrSessionClosed) {
				c.log.Warn("session ended", "error", err)
				c.enqueue(ctx, WSMessage{Type: MsgError, Error: err.Error()})
			}
			return
		}
		if !c.enqueue(ctx, WSMessage{Type: MsgUpdate, Update: &u}) {
			return
		}
	}
}

func (c *client) enqueue(ctx context.Context, msg WSMessage) bool {
	b, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("encode ws message", "error", err)
		return false
	}
	select {
	case c.send <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; the stream is server to client.
func (c *client) readPump(cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
