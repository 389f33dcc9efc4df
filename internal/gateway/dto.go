package gateway

import (
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/fanout"
	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
)

// ErrorOut is the REST error body.
type ErrorOut struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// StreamsOut is the REST response type for /api/streams.
type StreamsOut struct {
	Upstreams []fanout.UpstreamStat `json:"upstreams"`
}

// Websocket message types sent on /ws/bars.
const (
	MsgReady  = "ready"
	MsgUpdate = "update"
	MsgError  = "error"
)

// SessionInfo describes the live session behind a websocket.
type SessionInfo struct {
	ID       string   `json:"id"`
	Ticker   string   `json:"ticker"`
	Interval string   `json:"interval"`
	Strategy string   `json:"strategy"`
	Columns  []string `json:"columns"`
}

// WSMessage is one frame on /ws/bars.
type WSMessage struct {
	Type    string          `json:"type"`
	Session *SessionInfo    `json:"session,omitempty"`
	Update  *signals.Update `json:"update,omitempty"`
	Error   string          `json:"error,omitempty"`
}
