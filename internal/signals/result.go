package signals

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// Output column names for strategy events.
const (
	ColBuy   = "BRK_BUY"
	ColSell  = "BRK_SELL"
	ColState = "BRK_STATE"
)

// Row is one analysed bar: the indicator row plus the strategy event.
type Row struct {
	model.IndicatorRow
	Event strategy.Event
}

// Result is the outcome of one batch analysis.
type Result struct {
	Ticker   string
	Interval model.Interval
	Strategy string
	Columns  []string
	Rows     []Row
	// Signal is set when the last row carries a buy or sell.
	Signal *strategy.Signal
}

// encodeRow writes a row as one flat JSON object: time, OHLCV, indicator
// columns in column order with null for undefined, then the strategy
// columns.
func encodeRow(buf *bytes.Buffer, r Row, columns []string) {
	buf.WriteString(`{"time":`)
	buf.WriteString(strconv.Quote(r.TS.UTC().Format(time.RFC3339)))
	num := func(name string, v float64) {
		buf.WriteString(`,"` + name + `":`)
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	num("open", r.Open)
	num("high", r.High)
	num("low", r.Low)
	num("close", r.Close)
	num("volume", r.Volume)
	for _, c := range columns {
		buf.WriteString(`,` + strconv.Quote(c) + `:`)
		if v, ok := r.Col(c).Get(); ok {
			buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		} else {
			buf.WriteString("null")
		}
	}
	num(ColBuy, b2f(r.Event.Buy))
	num(ColSell, b2f(r.Event.Sell))
	buf.WriteString(`,"` + ColState + `":`)
	buf.WriteString(strconv.Quote(strings.ToLower(r.Event.Regime.String())))
	buf.WriteByte('}')
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// MarshalJSON renders rows as flat records.
func (r Result) MarshalJSON() ([]byte, error) {
	var rows bytes.Buffer
	rows.WriteByte('[')
	for i, row := range r.Rows {
		if i > 0 {
			rows.WriteByte(',')
		}
		encodeRow(&rows, row, r.Columns)
	}
	rows.WriteByte(']')

	return json.Marshal(struct {
		Ticker   string           `json:"ticker"`
		Interval string           `json:"interval"`
		Strategy string           `json:"strategy"`
		Columns  []string         `json:"columns"`
		Rows     json.RawMessage  `json:"rows"`
		Signal   *strategy.Signal `json:"last_signal"`
	}{r.Ticker, r.Interval.String(), r.Strategy, r.Columns, rows.Bytes(), r.Signal})
}

// Update is one live step of a Session.
type Update struct {
	Ticker   string
	Interval model.Interval
	Row      Row
	// Missed counts live bars dropped before this one.
	Missed int
	// Restart is set when the session state was reset for a new interval.
	Restart bool
	Signal  *strategy.Signal

	columns []string
}

// MarshalJSON renders the update with its row flattened.
func (u Update) MarshalJSON() ([]byte, error) {
	var row bytes.Buffer
	encodeRow(&row, u.Row, u.columns)
	return json.Marshal(struct {
		Ticker   string           `json:"ticker"`
		Interval string           `json:"interval"`
		Row      json.RawMessage  `json:"row"`
		Missed   int              `json:"missed,omitempty"`
		Restart  bool             `json:"restart,omitempty"`
		Signal   *strategy.Signal `json:"signal,omitempty"`
	}{u.Ticker, u.Interval.String(), row.Bytes(), u.Missed, u.Restart, u.Signal})
}
