package indicator

import (
	"fmt"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// MACD column names.
const (
	ColMACD       = "MACD"
	ColMACDSignal = "MACD_signal"
	ColMACDHist   = "MACD_hist"
)

// MACD is EMA(fast) - EMA(slow), with a signal EMA over the MACD line.
type MACD struct {
	fast, slow, signal *EMA
	name               string

	line, sig, hist model.Value
}

// NewMACD creates a MACD(fast, slow, signal).
func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{
		fast:   NewEMA(fast),
		slow:   NewEMA(slow),
		signal: NewEMA(signal),
		name:   fmt.Sprintf("MACD(%d,%d,%d)", fast, slow, signal),
	}
}

func (m *MACD) Name() string      { return m.name }
func (m *MACD) Columns() []string { return []string{ColMACD, ColMACDSignal, ColMACDHist} }

func (m *MACD) Update(bar model.Bar) {
	f := m.fast.next(bar.Close)
	s := m.slow.next(bar.Close)

	fv, okF := f.Get()
	sv, okS := s.Get()
	if !okF || !okS {
		m.line, m.hist = model.None(), model.None()
		m.sig = m.signal.next(m.line.Float())
		return
	}
	m.line = model.Some(fv - sv)
	m.sig = m.signal.next(fv - sv)

	lv, _ := m.line.Get()
	if sv, ok := m.sig.Get(); ok {
		m.hist = model.Some(lv - sv)
	} else {
		m.hist = model.None()
	}
}

func (m *MACD) Ready() bool { return m.line.Valid() && m.sig.Valid() && m.hist.Valid() }

func (m *MACD) Emit(cols map[string]model.Value) {
	cols[ColMACD] = m.line
	cols[ColMACDSignal] = m.sig
	cols[ColMACDHist] = m.hist
}

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.line, m.sig, m.hist = model.None(), model.None(), model.None()
}
