package indicator

import (
	"fmt"
	"math"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Kind names an indicator family in a Request.
type Kind string

const (
	KindMA        Kind = "ma"
	KindEMA       Kind = "ema"
	KindMACD      Kind = "macd"
	KindRSI       Kind = "rsi"
	KindBollinger Kind = "bollinger"
	KindExtrema   Kind = "extrema"
)

// Request specifies a single indicator to compute.
type Request struct {
	Kind   Kind
	Period int // MA, EMA, RSI, Bollinger period; Extrema lookback

	// MACD periods.
	Fast, Slow, Signal int

	// Bollinger band width in standard deviations.
	K float64
}

func MA(period int) Request { return Request{Kind: KindMA, Period: period} }
func EMAOf(period int) Request { return Request{Kind: KindEMA, Period: period} }
func RSIOf(period int) Request { return Request{Kind: KindRSI, Period: period} }

func MACDOf(fast, slow, signal int) Request {
	return Request{Kind: KindMACD, Fast: fast, Slow: slow, Signal: signal}
}

func BollingerOf(period int, k float64) Request {
	return Request{Kind: KindBollinger, Period: period, K: k}
}

func ExtremaOf(lookback int) Request { return Request{Kind: KindExtrema, Period: lookback} }

// DefaultRequests is the indicator set used for signal analysis:
// MA10, MA30, MACD(12,26,9), RSI14 and Bollinger(20, 2.0).
func DefaultRequests() []Request {
	return []Request{MA(10), MA(30), MACDOf(12, 26, 9), RSIOf(14), BollingerOf(20, 2.0)}
}

// Validate rejects non-positive periods and malformed parameters.
func (r Request) Validate() error {
	bad := func(reason string, args ...any) error {
		return &model.ConfigurationError{Field: string(r.Kind), Reason: fmt.Sprintf(reason, args...)}
	}
	switch r.Kind {
	case KindMA, KindEMA, KindRSI, KindExtrema:
		if r.Period <= 0 {
			return bad("period must be positive, got %d", r.Period)
		}
	case KindBollinger:
		if r.Period <= 0 {
			return bad("period must be positive, got %d", r.Period)
		}
		if r.K <= 0 || math.IsNaN(r.K) || math.IsInf(r.K, 0) {
			return bad("k must be a positive number, got %g", r.K)
		}
	case KindMACD:
		if r.Fast <= 0 || r.Slow <= 0 || r.Signal <= 0 {
			return bad("periods must be positive, got (%d,%d,%d)", r.Fast, r.Slow, r.Signal)
		}
		if r.Fast >= r.Slow {
			return bad("fast period %d must be shorter than slow period %d", r.Fast, r.Slow)
		}
	default:
		return &model.ConfigurationError{Field: "indicator", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	return nil
}

func (r Request) build() Indicator {
	switch r.Kind {
	case KindMA:
		return NewSMA(r.Period)
	case KindEMA:
		return NewEMA(r.Period)
	case KindRSI:
		return NewRSI(r.Period)
	case KindBollinger:
		return NewBollinger(r.Period, r.K)
	case KindMACD:
		return NewMACD(r.Fast, r.Slow, r.Signal)
	case KindExtrema:
		return NewExtrema(r.Period)
	}
	return nil
}

// Pipeline computes a fixed set of indicators bar by bar.
// Designed for single-goroutine usage, no locks needed.
type Pipeline struct {
	indicators []Indicator
	columns    []string
}

// New validates the requests and builds a pipeline. Requests whose columns
// collide are rejected; identical requests are merged.
func New(reqs ...Request) (*Pipeline, error) {
	p := &Pipeline{}
	seenReq := make(map[Request]bool, len(reqs))
	seenCol := make(map[string]bool)
	for _, r := range reqs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seenReq[r] {
			continue
		}
		seenReq[r] = true
		ind := r.build()
		for _, c := range ind.Columns() {
			if seenCol[c] {
				return nil, &model.ConfigurationError{Field: "indicator", Reason: fmt.Sprintf("column %q requested twice", c)}
			}
			seenCol[c] = true
			p.columns = append(p.columns, c)
		}
		p.indicators = append(p.indicators, ind)
	}
	return p, nil
}

// Columns returns the output column names in request order.
func (p *Pipeline) Columns() []string {
	out := make([]string, len(p.columns))
	copy(out, p.columns)
	return out
}

// Next feeds one bar through every indicator and returns its row.
func (p *Pipeline) Next(bar model.Bar) model.IndicatorRow {
	cols := make(map[string]model.Value, len(p.columns))
	for _, ind := range p.indicators {
		ind.Update(bar)
		ind.Emit(cols)
	}
	return model.IndicatorRow{Bar: bar, Cols: cols}
}

// Reset returns every indicator to its initial state.
func (p *Pipeline) Reset() {
	for _, ind := range p.indicators {
		ind.Reset()
	}
}

// Compute produces one row per bar of series, in order, with a fresh
// pipeline built from reqs.
func Compute(series *model.BarSeries, reqs ...Request) ([]model.IndicatorRow, error) {
	p, err := New(reqs...)
	if err != nil {
		return nil, err
	}
	rows := make([]model.IndicatorRow, 0, series.Len())
	for i := 0; i < series.Len(); i++ {
		rows = append(rows, p.Next(series.At(i)))
	}
	return rows, nil
}
