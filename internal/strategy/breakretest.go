package strategy

import (
	"fmt"
	"math"

	"github.com/Raziel0714/daisyStockAnalysis/internal/indicator"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Params configures a BreakRetest detector.
type Params struct {
	// Lookback is the HH/LL window; at least 2.
	Lookback int `json:"lookback"`
	// Tolerance is the relative retest band, e.g. 0.002 for 0.2%.
	Tolerance float64 `json:"tolerance"`
	// ConfirmationBars is the number of closes beyond the level needed
	// after a retest; at least 1.
	ConfirmationBars int `json:"confirmation_bars"`
}

// DefaultParams returns lookback 20, tolerance 0.3% and one confirmation bar.
func DefaultParams() Params {
	return Params{Lookback: 20, Tolerance: 0.003, ConfirmationBars: 1}
}

// Validate rejects parameters the state machine cannot work with. The
// invalidation band 1-3*tolerance must stay positive.
func (p Params) Validate() error {
	if p.Lookback < 2 {
		return &model.ConfigurationError{Field: "lookback", Reason: fmt.Sprintf("must be >= 2, got %d", p.Lookback)}
	}
	if math.IsNaN(p.Tolerance) || p.Tolerance <= 0 || p.Tolerance >= 1.0/3 {
		return &model.ConfigurationError{Field: "tolerance", Reason: fmt.Sprintf("must be in (0, 1/3), got %g", p.Tolerance)}
	}
	if p.ConfirmationBars < 1 {
		return &model.ConfigurationError{Field: "confirmation_bars", Reason: fmt.Sprintf("must be >= 1, got %d", p.ConfirmationBars)}
	}
	return nil
}

// State is the loop-carried state of a BreakRetest detector.
type State struct {
	Regime       Regime      `json:"regime"`
	Level        model.Value `json:"level"`
	ConfirmCount int         `json:"confirm_count"`
}

// BreakRetest detects a breakout beyond the rolling extremum, a retest of
// the broken level and a confirmation, in one sequential pass.
//
// Rows must carry HH and LL computed with the same lookback. A close is
// compared against the extremum of the window ending on the previous row,
// so the breakout bar itself never masks the level it broke.
type BreakRetest struct {
	p     Params
	state State

	prevHH, prevLL model.Value
}

// NewBreakRetest validates p and returns a detector in NEUTRAL.
func NewBreakRetest(p Params) (*BreakRetest, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &BreakRetest{p: p}, nil
}

func (d *BreakRetest) Name() string { return string(KindBreakRetest) }

// Params returns the detector parameters.
func (d *BreakRetest) Params() Params { return d.p }

// State returns the current state.
func (d *BreakRetest) State() State { return d.state }

// Reset returns the detector to NEUTRAL with no extremum history.
func (d *BreakRetest) Reset() {
	d.state = State{}
	d.prevHH, d.prevLL = model.None(), model.None()
}

// Step advances the machine by one row. Rows with a missing or
// non-positive close are non-actionable: the regime is left unchanged.
func (d *BreakRetest) Step(row model.IndicatorRow) Event {
	hh, ll := d.prevHH, d.prevLL
	d.prevHH, d.prevLL = row.Col(indicator.ColHH), row.Col(indicator.ColLL)

	ev := Event{TS: row.TS}
	price := row.Close
	if !math.IsNaN(price) && !math.IsInf(price, 0) && price > 0 {
		ev.Buy, ev.Sell = d.advance(price, hh, ll)
	}
	ev.Regime = d.state.Regime
	ev.Level = d.state.Level
	ev.ConfirmCount = d.state.ConfirmCount
	return ev
}

func (d *BreakRetest) advance(price float64, hh, ll model.Value) (buy, sell bool) {
	tol := d.p.Tolerance
	level, _ := d.state.Level.Get()

	switch d.state.Regime {
	case Neutral:
		if h, ok := hh.Get(); ok && h > 0 && price > h {
			d.enter(WaitRetestUp, h)
		} else if l, ok := ll.Get(); ok && l > 0 && price < l {
			d.enter(WaitRetestDn, l)
		}

	case WaitRetestUp:
		if math.Abs(price-level)/level <= tol {
			d.state.Regime = WaitConfirmUp
			d.state.ConfirmCount = 0
		} else if price < level*(1-3*tol) {
			d.neutral()
		}

	case WaitConfirmUp:
		if price > level {
			d.state.ConfirmCount++
			if d.state.ConfirmCount >= d.p.ConfirmationBars {
				d.neutral()
				return true, false
			}
		} else if price < level*(1-2*tol) {
			d.neutral()
		}

	case WaitRetestDn:
		if math.Abs(price-level)/level <= tol {
			d.state.Regime = WaitConfirmDn
			d.state.ConfirmCount = 0
		} else if price > level*(1+3*tol) {
			d.neutral()
		}

	case WaitConfirmDn:
		if price < level {
			d.state.ConfirmCount++
			if d.state.ConfirmCount >= d.p.ConfirmationBars {
				d.neutral()
				return false, true
			}
		} else if price > level*(1+2*tol) {
			d.neutral()
		}
	}
	return false, false
}

func (d *BreakRetest) enter(r Regime, level float64) {
	d.state = State{Regime: r, Level: model.Some(level)}
}

func (d *BreakRetest) neutral() {
	d.state = State{}
}
