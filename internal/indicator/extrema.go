package indicator

import (
	"strconv"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Rolling extremum column names used by the break-retest detector.
const (
	ColHH = "HH"
	ColLL = "LL"
)

// Extrema tracks the highest and lowest close over the trailing lookback
// bars, inclusive of the current bar.
type Extrema struct {
	lookback int
	win      *rolling
	hh, ll   model.Value
}

// NewExtrema creates an HH/LL tracker.
func NewExtrema(lookback int) *Extrema {
	return &Extrema{lookback: lookback, win: newRolling(lookback)}
}

func (x *Extrema) Name() string      { return "HHLL" + strconv.Itoa(x.lookback) }
func (x *Extrema) Columns() []string { return []string{ColHH, ColLL} }

func (x *Extrema) Update(bar model.Bar) {
	x.win.push(bar.Close)
	if !x.win.defined() {
		x.hh, x.ll = model.None(), model.None()
		return
	}
	x.hh = model.Some(x.win.max())
	x.ll = model.Some(x.win.min())
}

func (x *Extrema) Ready() bool { return x.hh.Valid() }

func (x *Extrema) Emit(cols map[string]model.Value) {
	cols[ColHH] = x.hh
	cols[ColLL] = x.ll
}

// Reset clears the tracker for reuse.
func (x *Extrema) Reset() {
	x.win.reset()
	x.hh, x.ll = model.None(), model.None()
}
