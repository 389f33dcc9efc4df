package indicator

import (
	"strconv"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Bollinger band column names. The middle band is "BB_MA{period}".
const (
	ColBBUpper = "BB_UPPER"
	ColBBLower = "BB_LOWER"
)

// Bollinger is a rolling mean of close plus/minus k population standard
// deviations.
type Bollinger struct {
	period int
	k      float64
	mid    string
	win    *rolling

	middle, upper, lower model.Value
}

// NewBollinger creates Bollinger(period, k).
func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{
		period: period,
		k:      k,
		mid:    "BB_MA" + strconv.Itoa(period),
		win:    newRolling(period),
	}
}

func (b *Bollinger) Name() string      { return "BB" + strconv.Itoa(b.period) }
func (b *Bollinger) Columns() []string { return []string{b.mid, ColBBUpper, ColBBLower} }

func (b *Bollinger) Update(bar model.Bar) {
	b.win.push(bar.Close)
	if !b.win.defined() {
		b.middle, b.upper, b.lower = model.None(), model.None(), model.None()
		return
	}
	mean := b.win.mean()
	sd := b.win.std()
	b.middle = model.Some(mean)
	b.upper = model.Some(mean + b.k*sd)
	b.lower = model.Some(mean - b.k*sd)
}

func (b *Bollinger) Ready() bool { return b.middle.Valid() }

func (b *Bollinger) Emit(cols map[string]model.Value) {
	cols[b.mid] = b.middle
	cols[ColBBUpper] = b.upper
	cols[ColBBLower] = b.lower
}

// Reset clears the band state for reuse.
func (b *Bollinger) Reset() {
	b.win.reset()
	b.middle, b.upper, b.lower = model.None(), model.None(), model.None()
}
