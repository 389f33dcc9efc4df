package indicator

import (
	"math"
	"strconv"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// rsiLossFloor replaces a zero mean loss so RS stays finite.
const rsiLossFloor = 1e-9

// RSI is the Relative Strength Index using a simple rolling mean of gains
// and losses over the trailing period deltas (not Wilder's smoothing).
// The first bar has no delta, so RSI(period) is defined from row period.
type RSI struct {
	period  int
	name    string
	prev    float64
	hasPrev bool
	gains   *rolling
	losses  *rolling
	current model.Value
}

// NewRSI creates an RSI emitting column "RSI{period}".
func NewRSI(period int) *RSI {
	return &RSI{
		period: period,
		name:   "RSI" + strconv.Itoa(period),
		gains:  newRolling(period),
		losses: newRolling(period),
	}
}

func (r *RSI) Name() string      { return r.name }
func (r *RSI) Columns() []string { return []string{r.name} }

func (r *RSI) Update(bar model.Bar) {
	price := bar.Close
	if !r.hasPrev {
		r.prev = price
		r.hasPrev = true
		r.current = model.None()
		return
	}
	delta := price - r.prev
	r.prev = price

	if !finite(delta) {
		r.gains.push(math.NaN())
		r.losses.push(math.NaN())
	} else {
		r.gains.push(math.Max(delta, 0))
		r.losses.push(math.Max(-delta, 0))
	}

	if !r.gains.defined() || !r.losses.defined() {
		r.current = model.None()
		return
	}
	avgGain := r.gains.mean()
	avgLoss := r.losses.mean()
	if avgLoss == 0 {
		avgLoss = rsiLossFloor
	}
	rs := avgGain / avgLoss
	r.current = model.Some(100 - 100/(1+rs))
}

func (r *RSI) Value() model.Value { return r.current }
func (r *RSI) Ready() bool        { return r.current.Valid() }

func (r *RSI) Emit(cols map[string]model.Value) { cols[r.name] = r.current }

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.prev = 0
	r.hasPrev = false
	r.gains.reset()
	r.losses.reset()
	r.current = model.None()
}
