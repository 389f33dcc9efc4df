package indicator

import (
	"strconv"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// EMA is an exponential moving average seeded at the first price, so it
// is defined from the first row and converges over time.
// O(1) per update, no window storage needed.
type EMA struct {
	period     int
	name       string
	multiplier float64
	current    float64
	seeded     bool
	value      model.Value
}

// NewEMA creates an EMA emitting column "EMA{period}".
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		name:       "EMA" + strconv.Itoa(period),
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string      { return e.name }
func (e *EMA) Columns() []string { return []string{e.name} }

func (e *EMA) Update(bar model.Bar) { e.next(bar.Close) }

// next applies the recurrence to one price. A missing price yields an
// undefined row and re-seeds at the next finite price.
func (e *EMA) next(price float64) model.Value {
	if !finite(price) {
		e.seeded = false
		e.value = model.None()
		return e.value
	}
	if !e.seeded {
		e.current = price
		e.seeded = true
	} else {
		// EMA = price*multiplier + EMA_prev*(1-multiplier)
		e.current = price*e.multiplier + e.current*(1-e.multiplier)
	}
	e.value = model.Some(e.current)
	return e.value
}

func (e *EMA) Value() model.Value { return e.value }
func (e *EMA) Ready() bool        { return e.value.Valid() }

func (e *EMA) Emit(cols map[string]model.Value) { cols[e.name] = e.value }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.seeded = false
	e.value = model.None()
}
