// Package indicator computes technical indicator columns over bar series.
//
// Every indicator is a streaming state machine fed one bar at a time. A
// column is undefined until its lookback is satisfied, and a missing (NaN
// or infinite) close makes every window containing it undefined.
package indicator

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/ringbuf"
)

// Indicator is the interface for all technical indicators.
type Indicator interface {
	// Name identifies the indicator instance (e.g. "MA10", "BB20").
	Name() string

	// Columns lists the column names written by Emit.
	Columns() []string

	// Update feeds the next bar in timestamp order.
	Update(bar model.Bar)

	// Ready reports whether every column is currently defined.
	Ready() bool

	// Emit writes the current column values into cols.
	Emit(cols map[string]model.Value)

	// Reset returns the indicator to its initial state.
	Reset()
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// rolling is a trailing window of prices that tracks missing values.
type rolling struct {
	win     *ringbuf.Window[float64]
	missing int
	scratch []float64
}

func newRolling(n int) *rolling {
	return &rolling{win: ringbuf.New[float64](n)}
}

func (r *rolling) push(v float64) {
	if !finite(v) {
		v = math.NaN()
	}
	if old, evicted := r.win.Push(v); evicted && math.IsNaN(old) {
		r.missing--
	}
	if math.IsNaN(v) {
		r.missing++
	}
}

// defined reports whether the window is full and free of missing values.
func (r *rolling) defined() bool { return r.win.Full() && r.missing == 0 }

// values returns the window oldest first. The slice is reused by the
// next call.
func (r *rolling) values() stats.Float64Data {
	r.scratch = r.win.AppendTo(r.scratch[:0])
	return r.scratch
}

// The aggregates below are only called on a defined window, so the
// empty-input errors from stats cannot occur.

func (r *rolling) mean() float64 {
	m, _ := stats.Mean(r.values())
	return m
}

// std is the population (ddof=0) standard deviation.
func (r *rolling) std() float64 {
	sd, _ := stats.StandardDeviationPopulation(r.values())
	return sd
}

func (r *rolling) max() float64 {
	m, _ := stats.Max(r.values())
	return m
}

func (r *rolling) min() float64 {
	m, _ := stats.Min(r.values())
	return m
}

func (r *rolling) reset() {
	r.win.Reset()
	r.missing = 0
}
