package indicator

import (
	"strconv"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// SMA is the arithmetic mean of close over the trailing period bars,
// inclusive of the current bar.
type SMA struct {
	period  int
	name    string
	win     *rolling
	current model.Value
}

// NewSMA creates a moving average emitting column "MA{period}".
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		name:   "MA" + strconv.Itoa(period),
		win:    newRolling(period),
	}
}

func (s *SMA) Name() string      { return s.name }
func (s *SMA) Columns() []string { return []string{s.name} }

func (s *SMA) Update(bar model.Bar) {
	s.win.push(bar.Close)
	if !s.win.defined() {
		s.current = model.None()
		return
	}
	s.current = model.Some(s.win.mean())
}

func (s *SMA) Value() model.Value { return s.current }
func (s *SMA) Ready() bool        { return s.current.Valid() }

func (s *SMA) Emit(cols map[string]model.Value) { cols[s.name] = s.current }

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.win.reset()
	s.current = model.None()
}
