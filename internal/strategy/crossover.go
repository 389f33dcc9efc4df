package strategy

import "github.com/Raziel0714/daisyStockAnalysis/internal/model"

// crossed compares two consecutive rows of a fast and slow column. Every
// value must be defined; otherwise there is no event.
func crossed(prevFast, prevSlow, fast, slow model.Value) (buy, sell bool) {
	pf, ok1 := prevFast.Get()
	ps, ok2 := prevSlow.Get()
	f, ok3 := fast.Get()
	s, ok4 := slow.Get()
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false, false
	}
	buy = f > s && pf <= ps
	sell = f < s && pf >= ps
	return buy, sell
}

// DetectCrossover marks rows where the fast column crosses the slow one.
// It is a pure function of rows.
func DetectCrossover(rows []model.IndicatorRow, fast, slow string) []Event {
	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = Event{TS: r.TS, Regime: Neutral}
		if i == 0 {
			continue
		}
		p := rows[i-1]
		events[i].Buy, events[i].Sell = crossed(p.Col(fast), p.Col(slow), r.Col(fast), r.Col(slow))
	}
	return events
}

// Crossover is the streaming form of DetectCrossover. It carries only the
// previous row's fast and slow values.
type Crossover struct {
	fast, slow         string
	prevFast, prevSlow model.Value
}

// NewCrossover creates a crossover over the named columns.
func NewCrossover(fast, slow string) *Crossover {
	return &Crossover{fast: fast, slow: slow}
}

func (c *Crossover) Name() string { return string(KindCrossover) }

func (c *Crossover) Step(row model.IndicatorRow) Event {
	f, s := row.Col(c.fast), row.Col(c.slow)
	ev := Event{TS: row.TS, Regime: Neutral}
	ev.Buy, ev.Sell = crossed(c.prevFast, c.prevSlow, f, s)
	c.prevFast, c.prevSlow = f, s
	return ev
}

func (c *Crossover) Reset() {
	c.prevFast, c.prevSlow = model.None(), model.None()
}
