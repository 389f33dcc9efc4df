// Package strategy turns indicator rows into trading events.
//
// A Strategy consumes rows strictly in timestamp order and emits one Event
// per row. Strategies are not safe for concurrent use: each live session
// owns its instance exclusively.
package strategy

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/indicator"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Action represents a trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Event is the per-row output of a strategy. Buy and Sell are never both set.
type Event struct {
	TS           time.Time   `json:"ts"`
	Buy          bool        `json:"buy"`
	Sell         bool        `json:"sell"`
	Regime       Regime      `json:"regime"`
	Level        model.Value `json:"level"`
	ConfirmCount int         `json:"confirm_count"`
}

// Action returns the event's action, if any.
func (e Event) Action() (Action, bool) {
	switch {
	case e.Buy:
		return ActionBuy, true
	case e.Sell:
		return ActionSell, true
	}
	return "", false
}

// Signal is an actionable event attributed to a strategy and ticker.
type Signal struct {
	Strategy string    `json:"strategy"`
	Action   Action    `json:"action"`
	Ticker   string    `json:"ticker"`
	Price    float64   `json:"price"`
	TS       time.Time `json:"ts"`
	Reason   string    `json:"reason"`
}

// Strategy is the interface that all strategies implement.
type Strategy interface {
	// Name returns the strategy kind.
	Name() string

	// Step consumes the next row and returns its event.
	Step(row model.IndicatorRow) Event

	// Reset returns the strategy to its initial state.
	Reset()
}

// Kind selects a strategy.
type Kind string

const (
	KindBreakRetest Kind = "break_retest"
	KindCrossover   Kind = "ma_crossover"
)

// ParseKind accepts "break_retest" and "ma_crossover". Empty means break_retest.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "", KindBreakRetest:
		return KindBreakRetest, nil
	case KindCrossover:
		return KindCrossover, nil
	}
	return "", &model.ConfigurationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
}

// Config selects and parameterises a strategy.
type Config struct {
	Kind        Kind
	BreakRetest Params
	Fast, Slow  string // crossover columns
}

// DefaultConfig is break_retest with default parameters; crossover uses MA10/MA30.
func DefaultConfig() Config {
	return Config{Kind: KindBreakRetest, BreakRetest: DefaultParams(), Fast: "MA10", Slow: "MA30"}
}

// Validate checks the parameters of the selected strategy.
func (c Config) Validate() error {
	switch c.Kind {
	case KindBreakRetest:
		return c.BreakRetest.Validate()
	case KindCrossover:
		if c.Fast == "" || c.Slow == "" || c.Fast == c.Slow {
			return &model.ConfigurationError{Field: "crossover", Reason: fmt.Sprintf("need two distinct columns, got %q and %q", c.Fast, c.Slow)}
		}
		p, err := indicator.New(c.Requests()...)
		if err != nil {
			return err
		}
		for _, col := range []string{c.Fast, c.Slow} {
			if !slices.Contains(p.Columns(), col) {
				return &model.ConfigurationError{Field: "crossover", Reason: fmt.Sprintf("column %q is not computed", col)}
			}
		}
		return nil
	}
	_, err := ParseKind(string(c.Kind))
	return err
}

// Requests returns the indicator set the strategy reads: the default set,
// plus HH/LL over the lookback for break_retest, or the MA{n}/EMA{n}
// columns named by a crossover.
func (c Config) Requests() []indicator.Request {
	reqs := indicator.DefaultRequests()
	switch c.Kind {
	case KindBreakRetest:
		reqs = append(reqs, indicator.ExtremaOf(c.BreakRetest.Lookback))
	case KindCrossover:
		for _, col := range []string{c.Fast, c.Slow} {
			if r, ok := averageRequest(col); ok {
				reqs = append(reqs, r)
			}
		}
	}
	return reqs
}

// averageRequest maps a column name such as "MA5" or "EMA21" to the
// request that computes it.
func averageRequest(col string) (indicator.Request, bool) {
	build, digits := indicator.MA, ""
	if rest, ok := strings.CutPrefix(col, "EMA"); ok {
		build, digits = indicator.EMAOf, rest
	} else if rest, ok := strings.CutPrefix(col, "MA"); ok {
		digits = rest
	} else {
		return indicator.Request{}, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return indicator.Request{}, false
	}
	return build(n), true
}

// New validates cfg and builds a fresh strategy.
func New(cfg Config) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Kind == KindCrossover {
		return NewCrossover(cfg.Fast, cfg.Slow), nil
	}
	return NewBreakRetest(cfg.BreakRetest)
}

// Run feeds rows through s in order and returns one event per row.
func Run(s Strategy, rows []model.IndicatorRow) []Event {
	events := make([]Event, len(rows))
	for i, r := range rows {
		events[i] = s.Step(r)
	}
	return events
}

// LastSignal reports a signal when the final row carries an event.
func LastSignal(name, ticker string, rows []model.IndicatorRow, events []Event) (Signal, bool) {
	if len(rows) == 0 || len(rows) != len(events) {
		return Signal{}, false
	}
	last, ev := rows[len(rows)-1], events[len(events)-1]
	action, ok := ev.Action()
	if !ok {
		return Signal{}, false
	}
	return Signal{
		Strategy: name,
		Action:   action,
		Ticker:   ticker,
		Price:    last.Close,
		TS:       last.TS,
		Reason:   fmt.Sprintf("%s %s at %.2f", name, action, last.Close),
	}, true
}
