package model

import (
	"fmt"
	"sort"
)

// BarSeries is an ordered sequence of bars for one ticker and interval.
// Timestamps are strictly increasing. The series only grows by Append.
type BarSeries struct {
	Ticker   string
	Interval Interval
	bars     []Bar
}

// NewBarSeries sorts bars by timestamp and collapses duplicates, keeping the
// last bar seen for a timestamp. Bars that fail Validate are dropped and
// counted in the returned dropped value.
func NewBarSeries(ticker string, interval Interval, bars []Bar) (s *BarSeries, dropped int) {
	clean := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Validate() != nil {
			dropped++
			continue
		}
		b.TS = b.TS.UTC()
		clean = append(clean, b)
	}

	// Stable sort keeps input order among equal timestamps so the last
	// occurrence can win below.
	sort.SliceStable(clean, func(i, j int) bool { return clean[i].TS.Before(clean[j].TS) })

	out := clean[:0]
	for _, b := range clean {
		if n := len(out); n > 0 && out[n-1].TS.Equal(b.TS) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return &BarSeries{Ticker: ticker, Interval: interval, bars: out}, dropped
}

// Append adds one validated bar at the end of the series. The bar must be
// strictly newer than the current last bar.
func (s *BarSeries) Append(b Bar) error {
	if err := b.Validate(); err != nil {
		return err
	}
	b.TS = b.TS.UTC()
	if n := len(s.bars); n > 0 && !b.TS.After(s.bars[n-1].TS) {
		return fmt.Errorf("%w: %s is not after %s", ErrOutOfOrder, b.TS, s.bars[n-1].TS)
	}
	s.bars = append(s.bars, b)
	return nil
}

// Len returns the number of bars.
func (s *BarSeries) Len() int { return len(s.bars) }

// Empty reports whether the series has no bars. An empty series is the
// normal result of a fetch over a range with no data.
func (s *BarSeries) Empty() bool { return len(s.bars) == 0 }

// At returns the i-th bar.
func (s *BarSeries) At(i int) Bar { return s.bars[i] }

// Last returns the newest bar, or false for an empty series.
func (s *BarSeries) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// Bars returns a copy of the bars in timestamp order.
func (s *BarSeries) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}
