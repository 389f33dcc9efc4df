package model

import (
	"fmt"
	"math"
	"time"
)

// Bar is one OHLCV observation for a fixed time bucket.
// TS is the bucket start time in UTC.
type Bar struct {
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate reports whether the bar carries usable prices: a timestamp,
// finite non-negative OHLC and a finite non-negative volume.
func (b Bar) Validate() error {
	if b.TS.IsZero() {
		return fmt.Errorf("bar: missing timestamp")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}, {"volume", b.Volume},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("bar %s: %s is not finite", b.TS.Format(time.RFC3339), f.name)
		}
		if f.v < 0 {
			return fmt.Errorf("bar %s: %s is negative (%g)", b.TS.Format(time.RFC3339), f.name, f.v)
		}
	}
	return nil
}

// BarEvent is one item of a live feed. A non-nil Err is terminal: the
// producer sends nothing after it.
type BarEvent struct {
	Bar Bar
	Err error
}
