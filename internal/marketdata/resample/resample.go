// Package resample aggregates finer bars into coarser interval buckets.
// A bucket is finalized when the first bar of a later bucket arrives.
package resample

import (
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Resampler builds bars of one interval for a single ticker.
// Designed to run in a single goroutine.
type Resampler struct {
	interval model.Interval
	bucket   time.Time
	forming  model.Bar
	started  bool

	// OnStale is called when a bar older than the forming bucket is dropped.
	OnStale func(b model.Bar)
}

// New creates a resampler producing bars of interval.
func New(interval model.Interval) *Resampler {
	return &Resampler{interval: interval}
}

// Push merges b into the forming bucket. When b opens a new bucket the
// previous one is returned as finished.
func (r *Resampler) Push(b model.Bar) (done model.Bar, ok bool) {
	bucket := r.interval.Truncate(b.TS)

	if r.started && bucket.Before(r.bucket) {
		if r.OnStale != nil {
			r.OnStale(b)
		}
		return model.Bar{}, false
	}

	if r.started && bucket.After(r.bucket) {
		done, ok = r.forming, true
		r.started = false
	}

	if !r.started {
		r.bucket = bucket
		r.forming = b
		r.forming.TS = bucket
		r.started = true
		return done, ok
	}

	fb := &r.forming
	if b.High > fb.High {
		fb.High = b.High
	}
	if b.Low < fb.Low {
		fb.Low = b.Low
	}
	fb.Close = b.Close
	fb.Volume += b.Volume
	return done, ok
}

// Forming returns the in-progress bucket, if any.
func (r *Resampler) Forming() (model.Bar, bool) {
	return r.forming, r.started
}

// Flush returns the in-progress bucket and clears it.
func (r *Resampler) Flush() (model.Bar, bool) {
	b, ok := r.forming, r.started
	r.started = false
	r.forming = model.Bar{}
	return b, ok
}

// Series resamples a whole series. The last bucket is included even if
// it may still be forming.
func Series(s *model.BarSeries, interval model.Interval) *model.BarSeries {
	r := New(interval)
	out := make([]model.Bar, 0, s.Len())
	for i := 0; i < s.Len(); i++ {
		if b, ok := r.Push(s.At(i)); ok {
			out = append(out, b)
		}
	}
	if b, ok := r.Flush(); ok {
		out = append(out, b)
	}
	res, _ := model.NewBarSeries(s.Ticker, interval, out)
	return res
}
