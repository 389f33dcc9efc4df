package model

import (
	"context"
	"time"
)

// ── Market data ports ──
// Concrete providers (Alpaca, Yahoo, SQLite, websocket and Redis feeds)
// implement one or both halves.

// HistorySource fetches finished bars.
type HistorySource interface {
	// FetchHistory returns bars with start <= ts < end. A range with no
	// data yields an empty series, not an error.
	FetchHistory(ctx context.Context, ticker string, start, end time.Time, interval Interval) (*BarSeries, error)

	// FetchRecent returns the bars of the trailing lookback window.
	FetchRecent(ctx context.Context, ticker string, lookback time.Duration, interval Interval) (*BarSeries, error)
}

// StopFunc stops a live stream. It is idempotent and returns once the
// producer has released its connection.
type StopFunc func()

// LiveSource opens live bar streams.
type LiveSource interface {
	// OpenLiveStream starts an unbounded feed. ctx bounds the lifetime of
	// the stream; cancelling it is equivalent to calling stop. An event
	// carrying Err ends the feed.
	OpenLiveStream(ctx context.Context, ticker string, interval Interval) (<-chan BarEvent, StopFunc, error)
}

// MarketDataSource is the full capability set.
type MarketDataSource interface {
	HistorySource
	LiveSource
}
