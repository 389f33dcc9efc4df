package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

var _ model.HistorySource = (*Store)(nil)

// Save upserts every bar of the series in one transaction.
func (s *Store) Save(ctx context.Context, series *model.BarSeries) error {
	return s.insertBatch(ctx, series.Ticker, series.Interval, series.Bars())
}

// insertBatch inserts bars in a single transaction. Existing rows for the
// same (ticker, interval, ts) are replaced.
func (s *Store) insertBatch(ctx context.Context, ticker string, interval model.Interval, bars []model.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars (ticker, interval, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	key := strings.ToUpper(ticker)
	iv := interval.String()
	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, key, iv, b.TS.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar %s %s: %w", key, b.TS.Format(time.RFC3339), err)
		}
	}
	return tx.Commit()
}

// Record reads a live feed and inserts its bars in batched transactions.
// Flushes every batch size bars or every flush delay, whichever first.
// Blocks until ctx is cancelled, the feed closes, or the feed reports an
// error, which is returned.
func (s *Store) Record(ctx context.Context, ticker string, interval model.Interval, events <-chan model.BarEvent) error {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// Flushes run on the way out too, after ctx may be done.
		if err := s.insertBatch(context.Background(), ticker, interval, batch); err != nil {
			s.log.Error("batch insert failed", "ticker", ticker, "err", err)
		} else {
			s.log.Debug("committed bars", "ticker", ticker, "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case ev, ok := <-events:
			if !ok {
				flush()
				return nil
			}
			if ev.Err != nil {
				flush()
				return ev.Err
			}
			batch = append(batch, ev.Bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// LastTimestamp returns the newest stored bar time, or the zero time.
func (s *Store) LastTimestamp(ctx context.Context, ticker string, interval model.Interval) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM bars WHERE ticker = ? AND interval = ?`,
		strings.ToUpper(ticker), interval.String(),
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(ts.Int64, 0).UTC(), nil
}

// FetchHistory implements model.HistorySource.
func (s *Store) FetchHistory(ctx context.Context, ticker string, start, end time.Time, interval model.Interval) (*model.BarSeries, error) {
	if err := marketdata.ValidateRange(ticker, start, end, interval); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM bars
		WHERE ticker = ? AND interval = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`, strings.ToUpper(ticker), interval.String(), start.Unix(), end.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsUnix int64
		if err := rows.Scan(&tsUnix, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan bars: %w", err)
		}
		b.TS = time.Unix(tsUnix, 0).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	series, _ := model.NewBarSeries(ticker, interval, bars)
	return series, nil
}

// FetchRecent implements model.HistorySource.
func (s *Store) FetchRecent(ctx context.Context, ticker string, lookback time.Duration, interval model.Interval) (*model.BarSeries, error) {
	return marketdata.RecentFromHistory(ctx, s, s.now(), ticker, lookback, interval)
}
