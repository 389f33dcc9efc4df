package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// SaveAlert records a sent alert under id.
func (s *Store) SaveAlert(ctx context.Context, id string, sig strategy.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alerts (id, ticker, strategy, action, price, ts, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, strings.ToUpper(sig.Ticker), sig.Strategy, string(sig.Action), sig.Price, sig.TS.Unix(), s.now().Unix())
	if err != nil {
		return fmt.Errorf("sqlite insert alert: %w", err)
	}
	return nil
}

// LastAlert returns the bar time of the newest alert for ticker and
// strategy. ok is false when none was sent.
func (s *Store) LastAlert(ctx context.Context, ticker, strategyName string) (ts time.Time, ok bool, err error) {
	var unix int64
	err = s.db.QueryRowContext(ctx, `
		SELECT ts FROM alerts
		WHERE ticker = ? AND strategy = ?
		ORDER BY ts DESC
		LIMIT 1
	`, strings.ToUpper(ticker), strategyName).Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("sqlite read alert: %w", err)
	}
	return time.Unix(unix, 0).UTC(), true, nil
}
