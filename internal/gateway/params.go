package gateway

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// Defaults fill request parameters the client leaves out.
type Defaults struct {
	Strategy strategy.Config
	Interval model.Interval
	Period   time.Duration
	Warmup   time.Duration
}

func badParam(field, reason string, args ...any) error {
	return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf(reason, args...)}
}

func tickerParam(q url.Values) string {
	return strings.ToUpper(strings.TrimSpace(q.Get("ticker")))
}

func intervalParam(q url.Values, def model.Interval) (model.Interval, error) {
	s := q.Get("interval")
	if s == "" {
		return def, nil
	}
	return model.ParseInterval(s)
}

func periodParam(q url.Values, key string, def time.Duration) (time.Duration, error) {
	s := q.Get(key)
	if s == "" {
		return def, nil
	}
	return model.ParsePeriod(s)
}

// timeParam accepts RFC 3339 timestamps and plain dates (UTC midnight).
func timeParam(q url.Values, key string) (time.Time, error) {
	s := q.Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, badParam(key, "want RFC 3339 or YYYY-MM-DD, got %q", s)
}

// strategyParams starts from def and applies strategy, lookback,
// tolerance, confirm, fast and slow.
func strategyParams(q url.Values, def strategy.Config) (strategy.Config, error) {
	cfg := def
	if s := q.Get("strategy"); s != "" {
		kind, err := strategy.ParseKind(s)
		if err != nil {
			return cfg, err
		}
		cfg.Kind = kind
	}
	if s := q.Get("lookback"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, badParam("lookback", "not an integer: %q", s)
		}
		cfg.BreakRetest.Lookback = n
	}
	if s := q.Get("tolerance"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return cfg, badParam("tolerance", "not a number: %q", s)
		}
		cfg.BreakRetest.Tolerance = f
	}
	if s := q.Get("confirm"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return cfg, badParam("confirm", "not an integer: %q", s)
		}
		cfg.BreakRetest.ConfirmationBars = n
	}
	if s := q.Get("fast"); s != "" {
		cfg.Fast = s
	}
	if s := q.Get("slow"); s != "" {
		cfg.Slow = s
	}
	return cfg, nil
}
