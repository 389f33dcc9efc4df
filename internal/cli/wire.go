package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/alpaca"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/fanout"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/poller"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/redisfeed"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/wsfeed"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/yahoo"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/notification"
	"github.com/Raziel0714/daisyStockAnalysis/internal/store/sqlite"
	"github.com/Raziel0714/daisyStockAnalysis/internal/strategy"
)

// openStore opens the SQLite store once per invocation.
func (a *app) openStore() (*sqlite.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	path := a.cfg.SQLite.Path
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := sqlite.Open(sqlite.Config{DBPath: path}, a.log)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.onClose(st.Close)
	return st, nil
}

// redisClient connects to Redis once per invocation.
func (a *app) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.rdb != nil {
		return a.rdb, nil
	}
	rdb, err := redisfeed.Connect(ctx, redisfeed.Config{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.rdb = rdb
	a.onClose(rdb.Close)
	return rdb, nil
}

func (a *app) alpacaClient() *alpaca.Client {
	return alpaca.New(alpaca.Config{
		APIKey:    a.cfg.Alpaca.APIKey,
		APISecret: a.cfg.Alpaca.APISecret,
		Feed:      a.cfg.Alpaca.Feed,
	}, a.log)
}

// historySource builds the configured history provider. name overrides
// the config when set.
func (a *app) historySource(name string) (model.HistorySource, error) {
	if name == "" {
		name = a.cfg.Provider.History
	}
	switch name {
	case "yahoo":
		c := yahoo.New(a.cfg.Yahoo.Proxy)
		c.BaseURL = a.cfg.Yahoo.BaseURL
		return c, nil
	case "alpaca":
		if a.cfg.Alpaca.APIKey == "" || a.cfg.Alpaca.APISecret == "" {
			return nil, &model.ConfigurationError{Field: "alpaca", Reason: "ALPACA_API_KEY and ALPACA_SECRET_KEY are required"}
		}
		return a.alpacaClient(), nil
	case "sqlite":
		return a.openStore()
	}
	return nil, &model.ConfigurationError{Field: "provider", Reason: fmt.Sprintf("unknown history provider %q", name)}
}

// liveSource builds the configured live provider. "none" yields nil.
func (a *app) liveSource(ctx context.Context, hist model.HistorySource) (model.LiveSource, error) {
	switch a.cfg.Provider.Live {
	case "none":
		return nil, nil
	case "poll":
		return poller.New(hist, poller.Config{
			Every:       a.cfg.Poll.Every,
			Lookback:    a.cfg.Poll.Lookback,
			MaxFailures: a.cfg.Poll.MaxFailures,
		}, a.log), nil
	case "alpaca":
		if c, ok := hist.(*alpaca.Client); ok {
			return c, nil
		}
		return a.alpacaClient(), nil
	case "ws":
		return wsfeed.New(a.cfg.WSFeed.URL, a.log), nil
	case "redis":
		rdb, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return redisfeed.NewFeed(rdb, a.log), nil
	}
	return nil, &model.ConfigurationError{Field: "provider", Reason: fmt.Sprintf("unknown live provider %q", a.cfg.Provider.Live)}
}

// newFanout wraps live in a fanout, or returns nil when there is no live
// provider.
func (a *app) newFanout(live model.LiveSource) *fanout.Fanout {
	if live == nil {
		return nil
	}
	f := fanout.New(live, fanout.Config{
		BufferSize:      a.cfg.Fanout.BufferSize,
		StopTimeout:     a.cfg.Fanout.StopTimeout,
		BreakerFailures: a.cfg.Fanout.BreakerFailures,
		BreakerCoolDown: a.cfg.Fanout.BreakerCoolDown,
	}, a.log)
	a.onClose(func() error {
		f.Close()
		return nil
	})
	return f
}

// strategyConfig returns the configured default strategy.
func (a *app) strategyConfig() (strategy.Config, error) {
	kind, err := strategy.ParseKind(a.cfg.Strategy.Kind)
	if err != nil {
		return strategy.Config{}, err
	}
	return strategy.Config{
		Kind: kind,
		BreakRetest: strategy.Params{
			Lookback:         a.cfg.Strategy.Lookback,
			Tolerance:        a.cfg.Strategy.Tolerance,
			ConfirmationBars: a.cfg.Strategy.ConfirmationBars,
		},
		Fast: a.cfg.Strategy.Fast,
		Slow: a.cfg.Strategy.Slow,
	}, nil
}

// notifier always logs alerts and adds every configured sink.
func (a *app) notifier() (notification.Notifier, error) {
	n := notification.Multi{notification.NewLogNotifier(a.log)}
	nc := a.cfg.Notify
	if nc.Telegram.Token != "" {
		n = append(n, notification.NewTelegramNotifier(nc.Telegram.Token, nc.Telegram.ChatID, a.log))
	}
	if nc.Webhook.URL != "" {
		n = append(n, notification.NewWebhookNotifier(nc.Webhook.URL, a.log))
	}
	if len(nc.Kafka.Brokers) > 0 {
		k, err := notification.NewKafkaNotifier(notification.KafkaConfig{
			Brokers:      nc.Kafka.Brokers,
			Topic:        nc.Kafka.Topic,
			WriteTimeout: nc.Kafka.WriteTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(k.Close)
		n = append(n, k)
	}
	return n, nil
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, &model.ConfigurationError{Field: flag, Reason: fmt.Sprintf("want RFC 3339 or YYYY-MM-DD, got %q", s)}
}

func normTicker(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }
