// Package redisfeed carries finished bars over Redis pub/sub. A producer
// (cmd/barserver, or any process holding a broker connection) publishes
// with Publisher; Feed is the consuming model.LiveSource.
//
// Channel: bars:{interval}:{TICKER}, payload: model.Bar as JSON.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Channel returns the pub/sub channel for a ticker and interval.
func Channel(ticker string, interval model.Interval) string {
	return "bars:" + interval.String() + ":" + strings.ToUpper(ticker)
}

// Connect creates a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// ──────────────────────────────────────────────────────────────
// Publisher
// ──────────────────────────────────────────────────────────────

// Publisher publishes bars.
type Publisher struct {
	client *goredis.Client
}

// NewPublisher wraps a connected client.
func NewPublisher(client *goredis.Client) *Publisher {
	return &Publisher{client: client}
}

// Publish sends one bar. It returns the number of receivers.
func (p *Publisher) Publish(ctx context.Context, ticker string, interval model.Interval, b model.Bar) (int64, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return 0, err
	}
	n, err := p.client.Publish(ctx, Channel(ticker, interval), data).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish %s: %w", ticker, err)
	}
	return n, nil
}

// ──────────────────────────────────────────────────────────────
// Feed
// ──────────────────────────────────────────────────────────────

// Feed implements model.LiveSource with one pub/sub subscription per
// stream.
type Feed struct {
	client     *goredis.Client
	log        *slog.Logger
	BufferSize int
}

var _ model.LiveSource = (*Feed)(nil)

// NewFeed wraps a connected client.
func NewFeed(client *goredis.Client, log *slog.Logger) *Feed {
	return &Feed{client: client, log: log.With("component", "redisfeed"), BufferSize: 64}
}

// OpenLiveStream implements model.LiveSource.
func (f *Feed) OpenLiveStream(ctx context.Context, ticker string, interval model.Interval) (<-chan model.BarEvent, model.StopFunc, error) {
	if ticker == "" {
		return nil, nil, &model.ConfigurationError{Field: "ticker", Reason: "must not be empty"}
	}
	if err := interval.Validate(); err != nil {
		return nil, nil, err
	}

	channel := Channel(ticker, interval)
	ps := f.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan model.BarEvent, f.BufferSize)
	done := make(chan struct{})
	go f.pump(ctx, ps, out, done, channel)

	f.log.Info("subscribed", "channel", channel)

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	return out, stop, nil
}

func (f *Feed) pump(ctx context.Context, ps *goredis.PubSub, out chan<- model.BarEvent, done chan<- struct{}, channel string) {
	defer close(done)
	defer close(out)
	defer ps.Close()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				select {
				case out <- model.BarEvent{Err: fmt.Errorf("redis subscription %s closed", channel)}:
				case <-ctx.Done():
				}
				return
			}
			b, err := Decode(msg.Payload)
			if err != nil {
				f.log.Warn("bad payload", "channel", channel, "err", err)
				continue
			}
			select {
			case out <- model.BarEvent{Bar: b}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Decode parses and validates one payload.
func Decode(payload string) (model.Bar, error) {
	var b model.Bar
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return model.Bar{}, fmt.Errorf("decode bar: %w", err)
	}
	if err := b.Validate(); err != nil {
		return model.Bar{}, err
	}
	return b, nil
}
