// Command barserver is a demo market-data server. It random-walks 1m bars
// for a few tickers on a simulated clock and streams them over the wsfeed
// protocol, resampled to whatever interval each client subscribes to.
// When BAR_REDIS_ADDR is set it also publishes the bars to Redis.
//
//	BAR_SERVER_ADDR      listen address (default :9001)
//	BAR_TICKERS          TICKER:PRICE pairs (default AAPL:190,MSFT:420,NVDA:120)
//	BAR_EVERY_MS         real milliseconds per simulated minute (default 1000)
//	BAR_REDIS_ADDR       optional Redis address
//	BAR_REDIS_INTERVALS  intervals published to Redis (default 1m,5m)
//	LOG_LEVEL            debug, info, warn or error
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/logger"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/redisfeed"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/resample"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

var baseInterval = model.Interval{Count: 1, Unit: model.Minute}

type instrument struct {
	Ticker string
	Price  float64
}

// ─── Generator ────────────────────────────────────────────────────────────────

// walkBar builds the next 1m bar from the previous close with a small
// random walk (±0.1% per bar).
func walkBar(rng *rand.Rand, ts time.Time, prev float64) model.Bar {
	open := prev
	last := open * (1 + (rng.Float64()*0.2-0.1)/100)
	if last < 0.01 {
		last = 0.01
	}
	wick := open * rng.Float64() * 0.0005
	return model.Bar{
		TS:     ts,
		Open:   round2(open),
		High:   round2(math.Max(open, last) + wick),
		Low:    round2(math.Max(0.01, math.Min(open, last)-wick)),
		Close:  round2(last),
		Volume: float64(rng.Intn(5000) + 100),
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// generator advances a simulated clock one minute per step.
type generator struct {
	rng         *rand.Rand
	instruments []instrument
	clock       time.Time
}

func newGenerator(instruments []instrument, start time.Time, seed int64) *generator {
	return &generator{
		rng:         rand.New(rand.NewSource(seed)),
		instruments: instruments,
		clock:       start.UTC().Truncate(time.Minute),
	}
}

// step returns one finished bar per instrument.
func (g *generator) step() map[string]model.Bar {
	out := make(map[string]model.Bar, len(g.instruments))
	for i := range g.instruments {
		b := walkBar(g.rng, g.clock, g.instruments[i].Price)
		g.instruments[i].Price = b.Close
		out[g.instruments[i].Ticker] = b
	}
	g.clock = g.clock.Add(time.Minute)
	return out
}

// ─── Redis publishing ─────────────────────────────────────────────────────────

type redisSink struct {
	pub       *redisfeed.Publisher
	intervals []model.Interval
	rs        map[string]*resample.Resampler // ticker/interval
	log       *slog.Logger
}

func newRedisSink(pub *redisfeed.Publisher, intervals []model.Interval, log *slog.Logger) *redisSink {
	return &redisSink{pub: pub, intervals: intervals, rs: make(map[string]*resample.Resampler), log: log}
}

func (s *redisSink) publish(ctx context.Context, ticker string, bar model.Bar) {
	for _, iv := range s.intervals {
		out := bar
		if iv != baseInterval {
			key := ticker + "/" + iv.String()
			r, ok := s.rs[key]
			if !ok {
				r = resample.New(iv)
				s.rs[key] = r
			}
			done, ok := r.Push(bar)
			if !ok {
				continue
			}
			out = done
		}
		if _, err := s.pub.Publish(ctx, ticker, iv, out); err != nil {
			s.log.Warn("redis publish failed", "ticker", ticker, "interval", iv.String(), "error", err)
		}
	}
}

func runGenerator(ctx context.Context, h *hub, g *generator, every time.Duration, sink *redisSink) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for sym, bar := range g.step() {
			h.broadcast(sym, bar)
			if sink != nil {
				sink.publish(ctx, sym, bar)
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	level, err := logger.ParseLevel(envOrDefault("LOG_LEVEL", "info"))
	if err != nil {
		level = slog.LevelInfo
	}
	log := logger.Init("barserver", level)

	addr := envOrDefault("BAR_SERVER_ADDR", ":9001")
	instruments := parseInstruments(envOrDefault("BAR_TICKERS", "AAPL:190,MSFT:420,NVDA:120"), log)
	if len(instruments) == 0 {
		log.Error("no instruments configured via BAR_TICKERS")
		os.Exit(1)
	}
	every := time.Duration(envIntOrDefault("BAR_EVERY_MS", 1000)) * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink *redisSink
	if raddr := os.Getenv("BAR_REDIS_ADDR"); raddr != "" {
		rdb, err := redisfeed.Connect(ctx, redisfeed.Config{Addr: raddr})
		if err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		intervals, err := parseIntervals(envOrDefault("BAR_REDIS_INTERVALS", "1m,5m"))
		if err != nil {
			log.Error("bad BAR_REDIS_INTERVALS", "error", err)
			os.Exit(1)
		}
		sink = newRedisSink(redisfeed.NewPublisher(rdb), intervals, log)
		log.Info("publishing to redis", "addr", raddr, "intervals", len(intervals))
	}

	tickers := make([]string, len(instruments))
	for i, in := range instruments {
		tickers[i] = in.Ticker
	}
	h := newHub(tickers, log)
	g := newGenerator(instruments, time.Now(), time.Now().UnixNano())
	go runGenerator(ctx, h, g, every, sink)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok","service":"barserver"}`)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", "addr", addr, "tickers", tickers, "every", every.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// parseInstruments reads TICKER:PRICE pairs. A missing price starts at 100.
func parseInstruments(s string, log *slog.Logger) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, _ := strings.Cut(part, ":")
		sym = strings.ToUpper(strings.TrimSpace(sym))
		price := 100.0
		if priceStr != "" {
			p, err := strconv.ParseFloat(strings.TrimSpace(priceStr), 64)
			if err != nil || p <= 0 {
				log.Warn("skipping invalid ticker spec", "spec", part)
				continue
			}
			price = p
		}
		result = append(result, instrument{Ticker: sym, Price: price})
	}
	return result
}

func parseIntervals(s string) ([]model.Interval, error) {
	var out []model.Interval
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		iv, err := model.ParseInterval(part)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
