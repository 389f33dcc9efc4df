package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Raziel0714/daisyStockAnalysis/internal/logger"
	"github.com/Raziel0714/daisyStockAnalysis/internal/marketdata/fanout"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
	"github.com/Raziel0714/daisyStockAnalysis/internal/signals"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Server exposes the signal service over HTTP and websocket.
type Server struct {
	svc      *signals.Service
	fan      *fanout.Fanout
	defaults Defaults
	log      *slog.Logger

	// Health and Metrics are mounted on /healthz and /metrics when set.
	Health  http.Handler
	Metrics http.Handler
}

// NewServer creates a server. fan may be nil; /ws/bars then answers 502
// and /api/streams lists nothing.
func NewServer(svc *signals.Service, fan *fanout.Fanout, defaults Defaults, log *slog.Logger) *Server {
	return &Server{svc: svc, fan: fan, defaults: defaults, log: log.With("component", "gateway")}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// Routes registers all HTTP routes on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/ohlc", s.traced(s.handleOHLC))
	mux.HandleFunc("GET /api/ohlc/recent", s.traced(s.handleRecent))
	mux.HandleFunc("GET /api/streams", s.handleStreams)
	mux.HandleFunc("GET /ws/bars", s.traced(s.handleBars))
	if s.Health != nil {
		mux.Handle("GET /healthz", s.Health)
	} else {
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})
	}
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	return mux
}

// traced attaches a trace id to the request context.
func (s *Server) traced(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, traceID := logger.EnsureTraceID(r.Context())
		w.Header().Set("X-Trace-Id", traceID)
		h(w, r.WithContext(ctx))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps bad input to 400 and every other failure to 502.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var cfgErr *model.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeJSON(w, http.StatusBadRequest, ErrorOut{Error: cfgErr.Error(), Field: cfgErr.Field})
		return
	}
	logger.With(ctx, s.log).Warn("request failed", "error", err)
	writeJSON(w, http.StatusBadGateway, ErrorOut{Error: err.Error()})
}

// GET /api/ohlc?ticker=AAPL&start=2026-01-02&end=2026-03-31&interval=1d&strategy=break_retest
func (s *Server) handleOHLC(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	ctx := r.Context()
	q := r.URL.Query()

	query := signals.Query{Ticker: tickerParam(q)}
	var err error
	if query.Interval, err = intervalParam(q, s.defaults.Interval); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if query.Start, err = timeParam(q, "start"); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if query.End, err = timeParam(q, "end"); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if query.Strategy, err = strategyParams(q, s.defaults.Strategy); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	res, err := s.svc.Analyze(ctx, query)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/ohlc/recent?ticker=AAPL&period=5d&interval=5m
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	ctx := r.Context()
	q := r.URL.Query()

	query := signals.RecentQuery{Ticker: tickerParam(q)}
	var err error
	if query.Interval, err = intervalParam(q, s.defaults.Interval); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if query.Period, err = periodParam(q, "period", s.defaults.Period); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if query.Strategy, err = strategyParams(q, s.defaults.Strategy); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	res, err := s.svc.Recent(ctx, query)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/streams
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	out := StreamsOut{Upstreams: []fanout.UpstreamStat{}}
	if s.fan != nil {
		out.Upstreams = append(out.Upstreams, s.fan.Stats()...)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /ws/bars?ticker=AAPL&interval=1m&warmup=1d
//
// Parameters are validated and the session opened before the upgrade, so
// bad input still gets a plain HTTP error.
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	lq := signals.LiveQuery{Ticker: tickerParam(q)}
	var err error
	if lq.Interval, err = intervalParam(q, s.defaults.Interval); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if lq.Warmup, err = periodParam(q, "warmup", s.defaults.Warmup); err != nil {
		s.writeError(ctx, w, err)
		return
	}
	if lq.Strategy, err = strategyParams(q, s.defaults.Strategy); err != nil {
		s.writeError(ctx, w, err)
		return
	}

	sess, err := s.svc.OpenSession(ctx, lq)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close()
		logger.With(ctx, s.log).Warn("ws upgrade failed", "error", err)
		return
	}

	c := newClient(conn, sess, string(lq.Strategy.Kind), logger.With(ctx, s.log).With("session_id", sess.ID))
	c.run(ctx)
}
