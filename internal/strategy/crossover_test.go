package strategy

import (
	"testing"
	"time"

	"github.com/Raziel0714/daisyStockAnalysis/internal/indicator"
	"github.com/Raziel0714/daisyStockAnalysis/internal/model"
)

func maRows(fast, slow []model.Value) []model.IndicatorRow {
	rows := make([]model.IndicatorRow, len(fast))
	for i := range fast {
		rows[i] = model.IndicatorRow{
			Bar:  model.Bar{TS: t0.Add(time.Duration(i) * time.Hour), Close: 100},
			Cols: map[string]model.Value{"MA10": fast[i], "MA30": slow[i]},
		}
	}
	return rows
}

func vals(xs ...float64) []model.Value {
	out := make([]model.Value, len(xs))
	for i, x := range xs {
		out[i] = model.Some(x)
	}
	return out
}

func TestDetectCrossover(t *testing.T) {
	fast := vals(1, 2, 3, 3, 2, 1)
	slow := vals(2, 2, 2, 3, 3, 3)
	events := DetectCrossover(maRows(fast, slow), "MA10", "MA30")

	wantBuy := []bool{false, false, true, false, false, false}
	wantSell := []bool{false, false, false, false, true, false}
	for i, ev := range events {
		if ev.Buy != wantBuy[i] || ev.Sell != wantSell[i] {
			t.Errorf("row %d: buy=%v sell=%v, want %v %v", i, ev.Buy, ev.Sell, wantBuy[i], wantSell[i])
		}
		if ev.Regime != Neutral {
			t.Errorf("row %d: regime %v", i, ev.Regime)
		}
	}
}

func TestDetectCrossover_UndefinedSuppressesEvent(t *testing.T) {
	fast := []model.Value{model.None(), model.Some(3), model.Some(1), model.None(), model.Some(5)}
	slow := []model.Value{model.Some(2), model.Some(2), model.Some(2), model.Some(2), model.Some(2)}
	for i, ev := range DetectCrossover(maRows(fast, slow), "MA10", "MA30") {
		switch i {
		case 2:
			if !ev.Sell {
				t.Errorf("row 2 should sell")
			}
		default:
			if ev.Buy || ev.Sell {
				t.Errorf("row %d: event with an undefined neighbour", i)
			}
		}
	}
}

func TestCrossover_StreamingMatchesBatch(t *testing.T) {
	rows := maRows(vals(1, 2, 3, 2, 1, 2, 4), vals(2, 2, 2, 2, 2, 2, 2))
	batch := DetectCrossover(rows, "MA10", "MA30")
	live := Run(NewCrossover("MA10", "MA30"), rows)
	for i := range batch {
		if batch[i] != live[i] {
			t.Fatalf("row %d: batch %+v vs live %+v", i, batch[i], live[i])
		}
	}
}

func TestNew_SelectsStrategy(t *testing.T) {
	cfg := DefaultConfig()
	s, err := New(cfg)
	if err != nil || s.Name() != "break_retest" {
		t.Fatalf("default: %v %v", s, err)
	}
	cfg.Kind = KindCrossover
	if s, err = New(cfg); err != nil || s.Name() != "ma_crossover" {
		t.Fatalf("crossover: %v %v", s, err)
	}
	if _, err := ParseKind("momentum"); !model.IsConfigurationError(err) {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestLastSignal(t *testing.T) {
	rows := maRows(vals(1, 3), vals(2, 2))
	events := DetectCrossover(rows, "MA10", "MA30")
	sig, ok := LastSignal("ma_crossover", "AAPL", rows, events)
	if !ok || sig.Action != ActionBuy || !sig.TS.Equal(rows[1].TS) {
		t.Fatalf("got %+v ok=%v", sig, ok)
	}
	if _, ok := LastSignal("ma_crossover", "AAPL", rows[:1], events[:1]); ok {
		t.Fatal("no signal expected on a quiet last row")
	}
}

func vSeries(t *testing.T, n int) *model.BarSeries {
	t.Helper()
	bars := make([]model.Bar, n)
	for i := range bars {
		c := 100 - float64(i)
		if i >= n/2 {
			c = 100 - float64(n/2) + float64(i-n/2)*2
		}
		bars[i] = model.Bar{TS: t0.Add(time.Duration(i) * time.Minute), Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	s, dropped := model.NewBarSeries("AAPL", model.MustInterval("1m"), bars)
	if dropped != 0 {
		t.Fatalf("dropped %d bars", dropped)
	}
	return s
}

func TestCrossover_CustomAverageColumns(t *testing.T) {
	for _, tc := range []struct{ fast, slow string }{{"MA10", "MA30"}, {"MA5", "MA20"}, {"EMA8", "MA21"}} {
		cfg := DefaultConfig()
		cfg.Kind, cfg.Fast, cfg.Slow = KindCrossover, tc.fast, tc.slow
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s/%s: %v", tc.fast, tc.slow, err)
		}
		rows, err := indicator.Compute(vSeries(t, 80), cfg.Requests()...)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.fast, tc.slow, err)
		}
		s, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		buys := 0
		for _, ev := range Run(s, rows) {
			if ev.Buy {
				buys++
			}
		}
		if buys != 1 {
			t.Errorf("%s/%s: %d buys, want 1", tc.fast, tc.slow, buys)
		}
	}
}

func TestConfigValidate_RejectsUncomputedColumns(t *testing.T) {
	for _, tc := range []struct{ fast, slow string }{{"MA0", "MA30"}, {"MA10", "FOO"}, {"MA010", "MA30"}, {"BB_MA7", "MA30"}} {
		cfg := DefaultConfig()
		cfg.Kind, cfg.Fast, cfg.Slow = KindCrossover, tc.fast, tc.slow
		if err := cfg.Validate(); !model.IsConfigurationError(err) {
			t.Errorf("%s/%s: got %v, want configuration error", tc.fast, tc.slow, err)
		}
	}
	cfg := DefaultConfig()
	cfg.Kind, cfg.Fast, cfg.Slow = KindCrossover, indicator.ColMACD, indicator.ColMACDSignal
	if err := cfg.Validate(); err != nil {
		t.Errorf("default columns: %v", err)
	}
}
