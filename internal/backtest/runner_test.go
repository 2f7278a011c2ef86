package backtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/marketdata"
	"pullbackbot/internal/ports"
	"pullbackbot/internal/strategy/pullback"
	"pullbackbot/internal/trade"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type memLedger struct {
	trades []*domain.Trade
}

func (l *memLedger) Append(ctx context.Context, rec *domain.Trade) (int64, error) {
	l.trades = append(l.trades, rec)
	return int64(len(l.trades)), nil
}
func (l *memLedger) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return nil, nil
}
func (l *memLedger) FindAll(ctx context.Context) ([]*domain.Trade, error) { return l.trades, nil }
func (l *memLedger) TotalProfitPct(ctx context.Context) (float64, error)  { return 0, nil }
func (l *memLedger) CountToday(ctx context.Context, symbol string) (int, error) {
	return len(l.trades), nil
}

func replayParams() pullback.Params {
	return pullback.Params{
		LowWindow:        2,
		MidWindow:        3,
		HighWindow:       4,
		MinProfitPct:     0.5,
		RiskMultiplier:   2,
		ProfitSplitRatio: 0.5,
	}
}

var replayBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func shortSeries() []*domain.Kline {
	// Ramp up into an entry, spike through the first target, collapse
	// through the ratcheted stop, then trend down with no re-entry.
	closes := []float64{
		100, 102, 104, 106, 108, 110, 112, 114, 116, 118,
		120, 122, 124, 126, 128, 130, 106, 104, 102, 100, 98,
	}
	out := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		open := replayBase.Add(time.Duration(i) * 5 * time.Minute)
		out[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(5*time.Minute - time.Millisecond),
			Symbol:    "ETHUSDT",
			Interval:  "5m",
			Open:      c,
			High:      c + 1,
			Low:       c - 1.5,
			Close:     c,
			IsFinal:   true,
		}
	}
	return out
}

func longSeries() []*domain.Kline {
	closes := []float64{100, 110, 120, 130, 140}
	out := make([]*domain.Kline, len(closes))
	for i, c := range closes {
		open := replayBase.Add(time.Duration(i-3) * time.Hour)
		out[i] = &domain.Kline{
			OpenTime:  open,
			CloseTime: open.Add(time.Hour - time.Millisecond),
			Symbol:    "ETHUSDT",
			Interval:  "1h",
			Open:      c,
			High:      c + 1,
			Low:       c - 1.5,
			Close:     c,
			IsFinal:   true,
		}
	}
	return out
}

func TestReplaySeriesProducesStagedTrades(t *testing.T) {
	sr := ReplaySeries("ETHUSDT", shortSeries(), longSeries(), replayParams())

	require.Len(t, sr.Trades, 2)
	first, second := sr.Trades[0], sr.Trades[1]

	assert.Equal(t, domain.ProfitExitTag(1), first.Side)
	assert.InDelta(t, (130.0/108.0-1)*0.5, first.ProfitPct, 1e-9)
	assert.Equal(t, 130.0, first.ExitPrice)

	assert.Equal(t, domain.StopExitTag, second.Side)
	assert.Equal(t, 0.0, second.ProfitPct, "post-partial stop exits at break-even")

	want := (1 + first.ProfitPct) * (1 + second.ProfitPct)
	assert.InDelta(t, want, sr.Factor, 1e-9)
}

func TestReplaySeriesNoTradesIsIdentity(t *testing.T) {
	// A falling series never passes the entry criteria.
	short := shortSeries()
	for i, k := range short {
		k.Open, k.Close = 200-float64(i)*2, 200-float64(i)*2
		k.High, k.Low = k.Close+1, k.Close-1.5
	}
	sr := ReplaySeries("ETHUSDT", short, longSeries(), replayParams())
	assert.Empty(t, sr.Trades)
	assert.Equal(t, 1.0, sr.Factor, "no trades is the identity factor, not an error")
}

// The replay and a paper trade cycle fed the same candles in the same order
// must make identical decisions and realize identical profits.
func TestReplayMatchesLivePaperCycle(t *testing.T) {
	params := replayParams()
	shortKlines := shortSeries()
	longKlines := longSeries()

	sr := ReplaySeries("ETHUSDT", shortKlines, longKlines, params)
	require.NotEmpty(t, sr.Trades, "fixture must produce trades for the comparison to mean anything")

	shortCache := marketdata.NewKlineCache("ETHUSDT", "5m", 100)
	longCache := marketdata.NewKlineCache("ETHUSDT", "1h", 100)
	ledger := &memLedger{}
	cycle, err := trade.NewCycle(trade.CycleConfig{
		Symbol:        "ETHUSDT",
		ShortInterval: "5m",
		LongInterval:  "1h",
		Params:        params,
		Paper:         true,
	}, nopLogger{}, nil, ledger, trade.NewAdmission(1), shortCache, longCache)
	require.NoError(t, err)

	ctx := context.Background()
	j := 0
	for _, k := range shortKlines {
		for j < len(longKlines) && !longKlines[j].OpenTime.After(k.OpenTime) {
			longCache.Append(longKlines[j])
			j++
		}
		shortCache.Append(k)

		err := cycle.Step(ctx, k.CloseTime)
		if err != nil {
			// Warmup ticks fail on data sufficiency exactly like live ones.
			require.ErrorIs(t, err, ports.ErrInsufficientHistory)
		}
	}

	require.Len(t, ledger.trades, len(sr.Trades))
	for i, want := range sr.Trades {
		got := ledger.trades[i]
		assert.Equal(t, want.Side, got.Side, "trade %d", i)
		assert.InDelta(t, want.ProfitPct, got.ProfitPct, 1e-12, "trade %d", i)
		assert.InDelta(t, want.EntryPrice, got.EntryPrice, 1e-12, "trade %d", i)
		assert.InDelta(t, want.ExitPrice, got.ExitPrice, 1e-12, "trade %d", i)
		assert.True(t, want.EntryTime.Equal(got.EntryTime), "trade %d entry time", i)
		assert.True(t, want.ExitTime.Equal(got.ExitTime), "trade %d exit time", i)
	}
}

// scriptedSource serves fixed series regardless of the requested range.
type scriptedSource struct {
	short []*domain.Kline
	long  []*domain.Kline
	err   error
}

func (s *scriptedSource) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	if s.err != nil {
		return nil, s.err
	}
	if interval == "1h" {
		return s.long, nil
	}
	return s.short, nil
}

func TestRunnerRunAggregatesSymbols(t *testing.T) {
	runner, err := NewRunner(Config{
		Source: &scriptedSource{short: shortSeries(), long: longSeries()},
		Logger: nopLogger{},
		Params: replayParams(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), []string{"ETHUSDT", "BTCUSDT"}, 7)
	require.NoError(t, err)
	require.Len(t, result.PerSymbol, 2)

	factor := result.PerSymbol["ETHUSDT"].Factor
	assert.InDelta(t, factor, result.PerSymbol["BTCUSDT"].Factor, 1e-12, "same series, same factor")
	assert.InDelta(t, 2*(factor-1), result.Aggregate, 1e-9)
}

func TestRunnerSkipsFailingSymbol(t *testing.T) {
	runner, err := NewRunner(Config{
		Source: &scriptedSource{err: ports.ErrExchangeUnavailable},
		Logger: nopLogger{},
		Params: replayParams(),
	})
	require.NoError(t, err)

	result, err := runner.Run(context.Background(), []string{"ETHUSDT"}, 7)
	require.NoError(t, err)
	assert.Empty(t, result.PerSymbol, "a symbol whose history fails is omitted, not fatal")
	assert.Zero(t, result.Aggregate)
}

func TestRunnerRejectsNonPositiveDays(t *testing.T) {
	runner, err := NewRunner(Config{
		Source: &scriptedSource{},
		Logger: nopLogger{},
		Params: replayParams(),
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), []string{"ETHUSDT"}, 0)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestLoadVariants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "variants.yaml")
	content := `variants:
  - name: conservative
    risk_multiplier: 1.0
    profit_split_ratio: 0.0
    min_profit_pct: 0.65
  - risk_multiplier: 2.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	variants, err := LoadVariants(path)
	require.NoError(t, err)
	require.Len(t, variants, 2)

	assert.Equal(t, "conservative", variants[0].Name)
	assert.Equal(t, 1.0, variants[0].RiskMultiplier)
	require.NotNil(t, variants[0].ProfitSplitRatio)
	assert.Equal(t, 0.0, *variants[0].ProfitSplitRatio, "explicit zero survives")
	require.NotNil(t, variants[0].MinProfitPct)
	assert.Equal(t, 0.65, *variants[0].MinProfitPct)

	assert.Equal(t, "variant-2", variants[1].Name, "unnamed variants get positional names")
	assert.Nil(t, variants[1].ProfitSplitRatio, "omitted fields fall back to base parameters")
}

func TestLoadVariantsRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("variants: []\n"), 0644))

	_, err := LoadVariants(path)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestRunVariantsSweep(t *testing.T) {
	runner, err := NewRunner(Config{
		Source: &scriptedSource{short: shortSeries(), long: longSeries()},
		Logger: nopLogger{},
		Params: replayParams(),
	})
	require.NoError(t, err)

	zero := 0.0
	variants := []Variant{
		{Name: "staged", RiskMultiplier: 2},
		{Name: "all-out", RiskMultiplier: 2, ProfitSplitRatio: &zero},
	}
	results, err := runner.RunVariants(context.Background(), []string{"ETHUSDT"}, 7, variants)
	require.NoError(t, err)
	require.Len(t, results, 2)

	staged := results[0].Result.PerSymbol["ETHUSDT"]
	allOut := results[1].Result.PerSymbol["ETHUSDT"]
	require.NotNil(t, staged)
	require.NotNil(t, allOut)
	assert.NotEqual(t, staged.Factor, allOut.Factor, "split ratio changes the realized outcome")
}
