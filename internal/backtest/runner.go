// Package backtest replays historical klines through the same entry and exit
// predicates the live trade cycle uses, producing per-symbol profit factors.
package backtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
	"pullbackbot/internal/strategy/pullback"
)

// HistorySource provides historical klines for a date range. The Binance REST
// adapter satisfies it; a CSV-backed source serves offline runs.
type HistorySource interface {
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
}

// Config holds the runner's dependencies and strategy parameters.
type Config struct {
	Source        HistorySource
	Logger        ports.Logger
	Params        pullback.Params
	ShortInterval string
	LongInterval  string
}

// Runner replays history for a set of symbols in parallel.
type Runner struct {
	cfg Config
}

// NewRunner validates the configuration and creates a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: history source is required for backtest runner", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for backtest runner", ports.ErrConfigurationError)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.ShortInterval == "" {
		cfg.ShortInterval = "5m"
	}
	if cfg.LongInterval == "" {
		cfg.LongInterval = "1h"
	}
	return &Runner{cfg: cfg}, nil
}

// SymbolResult is the outcome of one symbol's replay.
type SymbolResult struct {
	Symbol string
	// Factor is the multiplicative profit factor over the replay. A symbol
	// with no completed trades has factor 1, the identity.
	Factor float64
	Trades []*domain.Trade
}

// Result aggregates all symbol replays.
type Result struct {
	PerSymbol map[string]*SymbolResult
	// Aggregate is the sum of (factor - 1) across symbols.
	Aggregate float64
}

// Run replays historyDays of klines for every symbol, one goroutine per
// symbol. A symbol whose history cannot be fetched is logged and omitted from
// the result rather than failing the whole run.
func (r *Runner) Run(ctx context.Context, symbols []string, historyDays int) (*Result, error) {
	if historyDays <= 0 {
		return nil, fmt.Errorf("%w: historyDays must be positive, got %d", ports.ErrInvalidRequest, historyDays)
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -historyDays)

	result := &Result{PerSymbol: make(map[string]*SymbolResult, len(symbols))}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			sr, err := r.runSymbol(ctx, symbol, start, end)
			if err != nil {
				r.cfg.Logger.Warn(ctx, "Backtest symbol skipped", map[string]interface{}{
					"symbol": symbol, "error": err.Error(),
				})
				return
			}
			mu.Lock()
			result.PerSymbol[symbol] = sr
			result.Aggregate += sr.Factor - 1
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}
	r.cfg.Logger.Info(ctx, "Backtest complete", map[string]interface{}{
		"symbols": len(result.PerSymbol), "aggregate": result.Aggregate,
	})
	return result, nil
}

// runSymbol fetches the short and long interval history for one symbol and
// replays it through ReplaySeries.
func (r *Runner) runSymbol(ctx context.Context, symbol string, start, end time.Time) (*SymbolResult, error) {
	shortKlines, err := r.cfg.Source.GetKlinesRange(ctx, symbol, r.cfg.ShortInterval, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching %s history: %w", r.cfg.ShortInterval, err)
	}
	longKlines, err := r.cfg.Source.GetKlinesRange(ctx, symbol, r.cfg.LongInterval, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching %s history: %w", r.cfg.LongInterval, err)
	}
	return ReplaySeries(symbol, shortKlines, longKlines, r.cfg.Params), nil
}

// ReplaySeries walks the short series candle by candle, feeding the live
// predicates windows of exactly the lengths the live cycle snapshots. The
// long window always ends at the long candle containing the current short
// candle's open time. Entry and exit never happen on the same candle; the
// live cycle separates them by at least one tick too.
func ReplaySeries(symbol string, shortKlines, longKlines []*domain.Kline, p pullback.Params) *SymbolResult {
	sr := &SymbolResult{Symbol: symbol, Factor: 1}

	shortReq := p.ShortRequired()
	longReq := p.LongRequired()

	var pos *domain.Position
	j := -1 // index of the last long candle at or before the current short candle

	for i, k := range shortKlines {
		for j+1 < len(longKlines) && !longKlines[j+1].OpenTime.After(k.OpenTime) {
			j++
		}

		if pos != nil {
			price := k.Close
			switch pullback.EvaluateExit(pos, price) {
			case pullback.ExitStop:
				trade, _ := pullback.ApplyStopLoss(pos, price, k.CloseTime)
				trade.Paper = true
				sr.Factor *= 1 + trade.ProfitPct
				sr.Trades = append(sr.Trades, trade)
				pos = nil
			case pullback.ExitProfit:
				trade, _, done := pullback.ApplyTakeProfit(pos, price, k.CloseTime)
				trade.Paper = true
				sr.Factor *= 1 + trade.ProfitPct
				sr.Trades = append(sr.Trades, trade)
				if done {
					pos = nil
				}
			}
			continue
		}

		if i+1 < shortReq || j+1 < longReq {
			continue
		}
		shortWin := shortKlines[i+1-shortReq : i+1]
		longWin := longKlines[j+1-longReq : j+1]

		sig, _, err := pullback.EvaluateEntry(longWin, shortWin, p)
		if err != nil || sig == nil {
			continue
		}
		pos = pullback.NewPosition(symbol, sig, p, k.CloseTime)
	}
	return sr
}
