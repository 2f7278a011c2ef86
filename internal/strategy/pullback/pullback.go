// Package pullback holds the EMA pullback entry and exit rules as pure
// functions over kline snapshots. The live trade cycle and the backtest
// runner both call these and nothing else, so the two paths cannot drift.
package pullback

import (
	"fmt"
	"time"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
	"pullbackbot/internal/strategy/indicators"
)

// Entry criteria labels, reported when a criterion short-circuits the chain.
// The order matters only for diagnostic logging.
const (
	CriterionTrendFilter = "trend_filter"
	CriterionEMAStack    = "ema_stack"
	CriterionBreakout    = "breakout"
	CriterionPullback    = "pullback"
	CriterionFloor       = "floor"
	CriterionMinEdge     = "min_edge"
)

// stopLookback is the number of bars (ending at the current bar) whose
// minimum low becomes the initial stop price.
const stopLookback = 5

// Params configures the pullback strategy.
type Params struct {
	LowWindow  int // Fast EMA window (e.g. 8)
	MidWindow  int // Mid EMA window (e.g. 13)
	HighWindow int // Slow EMA window (e.g. 21)

	// MinProfitPct is the minimum implied stop distance, in percent
	// (e.g. 0.25 means riskPct*100 must exceed 0.25). Rejects setups whose
	// stop is too tight to cover fees and slippage.
	MinProfitPct float64

	// RiskMultiplier scales the first take-profit distance relative to the
	// stop distance.
	RiskMultiplier float64

	// ProfitSplitRatio is the fraction of the position kept after each
	// take-profit. Zero means a single full exit at the first target.
	ProfitSplitRatio float64
}

// Validate checks the parameter set.
func (p Params) Validate() error {
	if p.LowWindow <= 0 || p.MidWindow <= 0 || p.HighWindow <= 0 {
		return fmt.Errorf("%w: EMA windows must be positive", ports.ErrConfigurationError)
	}
	if p.LowWindow >= p.MidWindow || p.MidWindow >= p.HighWindow {
		return fmt.Errorf("%w: EMA windows must be strictly increasing (low < mid < high)", ports.ErrConfigurationError)
	}
	if p.MinProfitPct <= 0 {
		return fmt.Errorf("%w: MinProfitPct must be positive", ports.ErrConfigurationError)
	}
	if p.RiskMultiplier <= 0 {
		return fmt.Errorf("%w: RiskMultiplier must be positive", ports.ErrConfigurationError)
	}
	if p.ProfitSplitRatio < 0 || p.ProfitSplitRatio >= 1 {
		return fmt.Errorf("%w: ProfitSplitRatio must be in [0,1)", ports.ErrConfigurationError)
	}
	return nil
}

// ShortRequired returns the short-interval snapshot length the entry
// predicate expects. One extra bar beyond the slow window so the prior-bar
// EMA is computed over a full window too.
func (p Params) ShortRequired() int { return p.HighWindow + 1 }

// LongRequired returns the long-interval snapshot length the entry predicate
// expects.
func (p Params) LongRequired() int { return p.HighWindow }

// EntrySignal is the outcome of a passing entry evaluation.
type EntrySignal struct {
	EntryPrice float64
	StopPrice  float64
	RiskPct    float64 // EntryPrice/StopPrice - 1, fixed for the position's lifetime
}

// EvaluateEntry runs the ordered entry criteria chain over the two interval
// snapshots. It returns the signal when all six criteria hold, or the label
// of the first failing criterion. The snapshots must be exactly the lengths
// reported by ShortRequired/LongRequired; shorter input returns
// ErrInsufficientWindow via the indicator calls.
func EvaluateEntry(longKlines, shortKlines []*domain.Kline, p Params) (*EntrySignal, string, error) {
	longCloses := indicators.Closes(longKlines)
	shortCloses := indicators.Closes(shortKlines)

	// 1. Higher-timeframe trend filter: fast EMA above slow EMA.
	longFast, err := indicators.EMA(longCloses, p.LowWindow)
	if err != nil {
		return nil, "", err
	}
	longSlow, err := indicators.EMA(longCloses, p.HighWindow)
	if err != nil {
		return nil, "", err
	}
	if longFast <= longSlow {
		return nil, CriterionTrendFilter, nil
	}

	// 2. Short-timeframe alignment: fast > mid > slow.
	shortFast, err := indicators.EMA(shortCloses, p.LowWindow)
	if err != nil {
		return nil, "", err
	}
	shortMid, err := indicators.EMA(shortCloses, p.MidWindow)
	if err != nil {
		return nil, "", err
	}
	shortSlow, err := indicators.EMA(shortCloses, p.HighWindow)
	if err != nil {
		return nil, "", err
	}
	if shortFast <= shortMid || shortMid <= shortSlow {
		return nil, CriterionEMAStack, nil
	}

	// 3. Breakout confirmation: previous bar's high cleared the fast EMA as
	// of that bar.
	if len(shortKlines) < 2 {
		return nil, "", fmt.Errorf("%w: need at least 2 short klines", ports.ErrInsufficientWindow)
	}
	prevFast, err := indicators.EMA(shortCloses[:len(shortCloses)-1], p.LowWindow)
	if err != nil {
		return nil, "", err
	}
	prev := shortKlines[len(shortKlines)-2]
	if prev.High <= prevFast {
		return nil, CriterionBreakout, nil
	}

	current := shortKlines[len(shortKlines)-1]

	// 4. Pullback confirmation: current bar touched back into the fast EMA.
	if current.Low >= shortFast {
		return nil, CriterionPullback, nil
	}

	// 5. Floor confirmation: current bar's low stayed above the slow EMA.
	if current.Low <= shortSlow {
		return nil, CriterionFloor, nil
	}

	// 6. Minimum edge: the implied stop distance must be worth taking.
	if len(shortKlines) < stopLookback {
		return nil, "", fmt.Errorf("%w: need at least %d short klines", ports.ErrInsufficientWindow, stopLookback)
	}
	entryPrice := current.Close
	stopPrice := minLow(shortKlines[len(shortKlines)-stopLookback:])
	if stopPrice <= 0 || stopPrice >= entryPrice {
		return nil, CriterionMinEdge, nil
	}
	riskPct := entryPrice/stopPrice - 1
	if riskPct*100 <= p.MinProfitPct {
		return nil, CriterionMinEdge, nil
	}

	return &EntrySignal{
		EntryPrice: entryPrice,
		StopPrice:  stopPrice,
		RiskPct:    riskPct,
	}, "", nil
}

func minLow(klines []*domain.Kline) float64 {
	low := klines[0].Low
	for _, k := range klines[1:] {
		if k.Low < low {
			low = k.Low
		}
	}
	return low
}

// NewPosition opens a position from a signal. The first target sits
// RiskPct*RiskMultiplier above the entry.
func NewPosition(symbol string, sig *EntrySignal, p Params, now time.Time) *domain.Position {
	return &domain.Position{
		Symbol:            symbol,
		EntryPrice:        sig.EntryPrice,
		OriginalEntry:     sig.EntryPrice,
		StopPrice:         sig.StopPrice,
		TargetPrice:       sig.EntryPrice * (1 + sig.RiskPct*p.RiskMultiplier),
		RiskPct:           sig.RiskPct,
		RiskMultiplier:    p.RiskMultiplier,
		ProfitSplitRatio:  p.ProfitSplitRatio,
		EntryTime:         now,
		PartialExitIndex:  1,
		RemainingFraction: 1,
	}
}

// ExitAction is the decision for a held position at the current price.
type ExitAction int

const (
	ExitNone ExitAction = iota
	ExitStop
	ExitProfit
)

// EvaluateExit compares the current price against the position's stop and
// target. Exits happen only on one of the two thresholds.
func EvaluateExit(pos *domain.Position, price float64) ExitAction {
	switch {
	case price < pos.StopPrice:
		return ExitStop
	case price > pos.TargetPrice:
		return ExitProfit
	default:
		return ExitNone
	}
}

// ApplyStopLoss realizes a full stop exit. The realized profit is -RiskPct on
// a position that never banked a partial profit, and zero otherwise: after
// the first partial target the stop has already ratcheted to break-even.
// soldFraction is the share of the original quantity sold (all of what
// remains).
func ApplyStopLoss(pos *domain.Position, price float64, now time.Time) (trade *domain.Trade, soldFraction float64) {
	profit := 0.0
	if pos.FirstExit() {
		profit = -pos.RiskPct
	}
	soldFraction = pos.RemainingFraction
	pos.RemainingFraction = 0

	return &domain.Trade{
		Symbol:           pos.Symbol,
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        price,
		EntryTime:        pos.EntryTime,
		ExitTime:         now,
		Side:             domain.StopExitTag,
		ProfitPct:        profit,
		ProfitSplitRatio: pos.ProfitSplitRatio,
		RiskMultiplier:   pos.RiskMultiplier,
		Volatility:       pos.Volatility,
		Volume24h:        pos.Volume24h,
		PriceChange24h:   pos.PriceChange24h,
	}, soldFraction
}

// ApplyTakeProfit realizes one take-profit slice. With a zero split ratio the
// whole position exits at the first target. Otherwise the sold slice banks
// (price/entry - 1) * (1-ratio)/partialExitIndex and the remainder ratchets:
// stop to the old entry (break-even), entry to the old target, target one
// RiskPct above the new entry. The stop never moves backward and the target
// strictly increases across slices.
func ApplyTakeProfit(pos *domain.Position, price float64, now time.Time) (trade *domain.Trade, soldFraction float64, done bool) {
	idx := pos.PartialExitIndex
	profit := (price/pos.EntryPrice - 1) * (1 - pos.ProfitSplitRatio) / float64(idx)

	trade = &domain.Trade{
		Symbol:           pos.Symbol,
		EntryPrice:       pos.EntryPrice,
		ExitPrice:        price,
		EntryTime:        pos.EntryTime,
		ExitTime:         now,
		Side:             domain.ProfitExitTag(idx),
		ProfitPct:        profit,
		ProfitSplitRatio: pos.ProfitSplitRatio,
		RiskMultiplier:   pos.RiskMultiplier,
		Volatility:       pos.Volatility,
		Volume24h:        pos.Volume24h,
		PriceChange24h:   pos.PriceChange24h,
	}

	if pos.ProfitSplitRatio == 0 {
		soldFraction = pos.RemainingFraction
		pos.RemainingFraction = 0
		return trade, soldFraction, true
	}

	soldFraction = pos.RemainingFraction * (1 - pos.ProfitSplitRatio)
	pos.RemainingFraction *= pos.ProfitSplitRatio
	pos.Quantity *= pos.ProfitSplitRatio

	pos.StopPrice = pos.EntryPrice
	pos.EntryPrice = pos.TargetPrice
	pos.TargetPrice = pos.EntryPrice * (1 + pos.RiskPct)
	pos.PartialExitIndex++

	return trade, soldFraction, false
}
