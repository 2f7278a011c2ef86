package pullback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
)

func testParams() Params {
	return Params{
		LowWindow:        2,
		MidWindow:        3,
		HighWindow:       4,
		MinProfitPct:     0.5,
		RiskMultiplier:   2,
		ProfitSplitRatio: 0.5,
	}
}

func mkKlines(interval string, closes, highs, lows []float64) []*domain.Kline {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	step := domain.IntervalDuration(interval)
	out := make([]*domain.Kline, len(closes))
	for i := range closes {
		out[i] = &domain.Kline{
			OpenTime:  base.Add(time.Duration(i) * step),
			CloseTime: base.Add(time.Duration(i+1)*step - time.Millisecond),
			Symbol:    "ETHUSDT",
			Interval:  interval,
			Open:      closes[i],
			High:      highs[i],
			Low:       lows[i],
			Close:     closes[i],
			IsFinal:   true,
		}
	}
	return out
}

// passingShort builds a 5-bar short series that satisfies all six criteria
// with testParams: EMAs are fast=107, mid=106, slow=105 on the final bar and
// the fast EMA at the prior bar is 105.
func passingShort() []*domain.Kline {
	return mkKlines("5m",
		[]float64{100, 102, 104, 106, 108},
		[]float64{101, 103, 105, 107, 108.5},
		[]float64{99, 101, 103, 105, 106.5},
	)
}

func passingLong() []*domain.Kline {
	return mkKlines("1h",
		[]float64{100, 102, 104, 106},
		[]float64{101, 103, 105, 107},
		[]float64{99, 101, 103, 105},
	)
}

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		ok     bool
	}{
		{name: "valid", mutate: func(p *Params) {}, ok: true},
		{name: "zero window", mutate: func(p *Params) { p.LowWindow = 0 }},
		{name: "windows not increasing", mutate: func(p *Params) { p.MidWindow = p.HighWindow }},
		{name: "zero min profit", mutate: func(p *Params) { p.MinProfitPct = 0 }},
		{name: "zero risk multiplier", mutate: func(p *Params) { p.RiskMultiplier = 0 }},
		{name: "split ratio one", mutate: func(p *Params) { p.ProfitSplitRatio = 1 }},
		{name: "negative split ratio", mutate: func(p *Params) { p.ProfitSplitRatio = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ports.ErrConfigurationError)
			}
		})
	}
}

func TestEvaluateEntryAllCriteriaPass(t *testing.T) {
	sig, failed, err := EvaluateEntry(passingLong(), passingShort(), testParams())
	require.NoError(t, err)
	require.NotNil(t, sig, "failed criterion: %s", failed)

	assert.InDelta(t, 108, sig.EntryPrice, 1e-9)
	assert.InDelta(t, 99, sig.StopPrice, 1e-9)
	assert.InDelta(t, 108.0/99.0-1, sig.RiskPct, 1e-9)
}

func TestEvaluateEntryShortCircuits(t *testing.T) {
	tests := []struct {
		name      string
		long      func() []*domain.Kline
		short     func() []*domain.Kline
		params    func() Params
		criterion string
	}{
		{
			name: "downtrending long interval",
			long: func() []*domain.Kline {
				return mkKlines("1h",
					[]float64{106, 104, 102, 100},
					[]float64{107, 105, 103, 101},
					[]float64{105, 103, 101, 99},
				)
			},
			short:     passingShort,
			criterion: CriterionTrendFilter,
		},
		{
			name: "short EMAs not stacked",
			long: passingLong,
			short: func() []*domain.Kline {
				return mkKlines("5m",
					[]float64{108, 106, 104, 102, 100},
					[]float64{109, 107, 105, 103, 101},
					[]float64{107, 105, 103, 101, 99},
				)
			},
			criterion: CriterionEMAStack,
		},
		{
			name: "previous high never cleared the fast EMA",
			long: passingLong,
			short: func() []*domain.Kline {
				ks := passingShort()
				ks[3].High = 104 // prior-bar fast EMA is 105
				return ks
			},
			criterion: CriterionBreakout,
		},
		{
			name: "no pullback into the fast EMA",
			long: passingLong,
			short: func() []*domain.Kline {
				ks := passingShort()
				ks[4].Low = 107.5 // final-bar fast EMA is 107
				return ks
			},
			criterion: CriterionPullback,
		},
		{
			name: "low broke the trend floor",
			long: passingLong,
			short: func() []*domain.Kline {
				ks := passingShort()
				ks[4].Low = 104.9 // final-bar slow EMA is 105
				return ks
			},
			criterion: CriterionFloor,
		},
		{
			name:  "stop too tight for the configured edge",
			long:  passingLong,
			short: passingShort,
			params: func() Params {
				p := testParams()
				p.MinProfitPct = 20 // riskPct*100 is about 9.09
				return p
			},
			criterion: CriterionMinEdge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testParams()
			if tt.params != nil {
				p = tt.params()
			}
			sig, failed, err := EvaluateEntry(tt.long(), tt.short(), p)
			require.NoError(t, err)
			assert.Nil(t, sig)
			assert.Equal(t, tt.criterion, failed)
		})
	}
}

func TestEvaluateEntryMinEdgeArithmetic(t *testing.T) {
	// Entry 108 with the stop at the 5-bar minimum low. A stop of 95 implies
	// riskPct of about 13.68% and is accepted at a 10% threshold; a stop of
	// 107 implies about 0.93% and is rejected at the same threshold.
	p := testParams()
	p.MinProfitPct = 10

	t.Run("wide stop accepted", func(t *testing.T) {
		short := passingShort()
		short[0].Low = 95 // 5-bar minimum low

		sig, failed, err := EvaluateEntry(passingLong(), short, p)
		require.NoError(t, err)
		require.NotNil(t, sig, "failed criterion: %s", failed)
		assert.InDelta(t, 0.136842, sig.RiskPct, 1e-4)
	})

	t.Run("tight stop rejected", func(t *testing.T) {
		short := passingShort()
		// Every low sits just under the entry, so the implied stop distance
		// is about 1%: far below the 10% threshold. The final bar still
		// pulls back under the fast EMA (107) and stays above the slow (105).
		for _, k := range short {
			k.Low = 106.9
		}

		sig, failed, err := EvaluateEntry(passingLong(), short, p)
		require.NoError(t, err)
		assert.Nil(t, sig)
		assert.Equal(t, CriterionMinEdge, failed)
	})
}

func TestEvaluateEntryInsufficientWindow(t *testing.T) {
	short := passingShort()[:3]
	long := passingLong()[:2]
	_, _, err := EvaluateEntry(long, short, testParams())
	require.ErrorIs(t, err, ports.ErrInsufficientWindow)
}

func TestEvaluateEntryRejectsDegenerateStop(t *testing.T) {
	short := passingShort()
	for _, k := range short {
		k.Low = 0 // pathological data: stop would be zero
	}
	short[4].Low = 106.5
	short[0].Low = 0

	sig, failed, err := EvaluateEntry(passingLong(), short, testParams())
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.Equal(t, CriterionMinEdge, failed)
}

func TestNewPosition(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sig := &EntrySignal{EntryPrice: 108, StopPrice: 99, RiskPct: 108.0/99.0 - 1}
	pos := NewPosition("ETHUSDT", sig, testParams(), now)

	assert.Equal(t, "ETHUSDT", pos.Symbol)
	assert.Equal(t, 108.0, pos.EntryPrice)
	assert.Equal(t, 108.0, pos.OriginalEntry)
	assert.Equal(t, 99.0, pos.StopPrice)
	assert.InDelta(t, 108*(1+sig.RiskPct*2), pos.TargetPrice, 1e-9)
	assert.Equal(t, 1, pos.PartialExitIndex)
	assert.Equal(t, 1.0, pos.RemainingFraction)
	assert.Equal(t, now, pos.EntryTime)
}

func TestEvaluateExit(t *testing.T) {
	pos := &domain.Position{StopPrice: 90, TargetPrice: 110}
	assert.Equal(t, ExitStop, EvaluateExit(pos, 89.99))
	assert.Equal(t, ExitNone, EvaluateExit(pos, 90))
	assert.Equal(t, ExitNone, EvaluateExit(pos, 100))
	assert.Equal(t, ExitNone, EvaluateExit(pos, 110))
	assert.Equal(t, ExitProfit, EvaluateExit(pos, 110.01))
}

func TestApplyStopLossFirstExit(t *testing.T) {
	now := time.Now().UTC()
	pos := &domain.Position{
		Symbol: "ETHUSDT", EntryPrice: 100, StopPrice: 90, TargetPrice: 110,
		RiskPct: 0.1, PartialExitIndex: 1, RemainingFraction: 1,
	}

	trade, sold := ApplyStopLoss(pos, 89, now)
	assert.InDelta(t, -0.1, trade.ProfitPct, 1e-9)
	assert.Equal(t, domain.StopExitTag, trade.Side)
	assert.Equal(t, 1.0, sold)
	assert.Equal(t, 0.0, pos.RemainingFraction)
}

func TestApplyStopLossAfterPartialIsBreakEven(t *testing.T) {
	now := time.Now().UTC()
	pos := &domain.Position{
		Symbol: "ETHUSDT", EntryPrice: 110, StopPrice: 100, TargetPrice: 121,
		RiskPct: 0.1, PartialExitIndex: 2, RemainingFraction: 0.5,
	}

	trade, sold := ApplyStopLoss(pos, 99, now)
	assert.Equal(t, 0.0, trade.ProfitPct, "remainder stopped at break-even banks nothing")
	assert.Equal(t, 0.5, sold)
}

func TestApplyTakeProfitPartialAndRatchet(t *testing.T) {
	now := time.Now().UTC()
	pos := &domain.Position{
		Symbol: "ETHUSDT", EntryPrice: 100, StopPrice: 90, TargetPrice: 110,
		RiskPct: 0.1, ProfitSplitRatio: 0.5,
		PartialExitIndex: 1, RemainingFraction: 1, Quantity: 2,
	}

	trade, sold, done := ApplyTakeProfit(pos, 111, now)
	require.False(t, done)
	assert.InDelta(t, 0.055, trade.ProfitPct, 1e-9)
	assert.Equal(t, "P1", trade.Side)
	assert.InDelta(t, 0.5, sold, 1e-9)

	assert.Equal(t, 100.0, pos.StopPrice, "stop ratchets to break-even")
	assert.Equal(t, 110.0, pos.EntryPrice, "entry re-anchors at the old target")
	assert.InDelta(t, 121, pos.TargetPrice, 1e-9)
	assert.Equal(t, 2, pos.PartialExitIndex)
	assert.InDelta(t, 0.5, pos.RemainingFraction, 1e-9)
	assert.InDelta(t, 1, pos.Quantity, 1e-9)
}

func TestApplyTakeProfitZeroSplitIsFullExit(t *testing.T) {
	now := time.Now().UTC()
	pos := &domain.Position{
		Symbol: "ETHUSDT", EntryPrice: 100, StopPrice: 90, TargetPrice: 110,
		RiskPct: 0.1, ProfitSplitRatio: 0,
		PartialExitIndex: 1, RemainingFraction: 1,
	}

	trade, sold, done := ApplyTakeProfit(pos, 112, now)
	require.True(t, done)
	assert.InDelta(t, 0.12, trade.ProfitPct, 1e-9)
	assert.Equal(t, 1.0, sold)
	assert.Equal(t, 0.0, pos.RemainingFraction)
}

func TestRatchetMonotonicity(t *testing.T) {
	now := time.Now().UTC()
	pos := &domain.Position{
		Symbol: "ETHUSDT", EntryPrice: 100, StopPrice: 90, TargetPrice: 110,
		RiskPct: 0.1, ProfitSplitRatio: 0.5,
		PartialExitIndex: 1, RemainingFraction: 1, Quantity: 1,
	}

	prevStop, prevTarget := pos.StopPrice, pos.TargetPrice
	for i := 0; i < 5; i++ {
		price := pos.TargetPrice * 1.01
		_, _, done := ApplyTakeProfit(pos, price, now)
		require.False(t, done)
		assert.GreaterOrEqual(t, pos.StopPrice, prevStop, "stop must never loosen")
		assert.Greater(t, pos.TargetPrice, prevTarget, "target must strictly increase")
		prevStop, prevTarget = pos.StopPrice, pos.TargetPrice
	}
}
