package domain

import "time"

// Position represents a single open long position managed by a trade cycle.
// EntryPrice, StopPrice and TargetPrice are rewritten on each partial
// take-profit (the ratchet); RiskPct is fixed at entry and never re-derived
// from the current price.
type Position struct {
	Symbol            string
	EntryPrice        float64 // Current reference entry (advances on each partial exit)
	OriginalEntry     float64 // Entry price of the very first fill
	StopPrice         float64 // Ratchets forward only, never loosens
	TargetPrice       float64
	RiskPct           float64 // entry/stop - 1 at the time of entry
	RiskMultiplier    float64
	ProfitSplitRatio  float64
	EntryTime         time.Time
	PartialExitIndex  int     // 1 before the first exit event
	RemainingFraction float64 // Fraction of the original quantity still held
	Quantity          float64 // Base-asset quantity actually filled (0 in paper mode)

	// Diagnostics captured at entry, carried onto every ledger record.
	Volatility     float64 // StdDev of recent short-interval closes
	Volume24h      float64
	PriceChange24h float64
}

// FirstExit reports whether no partial exit has happened yet for this
// position. A stop hit after a banked partial profit realizes zero on the
// remainder because the stop has been ratcheted to break-even.
func (p *Position) FirstExit() bool {
	return p.PartialExitIndex <= 1
}
