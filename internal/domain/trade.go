package domain

import "time"

// Trade is one completed exit event appended to the ledger. A position that
// takes staged profits produces several Trade records ("P1", "P2", ..., and
// possibly a final "S"); each record is immutable once appended.
type Trade struct {
	ID               int64 // Assigned by the ledger
	Symbol           string
	EntryPrice       float64
	ExitPrice        float64
	EntryTime        time.Time
	ExitTime         time.Time
	Side             string  // StopExitTag or ProfitExitTag(n)
	ProfitPct        float64 // Realized profit of this slice, fractional (0.05 = 5%)
	ProfitSplitRatio float64
	RiskMultiplier   float64

	// Diagnostic fields for offline analysis.
	Volatility     float64
	Volume24h      float64
	PriceChange24h float64
	Paper          bool
}
