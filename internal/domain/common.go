package domain

import "fmt"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// TradeState is the lifecycle state of a symbol's trade cycle. A cycle is
// created in Scanning, moves to Holding on a filled entry and back to
// Scanning when the position is fully closed. The cycle itself is never
// destroyed between trades, only re-armed.
type TradeState int

const (
	StateScanning TradeState = iota
	StateHolding
	StateExiting
)

// String returns the string representation of the TradeState.
func (s TradeState) String() string {
	switch s {
	case StateScanning:
		return "SCANNING"
	case StateHolding:
		return "HOLDING"
	case StateExiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// StopExitTag marks a stop-loss exit in the ledger.
const StopExitTag = "S"

// ProfitExitTag returns the ledger side tag for the n-th take-profit slice
// of a position ("P1", "P2", ...).
func ProfitExitTag(n int) string {
	return fmt.Sprintf("P%d", n)
}
