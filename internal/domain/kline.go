package domain

import "time"

// Kline represents a single candlestick data point.
type Kline struct {
	OpenTime   time.Time // Start time of the interval
	CloseTime  time.Time // End time of the interval
	Symbol     string    // Trading symbol
	Interval   string    // Kline interval (e.g., "5m", "1h")
	Open       float64   // Opening price
	High       float64   // Highest price
	Low        float64   // Lowest price
	Close      float64   // Closing price
	Volume     float64   // Trading volume
	TradeCount int64     // Number of trades in the interval
	IsFinal    bool      // Whether this kline is closed for its interval
}

// IntervalDuration converts a Binance interval string ("5m", "1h", ...) into
// a time.Duration. Unknown intervals return zero.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	default:
		return 0
	}
}
