package indicators

import (
	"fmt"
	"math"

	"pullbackbot/internal/domain"
	"pullbackbot/internal/ports"
)

// Pure moving-average math shared by the live trade cycles and the backtest
// runner. Everything here is stateless: callers pass a snapshot and get a
// value back, so concurrent use needs no coordination.

// SMA computes the simple moving average of the last window values.
func SMA(series []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive, got %d", window)
	}
	if len(series) < window {
		return 0, fmt.Errorf("%w: have %d values, need %d", ports.ErrInsufficientWindow, len(series), window)
	}
	total := 0.0
	for i := len(series) - window; i < len(series); i++ {
		total += series[i]
	}
	return total / float64(window), nil
}

// EMA computes the exponential moving average over the whole series, seeded
// with the SMA of the first window values.
func EMA(series []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive, got %d", window)
	}
	if len(series) < window {
		return 0, fmt.Errorf("%w: have %d values, need %d", ports.ErrInsufficientWindow, len(series), window)
	}

	multiplier := 2.0 / float64(window+1)
	ema, err := SMA(series[:window], window)
	if err != nil {
		return 0, err
	}
	for i := window; i < len(series); i++ {
		ema = (series[i]-ema)*multiplier + ema
	}
	return ema, nil
}

// StdDev computes the sample standard deviation of the last window values.
func StdDev(series []float64, window int) (float64, error) {
	if window < 2 {
		return 0, fmt.Errorf("window must be at least 2, got %d", window)
	}
	if len(series) < window {
		return 0, fmt.Errorf("%w: have %d values, need %d", ports.ErrInsufficientWindow, len(series), window)
	}

	tail := series[len(series)-window:]
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(window)

	variance := 0.0
	for _, v := range tail {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(window - 1)
	return math.Sqrt(variance), nil
}

// Closes extracts the closing prices of a kline series.
func Closes(klines []*domain.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// Lows extracts the low prices of a kline series.
func Lows(klines []*domain.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Low
	}
	return out
}
